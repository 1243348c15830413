// Package inverter maintains one TCP session per configured inverter,
// framing bytes into packets and relaying them over the shared buses.
package inverter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 5 * time.Second
	reconnectDelay = 5 * time.Second
	tcpKeepalive   = 60 * time.Second

	readBufferStart = 1024
)

// Conn is the per-inverter connection state machine. It reconnects
// forever until its context is cancelled.
type Conn struct {
	cfg          config.Inverter
	fromInverter *bus.Bus[Event]
	toInverter   *bus.Bus[Event]
	log          *slog.Logger
}

func NewConn(cfg config.Inverter, fromInverter, toInverter *bus.Bus[Event]) *Conn {
	return &Conn{
		cfg:          cfg,
		fromInverter: fromInverter,
		toInverter:   toInverter,
		log:          slog.With("inverter", cfg.Datalog.String()),
	}
}

// Start runs the connect/serve/reconnect loop until ctx is cancelled.
func (c *Conn) Start(ctx context.Context) error {
	for {
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Error("connection failed", "err", err)

		c.log.Info("reconnecting", "delay", reconnectDelay.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Stop asks the writer loop to exit. The reader follows when the socket
// is torn down.
func (c *Conn) Stop() {
	c.toInverter.Send(ShutdownEvent())
}

func (c *Conn) connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	c.log.Info("connecting", "addr", addr)

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetKeepAlive(true); err != nil {
			c.log.Warn("failed to enable TCP keepalive", "err", err)
		} else if err := tcp.SetKeepAlivePeriod(tcpKeepalive); err != nil {
			c.log.Warn("failed to set TCP keepalive period", "err", err)
		}
		if err := tcp.SetNoDelay(true); err != nil {
			c.log.Warn("failed to set TCP_NODELAY", "err", err)
		}
	}

	c.log.Info("connected")
	c.fromInverter.Send(ConnectedEvent(c.cfg.Datalog))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.reader(gctx, conn)
	})
	g.Go(func() error {
		err := c.writer(gctx, conn)
		// unblock the reader once the writer is done
		conn.Close()
		return err
	})

	err = g.Wait()
	c.fromInverter.Send(DisconnectEvent(c.cfg.Datalog))
	return err
}

// reader frames inbound bytes and fans packets out on from_inverter.
func (c *Conn) reader(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, 0, readBufferStart)
	chunk := make([]byte, readBufferStart)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(buf) >= lxp.MaxFrameSize {
			return fmt.Errorf("buffer overflow: %d bytes without a full frame", len(buf))
		}

		if c.cfg.ReadTimeout > 0 {
			deadline := time.Now().Add(time.Duration(c.cfg.ReadTimeout) * time.Second)
			if err := conn.SetReadDeadline(deadline); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			// drain whatever complete frames are left before going down
			c.drain(buf)
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("connection closed by peer")
			}
			return fmt.Errorf("read: %w", err)
		}

		buf, err = c.decodeAll(buf)
		if err != nil {
			return err
		}
	}
}

// decodeAll consumes every complete frame at the front of buf, returning
// the remainder. Per-frame parse failures are logged and skipped; only
// unrecoverable framing errors are returned.
func (c *Conn) decodeAll(buf []byte) ([]byte, error) {
	for {
		packet, n, _, err := lxp.Decode(buf)
		if err != nil {
			if n == 0 {
				return buf, err
			}
			c.log.Warn("dropping bad frame", "err", err)
			buf = buf[n:]
			continue
		}
		if packet == nil {
			return buf, nil
		}
		buf = buf[n:]
		c.handlePacket(packet)
	}
}

func (c *Conn) drain(buf []byte) {
	for {
		packet, n, _, err := lxp.Decode(buf)
		if err != nil || packet == nil {
			return
		}
		buf = buf[n:]
		c.handlePacket(packet)
	}
}

func (c *Conn) handlePacket(packet lxp.Packet) {
	c.compareDatalog(packet.PacketDatalog())
	if td, ok := packet.(lxp.TranslatedData); ok {
		c.compareInverter(td.Inverter)
	}

	if c.cfg.Heartbeats && packet.TcpFunction() == lxp.FuncHeartbeat {
		c.toInverter.Send(PacketEvent(packet))
	}

	c.fromInverter.Send(PacketEvent(packet))
}

// writer drains to_inverter onto the socket, skipping packets addressed
// to other datalogs.
func (c *Conn) writer(ctx context.Context, conn net.Conn) error {
	sub := c.toInverter.Subscribe()
	defer sub.Close()

	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				c.log.Warn("writer lagged behind to_inverter bus")
				continue
			}
			return err
		}

		switch event.Kind {
		case EventShutdown:
			c.log.Info("received shutdown signal")
			return nil
		case EventPacket:
			packet := event.Packet
			if packet.PacketDatalog() != c.cfg.Datalog {
				continue
			}

			frame := lxp.BuildFrame(packet)
			if len(frame) == 0 {
				c.log.Warn("generated empty frame", "packet", fmt.Sprintf("%v", packet))
				continue
			}

			c.log.Debug("tx", "bytes", fmt.Sprintf("% x", frame))
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			if _, err := conn.Write(frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		default:
			// Connected/Disconnect have no business on this bus
			c.log.Warn("unexpected connection status message on to_inverter")
		}
	}
}

// Serial mismatches are reported but never corrected on the wire.
func (c *Conn) compareDatalog(datalog lxp.Serial) {
	if datalog != c.cfg.Datalog {
		c.log.Warn("datalog serial mismatch - please check config",
			"packet", datalog.String(), "config", c.cfg.Datalog.String())
	}
}

func (c *Conn) compareInverter(serial lxp.Serial) {
	if serial != c.cfg.Serial {
		c.log.Warn("inverter serial mismatch - please check config",
			"packet", serial.String(), "config", c.cfg.Serial.String())
	}
}
