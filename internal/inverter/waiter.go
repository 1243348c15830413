package inverter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

// DefaultReplyTimeout bounds how long a command waits for its reply.
const DefaultReplyTimeout = 10 * time.Second

// idle backoff between polls when the bus is empty
const replyPollInterval = 5 * time.Millisecond

var (
	// ErrReplyTimeout means no matching reply arrived in time.
	ErrReplyTimeout = errors.New("timeout waiting for reply")
	// ErrInverterDown means the datalog disconnected mid-wait.
	ErrInverterDown = errors.New("inverter disconnected while waiting for reply")
	// ErrCancelled means a shutdown arrived mid-wait.
	ErrCancelled = errors.New("shutdown received while waiting for reply")
)

// WaitForReply consumes sub until a packet matching request arrives.
//
// The wire protocol has no correlation IDs, so matching is structural:
// same datalog and register, plus same device function for
// TranslatedData. The subscriber must have been created before the
// request was sent or the reply can be missed. Packets that belong to
// other in-flight commands are ignored; a Lagged subscription is
// surfaced to the caller as retryable.
func WaitForReply(ctx context.Context, sub *bus.Subscriber[Event], request lxp.Packet, timeout time.Duration) (lxp.Packet, error) {
	deadline := time.Now().Add(timeout)

	for {
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w to %v after %s", ErrReplyTimeout, request, timeout)
		}

		event, ok, err := sub.TryRecv()
		if err != nil {
			return nil, err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(replyPollInterval):
			}
			continue
		}

		switch event.Kind {
		case EventPacket:
			if reply, ok := matches(request, event.Packet); ok {
				return reply, nil
			}
			// someone else's reply, keep waiting
		case EventConnected:
			// connection status update, keep waiting
		case EventDisconnect:
			if event.Datalog == request.PacketDatalog() {
				return nil, fmt.Errorf("%w: %s", ErrInverterDown, event.Datalog)
			}
		case EventShutdown:
			return nil, ErrCancelled
		}
	}
}

func matches(request, reply lxp.Packet) (lxp.Packet, bool) {
	switch req := request.(type) {
	case lxp.TranslatedData:
		rep, ok := reply.(lxp.TranslatedData)
		if ok && req.Datalog == rep.Datalog &&
			req.Register == rep.Register &&
			req.DeviceFunction == rep.DeviceFunction {
			return rep, true
		}
	case lxp.ReadParam:
		rep, ok := reply.(lxp.ReadParam)
		if ok && req.Datalog == rep.Datalog && req.Register == rep.Register {
			return rep, true
		}
	case lxp.WriteParam:
		rep, ok := reply.(lxp.WriteParam)
		if ok && req.Datalog == rep.Datalog && req.Register == rep.Register {
			return rep, true
		}
	}
	return nil, false
}
