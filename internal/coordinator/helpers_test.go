package coordinator

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/inverter"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
	"github.com/celsworth/lxp-bridge-sub000/internal/mqtt"
)

func serial(t *testing.T, s string) lxp.Serial {
	t.Helper()
	parsed, err := lxp.ParseSerial(s)
	require.NoError(t, err)
	return parsed
}

func enabled(v bool) *bool { return &v }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Inverters: []config.Inverter{{
			Host:    "localhost",
			Port:    8000,
			Datalog: serial(t, "2222222222"),
			Serial:  serial(t, "5555555555"),
		}},
		Mqtt: config.Mqtt{
			Enabled:   enabled(true),
			Host:      "localhost",
			Port:      1883,
			Namespace: "lxp",
		},
		Influx: config.Influx{
			Enabled:  enabled(true),
			URL:      "http://localhost:8086",
			Database: "lxp",
		},
		Databases: []config.Database{{
			Enabled: enabled(true),
			URL:     "sqlite://:memory:",
		}},
	}
}

func testCoordinator(t *testing.T) (*Coordinator, Channels) {
	t.Helper()
	channels := NewChannels()
	coord := New(testConfig(t), channels)
	coord.ReplyTimeout = 2 * time.Second
	return coord, channels
}

// responder plays the inverter side: every request on to_inverter is
// passed to reply, and any returned packets appear on from_inverter.
func responder(t *testing.T, channels Channels, reply func(lxp.Packet) []lxp.Packet) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	sub := channels.ToInverter.Subscribe()

	go func() {
		defer sub.Close()
		for {
			event, err := sub.Recv(ctx)
			if err != nil {
				return
			}
			if event.Kind != inverter.EventPacket {
				continue
			}
			for _, p := range reply(event.Packet) {
				channels.FromInverter.Send(inverter.PacketEvent(p))
			}
		}
	}()

	t.Cleanup(cancel)
	return cancel
}

func echoReply(p lxp.Packet) []lxp.Packet {
	td, ok := p.(lxp.TranslatedData)
	if !ok {
		return nil
	}
	return []lxp.Packet{td}
}

func holdReply(value uint16) func(lxp.Packet) []lxp.Packet {
	return func(p lxp.Packet) []lxp.Packet {
		td, ok := p.(lxp.TranslatedData)
		if !ok || td.DeviceFunction != lxp.ReadHold {
			return nil
		}
		td.Values = binary.LittleEndian.AppendUint16(nil, value)
		return []lxp.Packet{td}
	}
}

// collectMqtt drains to_mqtt into a channel for assertions.
func collectMqtt(t *testing.T, channels Channels) <-chan mqtt.Message {
	t.Helper()

	out := make(chan mqtt.Message, 128)
	sub := channels.ToMqtt.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(sub.Close)

	go func() {
		for {
			event, err := sub.Recv(ctx)
			if err != nil {
				return
			}
			if event.Kind == mqtt.EventMessage {
				out <- event.Message
			}
		}
	}()

	return out
}

func nextMessage(t *testing.T, ch <-chan mqtt.Message) mqtt.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no mqtt message within 2s")
		return mqtt.Message{}
	}
}
