package inverter

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

func serial(t *testing.T, s string) lxp.Serial {
	t.Helper()
	parsed, err := lxp.ParseSerial(s)
	require.NoError(t, err)
	return parsed
}

func readHoldPacket(t *testing.T, datalog string, register uint16, value uint16) lxp.TranslatedData {
	t.Helper()
	return lxp.TranslatedData{
		Datalog:        serial(t, datalog),
		DeviceFunction: lxp.ReadHold,
		Inverter:       serial(t, "5555555555"),
		Register:       register,
		Values:         binary.LittleEndian.AppendUint16(nil, value),
	}
}

func TestWaitForReplyMatches(t *testing.T) {
	b := bus.New[Event](16)
	sub := b.Subscribe()

	request := readHoldPacket(t, "2222222222", 12, 1)
	reply := readHoldPacket(t, "2222222222", 12, 1558)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Send(PacketEvent(reply))
	}()

	got, err := WaitForReply(context.Background(), sub, request, time.Second)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

// two in-flight requests differing only by register each get their own
// reply
func TestWaitForReplySelectivity(t *testing.T) {
	b := bus.New[Event](16)
	sub12 := b.Subscribe()
	sub21 := b.Subscribe()

	req12 := readHoldPacket(t, "2222222222", 12, 1)
	req21 := readHoldPacket(t, "2222222222", 21, 1)
	reply12 := readHoldPacket(t, "2222222222", 12, 111)
	reply21 := readHoldPacket(t, "2222222222", 21, 222)

	type result struct {
		packet lxp.Packet
		err    error
	}
	got12 := make(chan result, 1)
	got21 := make(chan result, 1)

	go func() {
		p, err := WaitForReply(context.Background(), sub12, req12, time.Second)
		got12 <- result{p, err}
	}()
	go func() {
		p, err := WaitForReply(context.Background(), sub21, req21, time.Second)
		got21 <- result{p, err}
	}()

	// replies arrive in the "wrong" order; no crosstalk
	b.Send(PacketEvent(reply21))
	b.Send(PacketEvent(reply12))

	r12 := <-got12
	require.NoError(t, r12.err)
	assert.Equal(t, reply12, r12.packet)

	r21 := <-got21
	require.NoError(t, r21.err)
	assert.Equal(t, reply21, r21.packet)
}

func TestWaitForReplyIgnoresOtherFunctions(t *testing.T) {
	b := bus.New[Event](16)
	sub := b.Subscribe()

	request := readHoldPacket(t, "2222222222", 12, 1)

	// same register, different device function - not ours
	other := request
	other.DeviceFunction = lxp.ReadInput
	b.Send(PacketEvent(other))

	_, err := WaitForReply(context.Background(), sub, request, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestWaitForReplyDisconnectFailsFast(t *testing.T) {
	b := bus.New[Event](16)
	sub := b.Subscribe()

	request := readHoldPacket(t, "2222222222", 12, 1)
	b.Send(DisconnectEvent(serial(t, "2222222222")))

	_, err := WaitForReply(context.Background(), sub, request, time.Minute)
	assert.ErrorIs(t, err, ErrInverterDown)
}

func TestWaitForReplyIgnoresOtherDisconnects(t *testing.T) {
	b := bus.New[Event](16)
	sub := b.Subscribe()

	request := readHoldPacket(t, "2222222222", 12, 1)
	reply := readHoldPacket(t, "2222222222", 12, 42)

	b.Send(DisconnectEvent(serial(t, "9999999999")))
	b.Send(ConnectedEvent(serial(t, "9999999999")))
	b.Send(PacketEvent(reply))

	got, err := WaitForReply(context.Background(), sub, request, time.Second)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestWaitForReplyShutdown(t *testing.T) {
	b := bus.New[Event](16)
	sub := b.Subscribe()

	request := readHoldPacket(t, "2222222222", 12, 1)
	b.Send(ShutdownEvent())

	_, err := WaitForReply(context.Background(), sub, request, time.Minute)
	assert.ErrorIs(t, err, ErrCancelled)
}

// a zero timeout fails immediately, which the tests elsewhere rely on
func TestWaitForReplyZeroTimeout(t *testing.T) {
	b := bus.New[Event](16)
	sub := b.Subscribe()

	request := readHoldPacket(t, "2222222222", 12, 1)

	_, err := WaitForReply(context.Background(), sub, request, 0)
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestWaitForReplyLaggedSurfaces(t *testing.T) {
	b := bus.New[Event](1)
	sub := b.Subscribe()

	request := readHoldPacket(t, "2222222222", 12, 1)
	b.Send(PacketEvent(readHoldPacket(t, "2222222222", 99, 1)))
	b.Send(PacketEvent(readHoldPacket(t, "2222222222", 98, 1)))

	_, err := WaitForReply(context.Background(), sub, request, time.Second)
	assert.ErrorIs(t, err, bus.ErrLagged)
}

func TestWaitForReplyParamMatching(t *testing.T) {
	b := bus.New[Event](16)
	sub := b.Subscribe()

	request := lxp.ReadParam{Datalog: serial(t, "2222222222"), Register: 7}
	reply := lxp.ReadParam{Datalog: serial(t, "2222222222"), Register: 7, Values: []byte{1, 0}}

	b.Send(PacketEvent(lxp.ReadParam{Datalog: serial(t, "9999999999"), Register: 7}))
	b.Send(PacketEvent(reply))

	got, err := WaitForReply(context.Background(), sub, request, time.Second)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}
