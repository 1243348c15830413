package coordinator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/inverter"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

// ErrValueMismatch means a write echoed back a different value than was
// sent.
var ErrValueMismatch = errors.New("register write echoed a different value")

// registerLocks serialises commands per (datalog, register). The wire
// protocol has no correlation IDs, so two identical in-flight requests
// would be ambiguous.
type registerLocks struct {
	mu sync.Mutex
	m  map[registerLockKey]*sync.Mutex
}

type registerLockKey struct {
	datalog  lxp.Serial
	register uint16
}

func newRegisterLocks() *registerLocks {
	return &registerLocks{m: make(map[registerLockKey]*sync.Mutex)}
}

func (l *registerLocks) lock(datalog lxp.Serial, register uint16) func() {
	key := registerLockKey{datalog: datalog, register: register}

	l.mu.Lock()
	m, ok := l.m[key]
	if !ok {
		m = &sync.Mutex{}
		l.m[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// sendAndWait subscribes before sending so the reply cannot be missed,
// then correlates structurally.
func (c *Coordinator) sendAndWait(ctx context.Context, packet lxp.Packet) (lxp.Packet, error) {
	sub := c.channels.FromInverter.Subscribe()
	defer sub.Close()

	c.Stats.PacketSent(packet)
	if c.channels.ToInverter.Send(inverter.PacketEvent(packet)) == 0 {
		return nil, fmt.Errorf("send(to_inverter) failed - no connection listening")
	}

	return inverter.WaitForReply(ctx, sub, packet, c.ReplyTimeout)
}

// ReadHold reads count holding registers starting at register.
func (c *Coordinator) ReadHold(ctx context.Context, inv config.Inverter, register, count uint16) (lxp.TranslatedData, error) {
	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	packet := lxp.TranslatedData{
		Datalog:        inv.Datalog,
		DeviceFunction: lxp.ReadHold,
		Inverter:       inv.Serial,
		Register:       register,
		Values:         binary.LittleEndian.AppendUint16(nil, count),
	}

	reply, err := c.sendAndWait(ctx, packet)
	if err != nil {
		return lxp.TranslatedData{}, err
	}
	return reply.(lxp.TranslatedData), nil
}

// ReadInputs reads count input registers starting at register.
func (c *Coordinator) ReadInputs(ctx context.Context, inv config.Inverter, register, count uint16) (lxp.TranslatedData, error) {
	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	packet := lxp.TranslatedData{
		Datalog:        inv.Datalog,
		DeviceFunction: lxp.ReadInput,
		Inverter:       inv.Serial,
		Register:       register,
		Values:         binary.LittleEndian.AppendUint16(nil, count),
	}

	reply, err := c.sendAndWait(ctx, packet)
	if err != nil {
		return lxp.TranslatedData{}, err
	}
	return reply.(lxp.TranslatedData), nil
}

// ReadParam reads a datalog parameter.
func (c *Coordinator) ReadParam(ctx context.Context, inv config.Inverter, register uint16) (lxp.ReadParam, error) {
	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	packet := lxp.ReadParam{
		Datalog:  inv.Datalog,
		Register: register,
	}

	reply, err := c.sendAndWait(ctx, packet)
	if err != nil {
		return lxp.ReadParam{}, err
	}
	return reply.(lxp.ReadParam), nil
}

// WriteParam writes a datalog parameter. The reply carries 0 on success,
// odd as that seems.
func (c *Coordinator) WriteParam(ctx context.Context, inv config.Inverter, register, value uint16) (lxp.WriteParam, error) {
	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	packet := lxp.WriteParam{
		Datalog:  inv.Datalog,
		Register: register,
		Values:   binary.LittleEndian.AppendUint16(nil, value),
	}

	reply, err := c.sendAndWait(ctx, packet)
	if err != nil {
		return lxp.WriteParam{}, err
	}

	wp := reply.(lxp.WriteParam)
	if wp.Value() != 0 {
		return lxp.WriteParam{}, fmt.Errorf("failed to set param %d", register)
	}
	return wp, nil
}

// SetHold writes one holding register and verifies the echoed value.
func (c *Coordinator) SetHold(ctx context.Context, inv config.Inverter, register, value uint16) (lxp.TranslatedData, error) {
	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	return c.setHoldLocked(ctx, inv, register, value)
}

func (c *Coordinator) setHoldLocked(ctx context.Context, inv config.Inverter, register, value uint16) (lxp.TranslatedData, error) {
	packet := lxp.TranslatedData{
		Datalog:        inv.Datalog,
		DeviceFunction: lxp.WriteSingle,
		Inverter:       inv.Serial,
		Register:       register,
		Values:         binary.LittleEndian.AppendUint16(nil, value),
	}

	reply, err := c.sendAndWait(ctx, packet)
	if err != nil {
		return lxp.TranslatedData{}, err
	}

	td := reply.(lxp.TranslatedData)
	if td.Value() != value {
		return lxp.TranslatedData{}, fmt.Errorf(
			"%w: register %d, got back %d (wanted %d)",
			ErrValueMismatch, register, td.Value(), value)
	}

	return td, nil
}

// UpdateHold sets or clears one bit in a holding register via
// read-modify-write.
func (c *Coordinator) UpdateHold(ctx context.Context, inv config.Inverter, register uint16, bit lxp.RegisterBit, enable bool) (lxp.TranslatedData, error) {
	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	read := lxp.TranslatedData{
		Datalog:        inv.Datalog,
		DeviceFunction: lxp.ReadHold,
		Inverter:       inv.Serial,
		Register:       register,
		Values:         []byte{1, 0},
	}

	reply, err := c.sendAndWait(ctx, read)
	if err != nil {
		return lxp.TranslatedData{}, err
	}

	value := reply.(lxp.TranslatedData).Value()
	if enable {
		value |= uint16(bit)
	} else {
		value &^= uint16(bit)
	}

	return c.setHoldLocked(ctx, inv, register, value)
}
