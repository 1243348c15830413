package coordinator

import (
	"context"
	"fmt"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

// ReadTimeRegister reads one time window and publishes it as
// {"start":"HH:MM","end":"HH:MM"}.
func (c *Coordinator) ReadTimeRegister(ctx context.Context, inv config.Inverter, action TimeAction, slot uint16) error {
	register, err := action.Register(slot)
	if err != nil {
		return err
	}

	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	packet := lxp.TranslatedData{
		Datalog:        inv.Datalog,
		DeviceFunction: lxp.ReadHold,
		Inverter:       inv.Serial,
		Register:       register,
		Values:         []byte{2, 0},
	}

	reply, err := c.sendAndWait(ctx, packet)
	if err != nil {
		return err
	}

	td := reply.(lxp.TranslatedData)
	if len(td.Values) < 4 {
		return fmt.Errorf("time register %d reply too short: %d bytes", register, len(td.Values))
	}

	c.publishTimeRange(td.Datalog, action, slot,
		[4]byte{td.Values[0], td.Values[1], td.Values[2], td.Values[3]})
	return nil
}

// SetTimeRegister writes one time window as two WriteSingle operations,
// each verified by its echo, then republishes the new window.
func (c *Coordinator) SetTimeRegister(ctx context.Context, inv config.Inverter, action TimeAction, slot uint16, values [4]byte) error {
	register, err := action.Register(slot)
	if err != nil {
		return err
	}

	unlock := c.locks.lock(inv.Datalog, register)
	defer unlock()

	start := uint16(values[0]) | uint16(values[1])<<8
	if _, err := c.setHoldLocked(ctx, inv, register, start); err != nil {
		return err
	}

	end := uint16(values[2]) | uint16(values[3])<<8
	if _, err := c.setHoldLocked(ctx, inv, register+1, end); err != nil {
		return err
	}

	c.publishTimeRange(inv.Datalog, action, slot, values)
	return nil
}

func (c *Coordinator) publishTimeRange(datalog lxp.Serial, action TimeAction, slot uint16, values [4]byte) {
	c.publish(fmt.Sprintf("%s/%s/%d", datalog, action.Key(), slot),
		lxp.TimeRangeJSON(values), true)
}
