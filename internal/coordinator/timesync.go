package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

// inverters drift; only correct them when they are off by more than this
const timeSyncThreshold = 120 * time.Second

// clock registers start at 12: [yy, mm, dd, hh, mi, ss], year offset 2000
const clockRegister = 12

// TimeSync reads the inverter clock and rewrites it when it has drifted
// past the threshold.
func (c *Coordinator) TimeSync(ctx context.Context, inv config.Inverter) error {
	unlock := c.locks.lock(inv.Datalog, clockRegister)
	defer unlock()

	read := lxp.TranslatedData{
		Datalog:        inv.Datalog,
		DeviceFunction: lxp.ReadHold,
		Inverter:       inv.Serial,
		Register:       clockRegister,
		Values:         []byte{3, 0},
	}

	reply, err := c.sendAndWait(ctx, read)
	if err != nil {
		return err
	}

	td := reply.(lxp.TranslatedData)
	if len(td.Values) < 6 {
		return fmt.Errorf("clock reply too short: %d bytes", len(td.Values))
	}

	now := c.now()
	inverterTime := time.Date(
		2000+int(td.Values[0]), time.Month(td.Values[1]), int(td.Values[2]),
		int(td.Values[3]), int(td.Values[4]), int(td.Values[5]),
		0, now.Location())

	drift := inverterTime.Sub(now)
	slog.Debug("inverter time drift", "datalog", inv.Datalog.String(), "drift", drift.String())

	if drift <= timeSyncThreshold && drift >= -timeSyncThreshold {
		return nil
	}

	slog.Info("correcting inverter clock",
		"datalog", inv.Datalog.String(),
		"inverter_time", inverterTime.Format(time.RFC3339),
		"drift", drift.String())

	write := lxp.TranslatedData{
		Datalog:        inv.Datalog,
		DeviceFunction: lxp.WriteMulti,
		Inverter:       inv.Serial,
		Register:       clockRegister,
		Values: []byte{
			byte(now.Year() - 2000),
			byte(now.Month()),
			byte(now.Day()),
			byte(now.Hour()),
			byte(now.Minute()),
			byte(now.Second()),
		},
	}

	if _, err := c.sendAndWait(ctx, write); err != nil {
		return fmt.Errorf("time set was not confirmed: %w", err)
	}

	slog.Debug("time set ok", "datalog", inv.Datalog.String())
	return nil
}
