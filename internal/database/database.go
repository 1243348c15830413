// Package database inserts assembled telemetry into one or more SQL
// databases, selected by URL scheme: postgres, mysql or sqlite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

const insertRetryDelay = 10 * time.Second

type EventKind int

const (
	EventTelemetry EventKind = iota
	EventShutdown
)

type Event struct {
	Kind   EventKind
	Record *lxp.TelemetryRecord
}

func TelemetryEvent(record *lxp.TelemetryRecord) Event {
	return Event{Kind: EventTelemetry, Record: record}
}

func ShutdownEvent() Event {
	return Event{Kind: EventShutdown}
}

type Database struct {
	cfg        config.Database
	toDatabase *bus.Bus[Event]
}

func New(cfg config.Database, toDatabase *bus.Bus[Event]) *Database {
	return &Database{cfg: cfg, toDatabase: toDatabase}
}

func (d *Database) Stop() {
	d.toDatabase.Send(ShutdownEvent())
}

// Start connects, ensures the inputs table exists, then drains the
// to_database bus. Failed inserts retry every 10s and block only this
// sink.
func (d *Database) Start(ctx context.Context) error {
	driver, dsn, err := driverFor(d.cfg.URL)
	if err != nil {
		return err
	}

	slog.Info("initializing database", "driver", driver)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	slog.Info("database connected", "driver", driver)

	if err := migrate(ctx, db, driver); err != nil {
		return fmt.Errorf("database migrate: %w", err)
	}

	return d.inserter(ctx, db, driver)
}

func (d *Database) inserter(ctx context.Context, db *sql.DB, driver string) error {
	query := insertQuery(driver)

	sub := d.toDatabase.Subscribe()
	defer sub.Close()

	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				slog.Warn("database sink lagged, some rows were dropped")
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch event.Kind {
		case EventShutdown:
			slog.Info("database loop exiting")
			return nil
		case EventTelemetry:
			for {
				_, err := db.ExecContext(ctx, query, bindValues(event.Record)...)
				if err == nil {
					break
				}
				slog.Error("INSERT failed, retrying", "err", err, "delay", insertRetryDelay.String())
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(insertRetryDelay):
				}
			}
		}
	}
}

// driverFor maps a database URL onto a sql driver and its DSN.
func driverFor(url string) (driver, dsn string, err error) {
	scheme, rest, found := strings.Cut(url, "://")
	if !found {
		return "", "", fmt.Errorf("unsupported database url %q", url)
	}

	switch scheme {
	case "postgres", "postgresql":
		// lib/pq takes the URL as-is
		return "postgres", url, nil
	case "mysql":
		// user:pass@host:port/db => user:pass@tcp(host:port)/db
		creds, hostAndDb, found := strings.Cut(rest, "@")
		if !found {
			creds, hostAndDb = "", rest
		}
		host, dbname, _ := strings.Cut(hostAndDb, "/")
		if creds != "" {
			creds += "@"
		}
		return "mysql", fmt.Sprintf("%stcp(%s)/%s", creds, host, dbname), nil
	case "sqlite":
		return "sqlite3", rest, nil
	}

	return "", "", fmt.Errorf("unsupported database %q", url)
}

var inputColumns = []string{
	"status",
	"v_pv_1", "v_pv_2", "v_pv_3", "v_bat",
	"soc", "soh",
	"internal_fault",
	"p_pv", "p_pv_1", "p_pv_2", "p_pv_3",
	"p_battery", "p_charge", "p_discharge",
	"v_ac_r", "v_ac_s", "v_ac_t", "f_ac",
	"p_inv", "p_rec",
	"pf",
	"v_eps_r", "v_eps_s", "v_eps_t", "f_eps", "p_eps", "s_eps",
	"p_grid", "p_to_grid", "p_to_user",
	"e_pv_day", "e_pv_day_1", "e_pv_day_2", "e_pv_day_3",
	"e_inv_day", "e_rec_day", "e_chg_day", "e_dischg_day",
	"e_eps_day", "e_to_grid_day", "e_to_user_day",
	"v_bus_1", "v_bus_2",
	"e_pv_all", "e_pv_all_1", "e_pv_all_2", "e_pv_all_3",
	"e_inv_all", "e_rec_all", "e_chg_all", "e_dischg_all",
	"e_eps_all", "e_to_grid_all", "e_to_user_all",
	"fault_code", "warning_code",
	"t_inner", "t_rad_1", "t_rad_2", "t_bat",
	"runtime",
	"max_chg_curr", "max_dischg_curr", "charge_volt_ref", "dischg_cut_volt",
	"bat_status_0", "bat_status_1", "bat_status_2", "bat_status_3", "bat_status_4",
	"bat_status_5", "bat_status_6", "bat_status_7", "bat_status_8", "bat_status_9",
	"bat_status_inv",
	"bat_count", "bat_capacity", "bat_current", "bms_event_1", "bms_event_2",
	"max_cell_voltage", "min_cell_voltage", "max_cell_temp", "min_cell_temp",
	"bms_fw_update_state", "cycle_count", "vbat_inv",
	"datalog", "created_at",
}

// insertQuery builds the INSERT with the placeholder style the driver
// expects.
func insertQuery(driver string) string {
	placeholders := make([]string, len(inputColumns))
	for i := range placeholders {
		if driver == "mysql" {
			placeholders[i] = "?"
		} else {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
	}

	return fmt.Sprintf("INSERT INTO inputs (%s) VALUES (%s)",
		strings.Join(inputColumns, ", "),
		strings.Join(placeholders, ", "))
}

func bindValues(r *lxp.TelemetryRecord) []interface{} {
	return []interface{}{
		r.Status,
		r.VPv1, r.VPv2, r.VPv3, r.VBat,
		r.Soc, r.Soh,
		r.InternalFault,
		r.PPv, r.PPv1, r.PPv2, r.PPv3,
		r.PBattery, r.PCharge, r.PDischarge,
		r.VAcR, r.VAcS, r.VAcT, r.FAc,
		r.PInv, r.PRec,
		r.Pf,
		r.VEpsR, r.VEpsS, r.VEpsT, r.FEps, r.PEps, r.SEps,
		r.PGrid, r.PToGrid, r.PToUser,
		r.EPvDay, r.EPvDay1, r.EPvDay2, r.EPvDay3,
		r.EInvDay, r.ERecDay, r.EChgDay, r.EDischgDay,
		r.EEpsDay, r.EToGridDay, r.EToUserDay,
		r.VBus1, r.VBus2,
		r.EPvAll, r.EPvAll1, r.EPvAll2, r.EPvAll3,
		r.EInvAll, r.ERecAll, r.EChgAll, r.EDischgAll,
		r.EEpsAll, r.EToGridAll, r.EToUserAll,
		r.FaultCode, r.WarningCode,
		r.TInner, r.TRad1, r.TRad2, r.TBat,
		r.Runtime,
		r.MaxChgCurr, r.MaxDischgCurr, r.ChargeVoltRef, r.DischgCutVolt,
		r.BatStatus0, r.BatStatus1, r.BatStatus2, r.BatStatus3, r.BatStatus4,
		r.BatStatus5, r.BatStatus6, r.BatStatus7, r.BatStatus8, r.BatStatus9,
		r.BatStatusInv,
		r.BatCount, r.BatCapacity, r.BatCurrent, r.BmsEvent1, r.BmsEvent2,
		r.MaxCellVoltage, r.MinCellVoltage, r.MaxCellTemp, r.MinCellTemp,
		r.BmsFwUpdateState, r.CycleCount, r.VBatInv,
		r.Datalog.String(), r.Time,
	}
}

// migrate creates the inputs table when it does not exist yet.
func migrate(ctx context.Context, db *sql.DB, driver string) error {
	intType := "BIGINT"
	floatType := "DOUBLE PRECISION"
	if driver == "mysql" {
		floatType = "DOUBLE"
	}
	if driver == "sqlite3" {
		intType = "INTEGER"
		floatType = "REAL"
	}

	floats := map[string]bool{}
	for _, c := range []string{
		"v_pv_1", "v_pv_2", "v_pv_3", "v_bat", "f_ac", "pf",
		"v_ac_r", "v_ac_s", "v_ac_t",
		"v_eps_r", "v_eps_s", "v_eps_t", "f_eps",
		"e_pv_day", "e_pv_day_1", "e_pv_day_2", "e_pv_day_3",
		"e_inv_day", "e_rec_day", "e_chg_day", "e_dischg_day",
		"e_eps_day", "e_to_grid_day", "e_to_user_day",
		"v_bus_1", "v_bus_2",
		"e_pv_all", "e_pv_all_1", "e_pv_all_2", "e_pv_all_3",
		"e_inv_all", "e_rec_all", "e_chg_all", "e_dischg_all",
		"e_eps_all", "e_to_grid_all", "e_to_user_all",
		"max_chg_curr", "max_dischg_curr", "charge_volt_ref", "dischg_cut_volt",
		"bat_current", "max_cell_voltage", "min_cell_voltage",
		"max_cell_temp", "min_cell_temp", "vbat_inv",
	} {
		floats[c] = true
	}

	cols := make([]string, 0, len(inputColumns))
	for _, c := range inputColumns {
		switch {
		case c == "datalog":
			cols = append(cols, "datalog VARCHAR(10)")
		case floats[c]:
			cols = append(cols, fmt.Sprintf("%s %s", c, floatType))
		default:
			cols = append(cols, fmt.Sprintf("%s %s", c, intType))
		}
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS inputs (%s)", strings.Join(cols, ", "))
	_, err := db.ExecContext(ctx, ddl)
	return err
}
