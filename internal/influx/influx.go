// Package influx pushes telemetry into an InfluxDB v1 endpoint.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/config"
)

const inputsMeasurement = "inputs"

const writeRetryDelay = 10 * time.Second

type EventKind int

const (
	EventInputData EventKind = iota
	EventShutdown
)

// Event carries one reading. Fields must include "time" (unix seconds,
// int64) and "datalog" (string); everything else becomes a field on the
// point.
type Event struct {
	Kind   EventKind
	Fields map[string]interface{}
}

func InputDataEvent(fields map[string]interface{}) Event {
	return Event{Kind: EventInputData, Fields: fields}
}

func ShutdownEvent() Event {
	return Event{Kind: EventShutdown}
}

type Influx struct {
	cfg      config.Influx
	toInflux *bus.Bus[Event]
}

func New(cfg config.Influx, toInflux *bus.Bus[Event]) *Influx {
	return &Influx{cfg: cfg, toInflux: toInflux}
}

// Start pings the endpoint and then drains the to_influx bus into point
// writes. A failed write blocks this sink only, retrying every 10s.
func (i *Influx) Start(ctx context.Context) error {
	if !i.cfg.IsEnabled() {
		slog.Info("influx disabled, skipping")
		return nil
	}

	slog.Info("initializing influx", "url", i.cfg.URL)

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     i.cfg.URL,
		Username: i.cfg.Username,
		Password: i.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("influx client: %w", err)
	}
	defer c.Close()

	_, version, err := c.Ping(5 * time.Second)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	slog.Info("influx responding ok", "version", version)

	return i.sender(ctx, c)
}

func (i *Influx) Stop() {
	i.toInflux.Send(ShutdownEvent())
}

func (i *Influx) sender(ctx context.Context, c client.Client) error {
	sub := i.toInflux.Subscribe()
	defer sub.Close()

	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				slog.Warn("influx sink lagged, some points were dropped")
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch event.Kind {
		case EventShutdown:
			slog.Info("influx sender exiting")
			return nil
		case EventInputData:
			point, err := toPoint(event.Fields)
			if err != nil {
				slog.Warn("influx point skipped", "err", err)
				continue
			}

			for {
				err := i.write(c, point)
				if err == nil {
					break
				}
				slog.Error("influx push failed, retrying", "err", err, "delay", writeRetryDelay.String())
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(writeRetryDelay):
				}
			}
		}
	}
}

func (i *Influx) write(c client.Client, point *client.Point) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  i.cfg.Database,
		Precision: "s",
	})
	if err != nil {
		return err
	}
	bp.AddPoint(point)
	return c.Write(bp)
}

func toPoint(fields map[string]interface{}) (*client.Point, error) {
	ts, ok := fields["time"].(int64)
	if !ok {
		return nil, fmt.Errorf("reading has no time field")
	}
	datalog, ok := fields["datalog"].(string)
	if !ok {
		return nil, fmt.Errorf("reading has no datalog field")
	}

	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "time" || k == "datalog" {
			continue
		}
		values[k] = v
	}

	return client.NewPoint(inputsMeasurement,
		map[string]string{"datalog": datalog},
		values,
		time.Unix(ts, 0))
}
