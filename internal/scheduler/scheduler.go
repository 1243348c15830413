// Package scheduler runs cron-driven maintenance, currently periodic
// time synchronisation of every enabled inverter.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/coordinator"
)

type Scheduler struct {
	cfg   *config.Config
	coord *coordinator.Coordinator
}

func New(cfg *config.Config, coord *coordinator.Coordinator) *Scheduler {
	return &Scheduler{cfg: cfg, coord: coord}
}

// Start runs the crontab until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Scheduler.IsEnabled() {
		slog.Info("scheduler disabled, skipping")
		return nil
	}

	timesync := s.cfg.Scheduler.Timesync
	if !timesync.IsEnabled() {
		slog.Info("timesync cron not configured, skipping")
		return nil
	}

	slog.Info("scheduler starting", "timesync_cron", timesync.Cron)

	runner := cron.New()
	_, err := runner.AddFunc(timesync.Cron, func() {
		s.timeSync(ctx)
	})
	if err != nil {
		return err
	}

	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()

	slog.Info("scheduler exiting")
	return nil
}

func (s *Scheduler) timeSync(ctx context.Context) {
	slog.Info("timesync starting")

	for _, inv := range s.cfg.EnabledInverters() {
		if err := s.coord.TimeSync(ctx, inv); err != nil {
			slog.Error("timesync failed", "datalog", inv.Datalog.String(), "err", err)
		}
	}

	slog.Info("timesync complete")
}
