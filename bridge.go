package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/coordinator"
	"github.com/celsworth/lxp-bridge-sub000/internal/database"
	"github.com/celsworth/lxp-bridge-sub000/internal/homeassistant"
	"github.com/celsworth/lxp-bridge-sub000/internal/influx"
	"github.com/celsworth/lxp-bridge-sub000/internal/inverter"
	"github.com/celsworth/lxp-bridge-sub000/internal/mqtt"
	"github.com/celsworth/lxp-bridge-sub000/internal/registercache"
	"github.com/celsworth/lxp-bridge-sub000/internal/scheduler"
)

// runBridge wires the buses, starts every subsystem and blocks until
// SIGINT/SIGTERM.
func runBridge(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channels := coordinator.NewChannels()
	coord := coordinator.New(cfg, channels)

	var discovery []mqtt.Message
	if cfg.Mqtt.IsEnabled() && cfg.Mqtt.HomeAssistant.IsEnabled() {
		for _, inv := range cfg.EnabledInverters() {
			msgs, err := homeassistant.All(inv, cfg.Mqtt)
			if err != nil {
				return err
			}
			discovery = append(discovery, msgs...)
		}
	}

	broker := mqtt.New(cfg.Mqtt, cfg.EnabledInverters(), channels.FromMqtt, channels.ToMqtt, discovery)
	flux := influx.New(cfg.Influx, channels.ToInflux)
	cache := registercache.New(channels.ToRegisterCache)
	cron := scheduler.New(cfg, coord)

	g, gctx := errgroup.WithContext(ctx)

	for _, invCfg := range cfg.EnabledInverters() {
		conn := inverter.NewConn(invCfg, channels.FromInverter, channels.ToInverter)
		g.Go(func() error { return conn.Start(gctx) })
	}

	for _, dbCfg := range cfg.EnabledDatabases() {
		db := database.New(dbCfg, channels.ToDatabase)
		g.Go(func() error { return db.Start(gctx) })
	}

	g.Go(func() error { return coord.Start(gctx) })
	g.Go(func() error { return broker.Start(gctx) })
	g.Go(func() error { return flux.Start(gctx) })
	g.Go(func() error { return cache.Start(gctx) })
	g.Go(func() error { return cron.Start(gctx) })

	// once the context is cancelled, broadcast shutdown on the coordinator,
	// mqtt and influx buses; the other loops exit on the cancelled context
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		coord.Stop()
		broker.Stop()
		flux.Stop()
		return nil
	})

	return g.Wait()
}
