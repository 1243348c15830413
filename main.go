package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

const version = "0.2.0"

func main() {
	fs := flag.NewFlagSet("lxp-bridge", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "Path to YAML config file")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("lxp-bridge %s\n", version)
		return
	}

	setupLogging(*logLevel)

	// optional .env for broker/database credentials referenced from the
	// config via environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("error loading .env file", "err", err)
	}

	slog.Info("lxp-bridge starting", "version", version)

	if err := runBridge(*cfgPath); err != nil {
		slog.Error("unrecovered error", "err", err)
		os.Exit(255)
	}
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
