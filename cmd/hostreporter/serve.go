package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/nugget/hostreporter/internal/buildinfo"
	"github.com/nugget/hostreporter/internal/commands"
	"github.com/nugget/hostreporter/internal/config"
	"github.com/nugget/hostreporter/internal/connwatch"
	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/host"
	"github.com/nugget/hostreporter/internal/metrics"
	"github.com/nugget/hostreporter/internal/mqtt"
	"github.com/nugget/hostreporter/internal/sensors"
	"github.com/nugget/hostreporter/internal/session"
	"github.com/nugget/hostreporter/internal/sleep"
)

// newLogger builds the process logger from the config.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, cfg.LogFormat), nil
}

// agent is everything a run needs, assembled once at startup.
type agent struct {
	info     host.Info
	topics   entity.Topics
	sensors  []entity.Sensor
	commands []entity.Command
}

// assemble collects the host identity and builds the sensors and
// commands. Rate sensors sample until ctx is cancelled.
func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*agent, error) {
	info, err := host.Collect(ctx, host.Options{DataDir: cfg.DataDir, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("collect host identity: %w", err)
	}
	topics := entity.NewTopics(cfg.MQTT.BaseTopic, cfg.MQTT.DiscoveryPrefix, info.Slug)

	sens, err := sensors.Build(ctx, topics, logger)
	if err != nil {
		return nil, fmt.Errorf("build sensors: %w", err)
	}
	return &agent{
		info:     info,
		topics:   topics,
		sensors:  sens,
		commands: commands.Build(topics, logger),
	}, nil
}

// runServe runs the agent until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting "+buildinfo.Name,
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	terminate := bridgeSignals(ctx, logger)

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	a, err := assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sup := session.New(session.Options{
		Dialer:    mqtt.NewPahoDialer(cfg.MQTT, a.info.Hostname, logger),
		Topics:    a.topics,
		Host:      a.info,
		Sensors:   a.sensors,
		Commands:  a.commands,
		Interval:  cfg.Daemon.Interval(),
		Settle:    cfg.Daemon.Settle(),
		Heartbeat: cfg.Daemon.Heartbeat(),
		QueueSize: cfg.MQTT.QueueSize,
		Backoff:   connwatch.DefaultBackoffConfig(),
		Logger:    logger,
		Metrics:   m,
	})

	var monitor sleep.Monitor = sleep.Nop{}
	if cfg.Sleep.On() {
		logind, err := sleep.NewLogind(logger)
		if err != nil {
			logger.Warn("sleep coordination unavailable", "error", err)
		} else {
			defer logind.Close()
			monitor = logind
		}
	} else {
		logger.Info("sleep coordination disabled")
	}

	if err := sleep.NewCoordinator(monitor, sup.Run, logger).Run(ctx, terminate); err != nil {
		return err
	}
	logger.Info(buildinfo.Name + " stopped")
	return nil
}

// runDiscovery prints the device discovery payload and its topic.
func runDiscovery(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}
	d := mqtt.BuildDiscovery(a.info, a.topics, a.sensors, a.commands, logger)

	out := struct {
		Topic   string               `json:"topic"`
		Payload mqtt.DeviceDiscovery `json:"payload"`
	}{a.topics.Discovery(), d}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runMachineID prints the derived identifier used in discovery.
func runMachineID(stdout io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	id, err := host.MachineID("", cfg.DataDir)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, id)
	return nil
}
