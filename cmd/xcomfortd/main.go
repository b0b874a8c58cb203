// xcomfortd bridges an Eaton xComfort Bridge onto MQTT and InfluxDB.
//
// It maintains the encrypted channel to the bridge, mirrors device and
// room state onto retained MQTT topics, records power and climate
// telemetry, and accepts commands back over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oywino/xcomfort-go/internal/export"
	"github.com/oywino/xcomfort-go/internal/infrastructure/config"
	"github.com/oywino/xcomfort-go/internal/infrastructure/influxdb"
	"github.com/oywino/xcomfort-go/internal/infrastructure/logging"
	"github.com/oywino/xcomfort-go/internal/infrastructure/mqtt"
	"github.com/oywino/xcomfort-go/xcomfort"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when XCOMFORT_CONFIG is not set.
const defaultConfigPath = "/etc/xcomfort/config.yaml"

// startTimeout bounds the wait for the bridge's first full inventory.
const startTimeout = 60 * time.Second

func main() {
	fmt.Printf("xcomfortd %s (%s) built %s\n", version, commit, date)

	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error lets main handle exit codes
// consistently.
func run(ctx context.Context) error {
	configPath := os.Getenv("XCOMFORT_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting", "bridge", cfg.Bridge.Host)

	bridge, err := xcomfort.NewBridgeWithOptions(xcomfort.Options{
		Host:             cfg.Bridge.Host,
		AuthKey:          cfg.Bridge.AuthKey,
		Logger:           logger.With("component", "bridge"),
		Backoff:          cfg.GetBackoff(),
		TransportTimeout: cfg.GetTransportTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating bridge client: %w", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- bridge.Run(ctx) }()
	defer func() {
		bridge.Close()
		<-runDone
	}()

	// Optional collaborators: the daemon runs with either or both
	// disabled.
	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to broker: %w", err)
		}
		broker.SetLogger(logger.With("component", "mqtt"))
		defer broker.Close()
	}

	var metrics export.MetricsWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			if !errors.Is(err, influxdb.ErrDisabled) {
				return fmt.Errorf("connecting to influxdb: %w", err)
			}
		} else {
			influxClient.SetOnError(func(err error) {
				logger.Warn("influxdb write failed", "error", err)
			})
			defer influxClient.Close()
			metrics = influxClient
		}
	}

	exporterOpts := export.Options{
		Bridge:  bridge,
		Metrics: metrics,
		QoS:     byte(cfg.MQTT.QoS),
		Logger:  logger.With("component", "export"),
	}
	if broker != nil {
		exporterOpts.MQTT = broker
	}

	exporter, err := export.New(exporterOpts)
	if err != nil {
		return fmt.Errorf("creating exporter: %w", err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	defer cancelStart()
	if err := exporter.Start(startCtx); err != nil {
		return fmt.Errorf("starting exporter: %w", err)
	}
	defer exporter.Stop()

	logger.Info("running", "version", version)

	<-ctx.Done()

	logger.Info("shutdown signal received")
	return nil
}
