package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/telemetryd/internal/bus"
	"codeberg.org/mutker/telemetryd/internal/cfgstore"
	"codeberg.org/mutker/telemetryd/internal/component"
	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/gpu"
	"codeberg.org/mutker/telemetryd/internal/httpapi"
	"codeberg.org/mutker/telemetryd/internal/instrument"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/pid"
	"codeberg.org/mutker/telemetryd/internal/retained"
	"codeberg.org/mutker/telemetryd/internal/source"
	"github.com/joho/godotenv"
)

const (
	serviceName     = "telemetryd"
	otelFlushWindow = 5 * time.Second
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")

	pidFile := pid.New(cfg.PIDDir)
	if err := pidFile.Write(); err != nil {
		logger.Error().Err(err).Str("path", pidFile.Path()).Msg("Failed to write pid file")
		return 1
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove pid file")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := instrument.Init(ctx, cfg.OTelEndpoint, serviceName, version, cfg.OTelInsecure)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize OpenTelemetry")
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), otelFlushWindow)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush OpenTelemetry")
		}
	}()

	inst, err := instrument.New(instrument.Meter())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create instruments")
		return 1
	}

	var busOpts []bus.Option
	if cfg.RetainedDB != "" {
		store, err := retained.Open(retained.DefaultConfig(cfg.RetainedDB), logger.Default())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to open retained store")
			return 1
		}
		defer store.Close()
		busOpts = append(busOpts, bus.WithStore(store))
	}

	hub, err := bus.New(cfg.BaseTopic, cfg.ComponentID, busOpts...)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create bus")
		return 1
	}

	sources := []source.Source{source.NewHost()}
	if cfg.GPU {
		dev, err := gpu.New(cfg.GPUIndex)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize GPU")
			return 1
		}
		defer func() {
			if err := dev.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to shut down NVML")
			}
		}()
		sources = append(sources, dev)
	}

	comp, err := component.New(component.Options{
		ComponentID:    cfg.ComponentID,
		Version:        version,
		SampleInterval: cfg.SampleInterval,
		StopGrace:      cfg.StopGrace,
		Defaults: cfgstore.MetricConfig{
			Enabled:                true,
			IntervalS:              cfg.MetricInterval,
			ChangeThresholdPercent: cfg.MetricThreshold,
		},
		Source:      source.Multi(sources...),
		Publisher:   hub,
		Instruments: inst,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create component")
		return 1
	}

	logger.Attach(comp.LogWriter())
	defer logger.Attach(nil)

	comp.Start()

	var wg sync.WaitGroup
	if cfg.HTTPAddr != "" {
		server := httpapi.NewServer(cfg.HTTPAddr, httpapi.Router(comp, hub))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("HTTP API failed")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Received termination signal.")

	comp.Stop()
	wg.Wait()

	logger.Info().Msg("Exiting...")

	return 0
}
