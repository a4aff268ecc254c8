// Package main provides the FleetDispatch tracker agent. It samples a driver's position
// from a recorded track and relays updates to the backend and/or Pub/Sub until stopped.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/config"
	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/internal/telemetry"
	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "fleetdispatch-tracker"

func main() {
	configPath := flag.String("config", os.Getenv("FLEET_CONFIG"), "path to a YAML config file")
	trackFile := flag.String("track", "", "replay track file (overrides tracking.track_file)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *trackFile != "" {
		cfg.Tracking.TrackFile = *trackFile
	}

	log := config.NewLogger(cfg.Log, serviceName, Version)
	log.Info().
		Str("build_time", BuildTime).
		Str("driver_name", cfg.Tracking.DriverName).
		Str("relay", cfg.Tracking.Relay).
		Msg("starting FleetDispatch tracker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Server.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("tracker failed")
		return
	}
	log.Info().Msg("tracker stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if cfg.Tracking.DriverName == "" {
		return errors.New("tracking.driver_name is required")
	}
	if cfg.Tracking.TrackFile == "" {
		return errors.New("tracking.track_file is required")
	}

	track, err := tracking.LoadTrack(cfg.Tracking.TrackFile)
	if err != nil {
		return err
	}

	relay, closeRelay, err := buildRelay(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	sampler, err := tracking.NewSampler(tracking.Config{
		Provider: tracking.NewReplayProvider(tracking.ReplayConfig{
			Track:   track,
			Speedup: cfg.Tracking.ReplaySpeedup,
		}),
		Relay:      relay,
		DriverName: cfg.Tracking.DriverName,
		Role:       cfg.Tracking.Role,
		Watch: tracking.WatchOptions{
			MinInterval: cfg.Tracking.MinInterval,
			MinDistance: cfg.Tracking.MinDistance,
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating sampler: %w", err)
	}

	availability, err := sampler.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting sampler: %w", err)
	}
	log.Info().
		Bool("available", availability.Available).
		Str("reason", string(availability.Reason)).
		Str("state", sampler.State().String()).
		Msg("sampler started")

	<-ctx.Done()
	log.Info().Msg("stopping sampler")

	sampler.Stop()
	sampler.Wait()
	return nil
}

// buildRelay returns the configured relay and a func that releases its resources.
func buildRelay(ctx context.Context, cfg config.Config, log zerolog.Logger) (tracking.Relay, func(), error) {
	var (
		relays  tracking.MultiRelay
		closers []func() error
	)

	if cfg.Tracking.Relay == config.RelayHTTP || cfg.Tracking.Relay == config.RelayBoth {
		client := config.NewBackendClient(cfg.Backend, resilience.NewRegistry(), log)
		relays = append(relays, tracking.NewHTTPRelay(client))
	}

	if cfg.Tracking.Relay == config.RelayPubSub || cfg.Tracking.Relay == config.RelayBoth {
		ps, err := tracking.NewPubSubRelay(ctx, tracking.PubSubConfig{
			ProjectID: cfg.Tracking.PubSubProject,
			Topic:     cfg.Tracking.PubSubTopic,
			Logger:    log,
		})
		if err != nil {
			return nil, nil, err
		}
		relays = append(relays, ps)
		closers = append(closers, ps.Close)
	}

	release := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("failed to close relay")
			}
		}
	}

	if len(relays) == 1 {
		return relays[0], release, nil
	}
	return relays, release, nil
}
