// Package main provides the entrypoint for the FleetDispatch gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/allocation"
	"github.com/fleetdispatch/fleetdispatch/internal/api"
	"github.com/fleetdispatch/fleetdispatch/internal/api/handler"
	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
	"github.com/fleetdispatch/fleetdispatch/internal/auth"
	"github.com/fleetdispatch/fleetdispatch/internal/config"
	"github.com/fleetdispatch/fleetdispatch/internal/database"
	"github.com/fleetdispatch/fleetdispatch/internal/geocode"
	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/internal/routing"
	"github.com/fleetdispatch/fleetdispatch/internal/routing/backend"
	"github.com/fleetdispatch/fleetdispatch/internal/routing/openrouteservice"
	"github.com/fleetdispatch/fleetdispatch/internal/telemetry"
	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
	"github.com/fleetdispatch/fleetdispatch/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	serviceName   = "fleetdispatch-gateway"
	devSigningKey = "local-dev-signing-key-change-in-production"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("FLEET_CONFIG"), "path to a YAML config file")
		issueFor   = flag.String("issue-token", "", "print an access token for this display name and exit")
		role       = flag.String("role", "driver", "role claim for -issue-token")
		driverID   = flag.String("driver-id", "", "driver ID claim for -issue-token")
		teams      = flag.String("teams", "", "comma-separated team claims for -issue-token")
		ttl        = flag.Duration("ttl", auth.DefaultAccessTokenExpiry, "token lifetime for -issue-token")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := config.NewLogger(cfg.Log, serviceName, Version)

	signingKey := cfg.Auth.JWTKey
	if signingKey == "" {
		if cfg.IsProduction() {
			log.Fatal().Msg("JWT_SIGNING_KEY is required in production")
		}
		signingKey = devSigningKey
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: signingKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Expiry:     *ttl,
	})

	if *issueFor != "" {
		if err := issueToken(os.Stdout, jwtService, *issueFor, *role, *driverID, *teams); err != nil {
			log.Fatal().Err(err).Msg("failed to issue token")
		}
		return
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting FleetDispatch gateway")

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
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	registry := resilience.NewRegistry()
	backendClient := config.NewBackendClient(cfg.Backend, registry, log)
	log.Info().
		Strs("base_urls", cfg.Backend.BaseURLs).
		Int("max_attempts", cfg.Backend.MaxAttempts).
		Msg("backend client initialized")

	// Durable geocode store
	var (
		store geocode.Store
		db    handler.Pinger
	)
	if cfg.Geocode.Persistent {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare database schema")
		}
		store = geocode.NewPostgresStore(pool)
		db = pool
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
	}

	cache := geocode.NewCache(geocode.WithTTL(cfg.Geocode.TTL))
	geocodeService := geocode.NewService(geocode.Config{
		Client: backendClient,
		Cache:  cache,
		Store:  store,
		Logger: log,
	})

	allocationService := allocation.NewService(allocation.Config{
		Client: backendClient,
		Logger: log,
	})

	directions, err := newDirections(cfg, backendClient, registry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure directions")
	}
	log.Info().Str("provider", directions.Name()).Msg("directions provider initialized")

	relay := tracking.NewHTTPRelay(backendClient)

	var (
		warmup    *worker.WarmupJob
		forwarder *worker.Forwarder
	)
	if len(cfg.Geocode.WarmAddresses) > 0 {
		warmup = worker.NewWarmupJob(geocodeService, worker.WarmupConfig{
			Addresses: cfg.Geocode.WarmAddresses,
		}, log)
		go warmup.Run(ctx)
	}

	if cfg.Tracking.PubSubSubscription != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.Tracking.PubSubProject)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub client")
		}
		defer psClient.Close()

		forwarder, err = worker.NewForwarder(worker.ForwarderConfig{
			Client:       psClient,
			Subscription: cfg.Tracking.PubSubSubscription,
			Relay:        relay,
			Logger:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create location forwarder")
		}
		go func() {
			if err := forwarder.Start(ctx); err != nil {
				log.Error().Err(err).Msg("location forwarder stopped")
			}
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		RequireTLS:      cfg.Server.RequireTLS,
		Metrics:         metrics,
		ProviderMetrics: providerMetrics,
		Tokens:          jwtService,
		Directions:      directions,
		RouteMode:       routing.Mode(cfg.Directions.Mode),
		Geocoder:        geocodeService,
		GeocodeCache:    cache,
		Allocations:     allocationService,
		Relay:           relay,
		Registry:        registry,
		Database:        db,
		Forwarder:       forwarder,
		Warmup:          warmup,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newDirections(cfg config.Config, backendClient *resilience.Client, registry *resilience.Registry, log zerolog.Logger) (routing.Provider, error) {
	if mode := routing.Mode(cfg.Directions.Mode); !mode.Valid() {
		return nil, fmt.Errorf("unsupported directions mode %q", cfg.Directions.Mode)
	}

	switch cfg.Directions.Provider {
	case config.DirectionsOpenRouteService:
		return openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:   cfg.Directions.ORSKey,
			BaseURL:  cfg.Directions.ORSURL,
			Registry: registry,
			Logger:   log,
		}), nil
	default:
		return backend.NewClient(backendClient, log), nil
	}
}
