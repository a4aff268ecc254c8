package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
)

// BackendClientName is the registry name of the dispatch backend client.
const BackendClientName = "backend"

// NewLogger builds the root logger for a binary.
func NewLogger(cfg LogConfig, service, version string) zerolog.Logger {
	return newLogger(os.Stdout, cfg, service, version)
}

func newLogger(out io.Writer, cfg LogConfig, service, version string) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// NewBackendClient builds the resilient client for the dispatch backend. With more than
// one base URL, network errors make the client probe the others through an
// EndpointResolver.
func NewBackendClient(cfg BackendConfig, registry *resilience.Registry, logger zerolog.Logger) *resilience.Client {
	clientCfg := resilience.DefaultClientConfig(BackendClientName)
	if len(cfg.BaseURLs) > 0 {
		clientCfg.BaseURL = cfg.BaseURLs[0]
	}
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	if cfg.MaxAttempts > 0 {
		clientCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		clientCfg.RetryDelay = cfg.RetryDelay
	}
	clientCfg.Registry = registry
	clientCfg.Logger = logger

	if len(cfg.BaseURLs) > 1 {
		resolver := resilience.NewEndpointResolver(resilience.ResolverConfig{
			Candidates: cfg.BaseURLs,
			HealthPath: cfg.HealthPath,
			Logger:     logger,
		})
		clientCfg.RefreshHook = resolver.Hook()
	}

	return resilience.NewClient(clientCfg)
}
