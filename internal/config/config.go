// Package config loads process configuration for the gateway and tracker binaries.
//
// Values are layered: built-in defaults, then an optional YAML file, then environment
// variables. A .env file in the working directory (or the path in FLEET_ENV_FILE) is
// loaded into the environment first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Relay modes for the tracker.
const (
	RelayHTTP   = "http"
	RelayPubSub = "pubsub"
	RelayBoth   = "both"
)

// Directions providers for the gateway.
const (
	DirectionsBackend         = "backend"
	DirectionsOpenRouteService = "openrouteservice"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full process configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Backend    BackendConfig    `yaml:"backend"`
	Directions DirectionsConfig `yaml:"directions"`
	Geocode    GeocodeConfig    `yaml:"geocode"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Auth       AuthConfig       `yaml:"auth"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the gateway listener.
type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`

	// RequireTLS rejects requests a load balancer forwarded over plain HTTP.
	RequireTLS bool `yaml:"require_tls"`
}

// BackendConfig configures the dispatch backend client.
type BackendConfig struct {
	// BaseURLs are candidate base URLs in preference order. The first is used until a
	// network error makes the client probe the others.
	BaseURLs    []string      `yaml:"base_urls"`
	HealthPath  string        `yaml:"health_path"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// DirectionsConfig selects where route computations go.
type DirectionsConfig struct {
	Provider string `yaml:"provider"`
	ORSKey   string `yaml:"ors_key"`
	ORSURL   string `yaml:"ors_url"`
	Mode     string `yaml:"mode"`
}

// GeocodeConfig configures the geocode cache.
type GeocodeConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Persistent bool          `yaml:"persistent"`

	// WarmAddresses are resolved at gateway startup.
	WarmAddresses []string `yaml:"warm_addresses"`
}

// TrackingConfig configures the tracker agent.
type TrackingConfig struct {
	DriverName    string        `yaml:"driver_name"`
	Role          string        `yaml:"role"`
	MinInterval   time.Duration `yaml:"min_interval"`
	MinDistance   float64       `yaml:"min_distance"`
	Relay         string        `yaml:"relay"`
	PubSubProject string        `yaml:"pubsub_project"`
	PubSubTopic   string        `yaml:"pubsub_topic"`
	TrackFile     string        `yaml:"track_file"`

	// ReplaySpeedup divides the recorded gaps of the replay track.
	ReplaySpeedup float64 `yaml:"replay_speedup"`

	// PubSubSubscription is drained by the gateway's location forwarder when set.
	PubSubSubscription string `yaml:"pubsub_subscription"`
}

// AuthConfig configures gateway access tokens.
type AuthConfig struct {
	JWTKey   string `yaml:"jwt_key"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: "8080",
			Env:  "development",
		},
		Backend: BackendConfig{
			BaseURLs:    []string{"http://localhost:8000"},
			HealthPath:  "/health",
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
			RetryDelay:  time.Second,
		},
		Directions: DirectionsConfig{
			Provider: DirectionsBackend,
			Mode:     "driving",
		},
		Geocode: GeocodeConfig{
			TTL: 30 * time.Minute,
		},
		Tracking: TrackingConfig{
			Role:          "driver",
			MinInterval:   10 * time.Second,
			MinDistance:   50,
			Relay:         RelayHTTP,
			PubSubTopic:   "driver-locations",
			ReplaySpeedup: 1,
		},
		Auth: AuthConfig{
			Issuer:   "fleetdispatch",
			Audience: "fleetdispatch-gateway",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped when path is
// empty), and the environment.
func Load(path string) (Config, error) {
	envFile := getEnvOrDefault("FLEET_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Server.Env = getEnvOrDefault("ENV", c.Server.Env)

	if v := os.Getenv("BACKEND_BASE_URLS"); v != "" {
		c.Backend.BaseURLs = splitList(v)
	}
	c.Backend.HealthPath = getEnvOrDefault("BACKEND_HEALTH_PATH", c.Backend.HealthPath)

	c.Directions.Provider = getEnvOrDefault("DIRECTIONS_PROVIDER", c.Directions.Provider)
	c.Directions.ORSKey = getEnvOrDefault("ORS_API_KEY", c.Directions.ORSKey)
	c.Directions.ORSURL = getEnvOrDefault("ORS_BASE_URL", c.Directions.ORSURL)
	c.Directions.Mode = getEnvOrDefault("DIRECTIONS_MODE", c.Directions.Mode)

	c.Tracking.DriverName = getEnvOrDefault("DRIVER_NAME", c.Tracking.DriverName)
	c.Tracking.Role = getEnvOrDefault("DRIVER_ROLE", c.Tracking.Role)
	c.Tracking.Relay = getEnvOrDefault("TRACKING_RELAY", c.Tracking.Relay)
	c.Tracking.PubSubProject = getEnvOrDefault("PUBSUB_PROJECT_ID", c.Tracking.PubSubProject)
	c.Tracking.PubSubTopic = getEnvOrDefault("PUBSUB_TOPIC", c.Tracking.PubSubTopic)
	c.Tracking.TrackFile = getEnvOrDefault("TRACK_FILE", c.Tracking.TrackFile)
	c.Tracking.PubSubSubscription = getEnvOrDefault("PUBSUB_SUBSCRIPTION", c.Tracking.PubSubSubscription)
	if v := os.Getenv("GEOCODE_WARM_ADDRESSES"); v != "" {
		c.Geocode.WarmAddresses = splitAddresses(v)
	}

	c.Auth.JWTKey = getEnvOrDefault("JWT_SIGNING_KEY", c.Auth.JWTKey)
	c.Auth.Issuer = getEnvOrDefault("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = getEnvOrDefault("JWT_AUDIENCE", c.Auth.Audience)

	c.Telemetry.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BACKEND_TIMEOUT", &c.Backend.Timeout},
		{"BACKEND_RETRY_DELAY", &c.Backend.RetryDelay},
		{"GEOCODE_TTL", &c.Geocode.TTL},
		{"TRACKING_MIN_INTERVAL", &c.Tracking.MinInterval},
	}
	for _, d := range durations {
		if err := envDuration(d.key, d.dst); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs,
		envInt("BACKEND_MAX_ATTEMPTS", &c.Backend.MaxAttempts),
		envFloat("TRACKING_MIN_DISTANCE", &c.Tracking.MinDistance),
		envFloat("REPLAY_SPEEDUP", &c.Tracking.ReplaySpeedup),
		envFloat("OTEL_SAMPLE_RATIO", &c.Telemetry.SampleRatio),
		envBool("REQUIRE_TLS", &c.Server.RequireTLS),
		envBool("GEOCODE_PERSISTENT", &c.Geocode.Persistent),
		envBool("OTEL_ENABLED", &c.Telemetry.Enabled),
	)
	return errors.Join(errs...)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var problems []string

	if len(c.Backend.BaseURLs) == 0 {
		problems = append(problems, "backend.base_urls must not be empty")
	}
	if c.Backend.MaxAttempts < 1 {
		problems = append(problems, "backend.max_attempts must be at least 1")
	}
	switch c.Directions.Provider {
	case DirectionsBackend:
	case DirectionsOpenRouteService:
		if c.Directions.ORSKey == "" {
			problems = append(problems, "directions.ors_key is required for openrouteservice")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown directions.provider %q", c.Directions.Provider))
	}
	switch c.Tracking.Relay {
	case RelayHTTP:
	case RelayPubSub, RelayBoth:
		if c.Tracking.PubSubProject == "" || c.Tracking.PubSubTopic == "" {
			problems = append(problems, "tracking.pubsub_project and tracking.pubsub_topic are required for pubsub relay")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown tracking.relay %q", c.Tracking.Relay))
	}
	if c.Tracking.PubSubSubscription != "" && c.Tracking.PubSubProject == "" {
		problems = append(problems, "tracking.pubsub_project is required for pubsub_subscription")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, "telemetry.sample_ratio must be within [0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction reports whether the server runs in production.
func (c Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitAddresses splits on ";" since addresses contain commas.
func splitAddresses(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
