package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"

// maxErrorBody caps how much of an error response body is kept on StatusError.
const maxErrorBody = 512

// RefreshHook resolves the base URL to use for the next attempt after a network error.
// Returning an empty string keeps the current base URL.
type RefreshHook func(ctx context.Context) (string, error)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client for circuit breaker naming and health tracking.
	Name string

	// BaseURL is prefixed to relative endpoints.
	BaseURL string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// RetryDelay is the fixed wait between attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// RefreshHook is invoked between attempts when the failure is a network error.
	RefreshHook RefreshHook

	// Header is sent with every request (e.g. authorization).
	Header http.Header

	// HTTPClient overrides the underlying transport client (optional).
	HTTPClient HTTPDoer

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Registry receives success/failure outcomes for health reporting (optional).
	Registry *Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// DefaultClientConfig returns the retry policy used against the dispatch backend.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:           name,
		Timeout:        10 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
		CircuitBreaker: &cbConfig,
	}
}

// Client is a resilient HTTP client with retry, endpoint refresh, and circuit breaking.
// It is safe for concurrent use.
type Client struct {
	httpClient     HTTPDoer
	circuitBreaker *gobreaker.CircuitBreaker[*Response]
	config         ClientConfig
	logger         zerolog.Logger
	tracer         trace.Tracer

	mu      sync.RWMutex
	baseURL string
}

// RequestOptions describes a single logical request.
type RequestOptions struct {
	// Method defaults to GET.
	Method string

	// Query is appended to the endpoint URL.
	Query url.Values

	// Header is merged over the client's default headers.
	Header http.Header

	// Body is JSON-encoded when non-nil. A []byte is sent as-is.
	Body any
}

// Response is a fully read HTTP response, so attempts can be retried and bodies closed
// before Request returns.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	logger := cfg.Logger.With().Str("client", cfg.Name).Logger()

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.OnStateChange == nil {
		cbConfig.OnStateChange = logStateChange(logger)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		httpClient:     httpClient,
		circuitBreaker: NewCircuitBreaker[*Response](cbConfig),
		config:         cfg,
		logger:         logger,
		tracer:         otel.Tracer(tracerName),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
	}

	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}

	return c
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.config.Name
}

// BaseURL returns the base URL currently used for relative endpoints.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL switches the base URL for subsequent attempts.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Request performs the request with up to MaxAttempts attempts.
//
// Every failure is retried after RetryDelay until attempts run out; network-classified
// failures additionally run the refresh hook before the wait. The refresh hook never runs
// after the final attempt. On exhaustion the most recent attempt error is returned,
// wrapped in *RequestError.
func (c *Client) Request(ctx context.Context, endpoint string, opts RequestOptions) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "resilience.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("client.name", c.config.Name),
			attribute.String("http.request.method", method),
			attribute.String("endpoint", endpoint),
		),
	)
	defer span.End()

	attempts := 0
	operation := func() (*Response, error) {
		attempts++
		resp, err := c.attempt(ctx, method, endpoint, opts, body)
		if errors.Is(err, ErrCircuitOpen) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}

	notify := func(err error, wait time.Duration) {
		network := IsNetworkError(err)
		c.logger.Warn().Err(err).
			Str("endpoint", endpoint).
			Int("attempt", attempts).
			Bool("network_error", network).
			Dur("retry_in", wait).
			Msg("request attempt failed, retrying")
		if network {
			c.refresh(ctx)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.RetryDelay), uint64(c.config.MaxAttempts-1)), //nolint:gosec // MaxAttempts is positive
		ctx,
	)

	resp, err := backoff.RetryNotifyWithData(operation, policy, notify)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		c.recordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().Err(err).
			Str("endpoint", endpoint).
			Int("attempts", attempts).
			Msg("request failed")
		return nil, &RequestError{Endpoint: endpoint, Attempts: attempts, Err: err}
	}

	c.recordSuccess()
	return resp, nil
}

// attempt executes one HTTP exchange through the circuit breaker.
func (c *Client) attempt(ctx context.Context, method, endpoint string, opts RequestOptions, body []byte) (*Response, error) {
	target, err := c.resolve(endpoint, opts.Query)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.circuitBreaker.Execute(func() (*Response, error) {
		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		for key, values := range c.config.Header {
			req.Header[key] = values
		}
		for key, values := range opts.Header {
			req.Header[key] = values
		}
		req.Header.Set("Accept", "application/json")
		if body != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, &TransportError{Err: err}
		}

		if r.StatusCode >= http.StatusBadRequest {
			if len(data) > maxErrorBody {
				data = data[:maxErrorBody]
			}
			return nil, &StatusError{StatusCode: r.StatusCode, Body: strings.TrimSpace(string(data))}
		}

		return &Response{StatusCode: r.StatusCode, Header: r.Header, Body: data}, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return resp, err
}

// refresh runs the refresh hook and adopts the base URL it returns.
func (c *Client) refresh(ctx context.Context) {
	if c.config.RefreshHook == nil {
		return
	}

	next, err := c.config.RefreshHook(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("connection refresh failed, keeping current base URL")
		return
	}
	if next == "" || next == c.BaseURL() {
		return
	}

	c.logger.Info().
		Str("previous", c.BaseURL()).
		Str("base_url", next).
		Msg("switching base URL after network error")
	c.SetBaseURL(next)
	if c.config.Registry != nil {
		c.config.Registry.RecordFailover(c.config.Name)
	}
}

func (c *Client) resolve(endpoint string, query url.Values) (string, error) {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		base := c.BaseURL()
		if base == "" {
			return "", fmt.Errorf("relative endpoint %q without base URL", endpoint)
		}
		target = base + "/" + strings.TrimLeft(endpoint, "/")
	}

	if len(query) == 0 {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) recordSuccess() {
	if c.config.Registry != nil {
		c.config.Registry.RecordSuccess(c.config.Name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.config.Registry != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
	}
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		return data, nil
	}
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
