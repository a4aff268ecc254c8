package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdispatch/fleetdispatch/internal/geocode"
)

// Geocoder resolves an address, filling the geocode cache as a side effect.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geocode.Result, error)
}

// WarmupConfig holds configuration for the geocode warm-up job.
type WarmupConfig struct {
	// Addresses are resolved once per run, typically depots and frequent drop-offs.
	Addresses []string

	// Concurrency is the number of parallel lookups.
	// Default: 3
	Concurrency int

	// Timeout bounds each lookup, including the resilience client's retries.
	// Default: 30 seconds
	Timeout time.Duration
}

// WarmupResult summarizes one run.
type WarmupResult struct {
	StartTime time.Time
	Duration  time.Duration
	Total     int
	Resolved  int
	Failed    int
	Errors    []WarmupError
}

// WarmupError records one failed address.
type WarmupError struct {
	Address string
	Error   string
}

// WarmupJob pre-resolves a fixed address list so first requests for those addresses are
// served from the geocode cache.
type WarmupJob struct {
	config   WarmupConfig
	geocoder Geocoder
	logger   zerolog.Logger

	mu      sync.Mutex
	runs    int64
	lastRun *WarmupResult
}

// NewWarmupJob creates a warm-up job.
func NewWarmupJob(geocoder Geocoder, cfg WarmupConfig, logger zerolog.Logger) *WarmupJob {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	addresses := make([]string, 0, len(cfg.Addresses))
	seen := make(map[string]bool, len(cfg.Addresses))
	for _, a := range cfg.Addresses {
		a = strings.TrimSpace(a)
		key := geocode.AddressKey(a)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		addresses = append(addresses, a)
	}
	cfg.Addresses = addresses

	return &WarmupJob{config: cfg, geocoder: geocoder, logger: logger}
}

type warmupOutcome struct {
	address string
	err     error
}

// Run resolves every configured address. Lookups still queued when ctx is cancelled are
// skipped and counted as neither resolved nor failed.
func (j *WarmupJob) Run(ctx context.Context) *WarmupResult {
	start := time.Now()
	result := &WarmupResult{StartTime: start, Total: len(j.config.Addresses)}

	j.logger.Info().
		Int("addresses", result.Total).
		Int("concurrency", j.config.Concurrency).
		Msg("starting geocode warm-up")

	work := make(chan string, len(j.config.Addresses))
	outcomes := make(chan warmupOutcome, len(j.config.Addresses))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.warmWorker(ctx, work, outcomes)
		}()
	}

	for _, a := range j.config.Addresses {
		work <- a
	}
	close(work)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, WarmupError{Address: o.address, Error: o.err.Error()})
			continue
		}
		result.Resolved++
	}

	result.Duration = time.Since(start)

	j.mu.Lock()
	j.runs++
	j.lastRun = result
	j.mu.Unlock()

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("resolved", result.Resolved).
		Int("failed", result.Failed).
		Msg("geocode warm-up completed")

	return result
}

func (j *WarmupJob) warmWorker(ctx context.Context, work <-chan string, outcomes chan<- warmupOutcome) {
	for address := range work {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lookupCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
		_, err := j.geocoder.Geocode(lookupCtx, address)
		cancel()

		if err != nil {
			j.logger.Warn().Err(err).Str("address", address).Msg("warm-up lookup failed")
		}
		outcomes <- warmupOutcome{address: address, err: err}
	}
}

// Runs returns how many times Run has completed.
func (j *WarmupJob) Runs() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

// LastRun returns the most recent result, or nil before the first run.
func (j *WarmupJob) LastRun() *WarmupResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}
