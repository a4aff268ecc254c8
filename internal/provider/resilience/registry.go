package resilience

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// HealthState summarises a client for the ops status endpoint.
type HealthState string

const (
	HealthOK       HealthState = "ok"
	HealthDegraded HealthState = "degraded"
	HealthFailing  HealthState = "failing"
)

// ProviderHealth is a point-in-time view of one registered client.
type ProviderHealth struct {
	Name    string
	BaseURL string

	CircuitState gobreaker.State

	// ConsecutiveFailures counts logical requests (after retries) that failed since
	// the last success.
	ConsecutiveFailures int

	// Failovers counts base URL switches made by the refresh hook.
	Failovers int

	LastSuccessAt  *time.Time
	LastFailureAt  *time.Time
	LastFailoverAt *time.Time
	LastError      string
}

// State is failing while the breaker is open, degraded while it is probing or the
// most recent request failed, and ok otherwise.
func (h *ProviderHealth) State() HealthState {
	switch {
	case h.CircuitState == gobreaker.StateOpen:
		return HealthFailing
	case h.CircuitState == gobreaker.StateHalfOpen, h.ConsecutiveFailures > 0:
		return HealthDegraded
	default:
		return HealthOK
	}
}

// Registry collects request outcomes from every Client configured with it.
// Construct one per process.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*tracked
	now     func() time.Time
}

type tracked struct {
	client              *Client
	consecutiveFailures int
	failovers           int
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastFailoverAt      *time.Time
	lastError           string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*tracked),
		now:     time.Now,
	}
}

// Register adds a client, replacing any earlier client of the same name.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = &tracked{client: client}
}

func (r *Registry) update(name string, fn func(t *tracked, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.clients[name]; ok {
		fn(t, r.now())
	}
}

// RecordSuccess notes a request that completed.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(t *tracked, now time.Time) {
		t.lastSuccessAt = &now
		t.consecutiveFailures = 0
	})
}

// RecordFailure notes a request that exhausted its attempts.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(t *tracked, now time.Time) {
		t.lastFailureAt = &now
		t.consecutiveFailures++
		if err != nil {
			t.lastError = err.Error()
		}
	})
}

// RecordFailover notes that a client moved to a different base URL.
func (r *Registry) RecordFailover(name string) {
	r.update(name, func(t *tracked, now time.Time) {
		t.lastFailoverAt = &now
		t.failovers++
	})
}

// GetHealth returns the named client's health, or nil if it was never registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.clients[name]
	if !ok {
		return nil
	}
	return t.snapshot(name)
}

// GetAllHealth returns every client's health ordered by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*ProviderHealth, 0, len(r.clients))
	for name, t := range r.clients {
		all = append(all, t.snapshot(name))
	}
	slices.SortFunc(all, func(a, b *ProviderHealth) int { return strings.Compare(a.Name, b.Name) })
	return all
}

func (t *tracked) snapshot(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:                name,
		BaseURL:             t.client.BaseURL(),
		CircuitState:        t.client.CircuitBreakerState(),
		ConsecutiveFailures: t.consecutiveFailures,
		Failovers:           t.failovers,
		LastSuccessAt:       t.lastSuccessAt,
		LastFailureAt:       t.lastFailureAt,
		LastFailoverAt:      t.lastFailoverAt,
		LastError:           t.lastError,
	}
}
