// Package handler provides HTTP handlers for the fleet dispatch gateway.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
	"github.com/fleetdispatch/fleetdispatch/internal/api/response"
	"github.com/fleetdispatch/fleetdispatch/internal/geocode"
	"github.com/fleetdispatch/fleetdispatch/internal/provider/resilience"
	"github.com/fleetdispatch/fleetdispatch/internal/worker"
)

// Pinger checks a dependency's reachability (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies reported by the ops endpoints. All are optional.
type OpsConfig struct {
	Version   string
	BuildTime string
	Registry  *resilience.Registry
	Cache     *geocode.Cache
	Database  Pinger
	Forwarder *worker.Forwarder
	Warmup    *worker.WarmupJob
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	cache     *geocode.Cache
	database  Pinger
	forwarder *worker.Forwarder
	warmup    *worker.WarmupJob
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		cache:     cfg.Cache,
		database:  cfg.Database,
		forwarder: cfg.Forwarder,
		warmup:    cfg.Warmup,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Version:   h.version,
		BuildTime: h.buildTime,
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.database.Ping(ctx); err != nil {
			response.ServiceUnavailable(w, r, "database is not reachable")
			return
		}
	}

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.cache != nil {
		stats := h.cache.Stats()
		status.Subsystems = append(status.Subsystems, models.SubsystemStatus{
			Name:   "geocode-cache",
			Status: models.HealthStatusOK,
			Detail: fmt.Sprintf("%d entries, %d fresh, ttl %s", stats.Entries, stats.Fresh, h.cache.TTL()),
		})
	}

	if h.database != nil {
		sub := models.SubsystemStatus{Name: "database", Status: models.HealthStatusOK}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := h.database.Ping(ctx); err != nil {
			sub.Status = models.HealthStatusFail
			sub.Detail = err.Error()
		}
		cancel()
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.forwarder != nil {
		status.Subsystems = append(status.Subsystems, forwarderStatus(h.forwarder))
	}
	if h.warmup != nil {
		status.Subsystems = append(status.Subsystems, warmupStatus(h.warmup))
	}

	if h.registry != nil {
		for _, ph := range h.registry.GetAllHealth() {
			status.Providers = append(status.Providers, providerStatus(ph))
		}
	}

	status.Status = overallStatus(status)
	response.JSON(w, r, http.StatusOK, status)
}

// forwarderStatus is DEGRADED while relay failures outnumber forwarded updates.
func forwarderStatus(f *worker.Forwarder) models.SubsystemStatus {
	stats := f.Stats()
	sub := models.SubsystemStatus{
		Name:    "location-forwarder",
		Status:  models.HealthStatusOK,
		Details: f.StatsSnapshot(),
	}
	if stats.Failed > stats.Forwarded {
		sub.Status = models.HealthStatusDegraded
		sub.Detail = fmt.Sprintf("%d relay failures, %d forwarded", stats.Failed, stats.Forwarded)
	}
	return sub
}

func warmupStatus(j *worker.WarmupJob) models.SubsystemStatus {
	sub := models.SubsystemStatus{Name: "geocode-warmup", Status: models.HealthStatusOK}

	last := j.LastRun()
	if last == nil {
		sub.Detail = "pending"
		return sub
	}
	sub.Details = map[string]any{
		"runs":       j.Runs(),
		"started_at": last.StartTime.UTC().Format(time.RFC3339),
		"duration":   last.Duration.String(),
		"total":      last.Total,
		"resolved":   last.Resolved,
		"failed":     last.Failed,
	}
	if last.Failed > 0 {
		sub.Status = models.HealthStatusDegraded
		sub.Detail = fmt.Sprintf("%d of %d addresses failed", last.Failed, last.Total)
	}
	return sub
}

func providerStatus(ph *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:            ph.Name,
		BaseURL:             ph.BaseURL,
		Circuit:             ph.CircuitState.String(),
		ConsecutiveFailures: ph.ConsecutiveFailures,
		Failovers:           ph.Failovers,
		LastSuccessAt:       timestampPtr(ph.LastSuccessAt),
		LastFailureAt:       timestampPtr(ph.LastFailureAt),
		LastFailoverAt:      timestampPtr(ph.LastFailoverAt),
		Message:             ph.LastError,
	}
	switch ph.State() {
	case resilience.HealthFailing:
		ps.Status = models.HealthStatusFail
	case resilience.HealthDegraded:
		ps.Status = models.HealthStatusDegraded
	default:
		ps.Status = models.HealthStatusOK
	}
	return ps
}

func timestampPtr(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}

// overallStatus is FAIL if any subsystem failed, DEGRADED if anything else is not OK.
func overallStatus(s models.SystemStatus) models.HealthStatus {
	degraded := false
	for _, sub := range s.Subsystems {
		switch sub.Status {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			degraded = true
		}
	}
	if degraded {
		return models.HealthStatusDegraded
	}
	for _, p := range s.Providers {
		if p.Status != models.HealthStatusOK {
			return models.HealthStatusDegraded
		}
	}
	return models.HealthStatusOK
}
