package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/fleetdispatch/fleetdispatch/internal/allocation"
	"github.com/fleetdispatch/fleetdispatch/internal/api/middleware"
	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
	"github.com/fleetdispatch/fleetdispatch/internal/api/response"
)

// AllocationLister lists the allocations visible to an identity.
type AllocationLister interface {
	ListForViewer(ctx context.Context, identity allocation.Identity) ([]allocation.Record, error)
}

// AllocationHandler handles allocation endpoints.
type AllocationHandler struct {
	lister  AllocationLister
	metrics *middleware.ProviderMetrics
}

// NewAllocationHandler creates a new AllocationHandler.
func NewAllocationHandler(lister AllocationLister, metrics *middleware.ProviderMetrics) *AllocationHandler {
	return &AllocationHandler{lister: lister, metrics: metrics}
}

// ListAllocations handles GET /v1/allocations.
func (h *AllocationHandler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		response.Unauthorized(w, r, "authentication required")
		return
	}

	start := time.Now()
	records, err := h.lister.ListForViewer(r.Context(), principal.Identity())
	h.metrics.RecordRequest("backend", "allocations", time.Since(start), err)
	if err != nil {
		response.ServiceUnavailable(w, r, "allocations are temporarily unavailable")
		return
	}

	response.JSON(w, r, http.StatusOK, models.AllocationList{Items: records, Count: len(records)})
}
