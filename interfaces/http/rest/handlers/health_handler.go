package handlers

import (
	"context"
	"net/http"

	"github.com/MiguelSchuhAlles/preanesth-app/pkg/common"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness checks
type HealthHandler struct {
	checks []ReadinessCheck
	errors *pkgerrors.ErrorHandler
}

// NewHealthHandler creates a health handler
func NewHealthHandler(errs *pkgerrors.ErrorHandler, checks ...ReadinessCheck) *HealthHandler {
	return &HealthHandler{checks: checks, errors: errs}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.errors.Handle(w, r, err)
			return
		}
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
