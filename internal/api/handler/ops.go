// Package handler provides HTTP handlers for the castboard API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/api/response"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// NamedCheck is a named dependency check.
type NamedCheck struct {
	Name    string
	Checker Checker
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    []NamedCheck
}

// NewOpsHandler creates a new OpsHandler. checks run in order on every
// readiness request.
func NewOpsHandler(version, buildTime string, checks ...NamedCheck) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - dependency checks. Any failing
// dependency makes the response 503.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := models.Readiness{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Checks: make([]models.DependencyCheck, 0, len(h.checks)),
	}

	for _, c := range h.checks {
		check := models.DependencyCheck{Name: c.Name, Status: models.HealthStatusOK}
		if err := c.Checker.Check(ctx); err != nil {
			detail := err.Error()
			check.Status = models.HealthStatusFail
			check.Detail = &detail
			ready.Status = models.HealthStatusFail
		}
		ready.Checks = append(ready.Checks, check)
	}

	status := http.StatusOK
	if ready.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, ready)
}
