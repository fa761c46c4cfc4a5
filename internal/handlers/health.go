package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opencoordinator/pbs/internal/metrics"
	"github.com/opencoordinator/pbs/internal/store"
)

type HealthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthHandler struct {
	store   store.BudgetStore
	redis   *redis.Client
	metrics *metrics.Registry
	version string
}

// NewHealthHandler wires the probe endpoints. The redis client may be
// nil; its probe then reports as skipped rather than degraded.
func NewHealthHandler(st store.BudgetStore, redisClient *redis.Client, reg *metrics.Registry, version string) *HealthHandler {
	return &HealthHandler{
		store:   st,
		redis:   redisClient,
		metrics: reg,
		version: version,
	}
}

// ServiceStatus reports process liveness
// @Summary Service liveness
// @Description Always answers 200 while the process is serving
// @Tags Service
// @Produce json
// @Success 200 {object} map[string]string
// @Router /v1/service:status [get]
func (h *HealthHandler) ServiceStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "pbs",
		"version": h.version,
	})
}

// Health reports per-dependency health
// @Summary Dependency health
// @Description Probes the budget store and redis and reports per-service status
// @Tags Service
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "ok",
		Services: make(map[string]ServiceHealth),
	}

	if err := h.store.Ping(ctx); err != nil {
		response.Services["store"] = ServiceHealth{Status: "unhealthy", Message: err.Error()}
		response.Status = "degraded"
		h.metrics.SetStoreUp(false)
	} else {
		response.Services["store"] = ServiceHealth{Status: "healthy"}
		h.metrics.SetStoreUp(true)
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			response.Services["redis"] = ServiceHealth{Status: "unhealthy", Message: err.Error()}
			response.Status = "degraded"
			h.metrics.SetRedisUp(false)
		} else {
			response.Services["redis"] = ServiceHealth{Status: "healthy"}
			h.metrics.SetRedisUp(true)
		}
	} else {
		response.Services["redis"] = ServiceHealth{Status: "skipped"}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "ok" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// Ready reports whether the service can take traffic
// @Summary Readiness
// @Description Answers 200 once the budget store is reachable
// @Tags Service
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /ready [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := h.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ready",
	})
}
