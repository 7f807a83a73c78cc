package handler

import (
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/pkg/cache"
)

type HealthHandler struct {
	pool   *pgxpool.Pool
	cache  *cache.Service
	logger *zap.Logger
}

func NewHealthHandler(pool *pgxpool.Pool, cacheSvc *cache.Service, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{pool: pool, cache: cacheSvc, logger: logger}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{
		"database": "ok",
		"redis":    "ok",
	}
	healthy := true

	if err := h.pool.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := h.cache.Health(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check degraded", zap.Any("checks", checks))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": healthy,
		"checks":  checks,
	})
}
