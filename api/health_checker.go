package api

import (
	"context"
	"time"

	"github.com/netscope/scancollab/internal/slogging"
)

// ComponentHealthStatus is the state of one dependency
type ComponentHealthStatus string

const (
	ComponentHealthStatusHealthy   ComponentHealthStatus = "healthy"
	ComponentHealthStatusUnhealthy ComponentHealthStatus = "unhealthy"
	ComponentHealthStatusUnknown   ComponentHealthStatus = "unknown"
)

// Overall service states
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)

// Pinger is a dependency that can report liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker performs health checks on system components
type HealthChecker struct {
	timeout time.Duration
	store   Pinger
	redis   Pinger
}

// NewHealthChecker creates a health checker. redis may be nil when revocation is disabled.
func NewHealthChecker(timeout time.Duration, store Pinger, redis Pinger) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{
		timeout: timeout,
		store:   store,
		redis:   redis,
	}
}

// ComponentHealthResult holds health check results for a single component
type ComponentHealthResult struct {
	Status    ComponentHealthStatus `json:"status"`
	LatencyMs int64                 `json:"latency_ms"`
	Message   string                `json:"message"`
}

// SystemHealthResult holds health check results for all components
type SystemHealthResult struct {
	Store   ComponentHealthResult
	Redis   ComponentHealthResult
	Overall string
}

// CheckHealth performs health checks on all system components
func (h *HealthChecker) CheckHealth(ctx context.Context) SystemHealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result := SystemHealthResult{
		Store:   h.check(checkCtx, "Document store", h.store),
		Redis:   h.check(checkCtx, "Redis", h.redis),
		Overall: HealthStatusOK,
	}

	if result.Store.Status != ComponentHealthStatusHealthy || result.Redis.Status == ComponentHealthStatusUnhealthy {
		result.Overall = HealthStatusDegraded
	}
	return result
}

func (h *HealthChecker) check(ctx context.Context, name string, p Pinger) ComponentHealthResult {
	logger := slogging.Get()
	if p == nil {
		return ComponentHealthResult{
			Status:  ComponentHealthStatusUnknown,
			Message: name + " not configured",
		}
	}

	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		logger.Warn("%s health check failed: %v", name, err)
		return ComponentHealthResult{
			Status:    ComponentHealthStatusUnhealthy,
			LatencyMs: latency,
			Message:   name + " ping failed",
		}
	}

	logger.Debug("%s health check passed (latency: %dms)", name, latency)
	return ComponentHealthResult{
		Status:    ComponentHealthStatusHealthy,
		LatencyMs: latency,
		Message:   name + " is responsive",
	}
}
