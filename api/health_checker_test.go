package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	healthyPinger   = pingerFunc(func(context.Context) error { return nil })
	unhealthyPinger = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestHealthChecker_NewHealthChecker(t *testing.T) {
	checker := NewHealthChecker(500*time.Millisecond, nil, nil)
	if checker.timeout != 500*time.Millisecond {
		t.Errorf("expected timeout 500ms, got %v", checker.timeout)
	}

	checker = NewHealthChecker(0, nil, nil)
	if checker.timeout != 2*time.Second {
		t.Errorf("expected default timeout 2s, got %v", checker.timeout)
	}
}

func TestHealthChecker_CheckHealth(t *testing.T) {
	tests := []struct {
		name        string
		store       Pinger
		redis       Pinger
		wantOverall string
		wantStore   ComponentHealthStatus
		wantRedis   ComponentHealthStatus
	}{
		{"all healthy", healthyPinger, healthyPinger, HealthStatusOK, ComponentHealthStatusHealthy, ComponentHealthStatusHealthy},
		{"redis not configured", healthyPinger, nil, HealthStatusOK, ComponentHealthStatusHealthy, ComponentHealthStatusUnknown},
		{"store down", unhealthyPinger, healthyPinger, HealthStatusDegraded, ComponentHealthStatusUnhealthy, ComponentHealthStatusHealthy},
		{"redis down", healthyPinger, unhealthyPinger, HealthStatusDegraded, ComponentHealthStatusHealthy, ComponentHealthStatusUnhealthy},
		{"no store", nil, nil, HealthStatusDegraded, ComponentHealthStatusUnknown, ComponentHealthStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewHealthChecker(time.Second, tt.store, tt.redis).CheckHealth(context.Background())
			if result.Overall != tt.wantOverall {
				t.Errorf("overall: expected %s, got %s", tt.wantOverall, result.Overall)
			}
			if result.Store.Status != tt.wantStore {
				t.Errorf("store: expected %s, got %s", tt.wantStore, result.Store.Status)
			}
			if result.Redis.Status != tt.wantRedis {
				t.Errorf("redis: expected %s, got %s", tt.wantRedis, result.Redis.Status)
			}
		})
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	slow := pingerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	result := NewHealthChecker(50*time.Millisecond, slow, nil).CheckHealth(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("health check ignored its timeout, took %v", elapsed)
	}
	if result.Store.Status != ComponentHealthStatusUnhealthy {
		t.Errorf("expected unhealthy store after timeout, got %s", result.Store.Status)
	}
	if result.Store.Message != "Document store ping failed" {
		t.Errorf("unexpected message %q", result.Store.Message)
	}
}
