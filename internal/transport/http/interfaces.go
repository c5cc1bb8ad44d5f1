package http

import (
	"context"

	"munireports/internal/history"
	"munireports/internal/operations"
	"munireports/internal/services"
)

// RunManager is the part of services.RunService the handlers use
type RunManager interface {
	Start(ctx context.Context, pairs []operations.Pair, concurrency int) (string, error)
	Status(runID string) (services.RunStatus, error)
	Runs() []services.RunStatus
	Cancel(runID string) error
	OpenWorkspace(ctx context.Context, city string, year int) (string, error)
}

// HistoryReader is the read side of history.Store
type HistoryReader interface {
	List(ctx context.Context, f history.Filter) ([]history.Entry, error)
	Runs(ctx context.Context, limit int) ([]history.RunSummary, error)
	Run(ctx context.Context, runID string) (history.RunSummary, error)
}

// HealthChecker is implemented by services.HealthService
type HealthChecker interface {
	HealthCheck(ctx context.Context) services.HealthStatus
	LivenessCheck(ctx context.Context) services.HealthStatus
}
