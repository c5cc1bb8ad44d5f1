package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Component statuses
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// ClientCounter reports connected WebSocket clients
type ClientCounter interface {
	ClientCount() int
}

// RunCounter reports runs in progress
type RunCounter interface {
	Active() int
}

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthDeps are the components HealthService inspects. Nil members are
// reported as not configured.
type HealthDeps struct {
	Version  string
	DataRoot string
	Runs     RunCounter
	Hub      ClientCounter
	History  Pinger
	Logger   *slog.Logger
}

// HealthService provides health check functionality
type HealthService struct {
	deps      HealthDeps
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service
func NewHealthService(deps HealthDeps) *HealthService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &HealthService{
		deps:      deps,
		startTime: time.Now(),
		logger:    deps.Logger.With(slog.String("component", "services.health")),
	}
}

// HealthCheck returns overall health: "ok" when every component is ready,
// "degraded" otherwise
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.deps.Version,
		Runtime: map[string]interface{}{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
			"os":             runtime.GOOS,
			"arch":           runtime.GOARCH,
		},
		Services: map[string]ServiceHealth{
			"runs":      hs.checkRuns(),
			"websocket": hs.checkWebSocket(),
			"history":   hs.checkHistory(ctx),
			"data":      hs.checkData(),
		},
	}

	for name, s := range status.Services {
		if s.Status != StatusReady {
			status.Status = "degraded"
			hs.logger.WarnContext(ctx, "Component not ready",
				slog.String("service", name),
				slog.String("message", s.Message))
		}
	}
	return status
}

// LivenessCheck only reports that the process answers
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.deps.Version,
	}
}

func (hs *HealthService) checkRuns() ServiceHealth {
	if hs.deps.Runs == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "run service not configured"}
	}
	return ServiceHealth{Status: StatusReady, Message: fmt.Sprintf("%d active run(s)", hs.deps.Runs.Active())}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.deps.Hub == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "websocket hub not configured"}
	}
	return ServiceHealth{Status: StatusReady, Message: fmt.Sprintf("%d client(s)", hs.deps.Hub.ClientCount())}
}

func (hs *HealthService) checkHistory(ctx context.Context) ServiceHealth {
	if hs.deps.History == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "history store not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hs.deps.History.Ping(ctx); err != nil {
		return ServiceHealth{Status: StatusNotReady, Message: err.Error()}
	}
	return ServiceHealth{Status: StatusReady}
}

func (hs *HealthService) checkData() ServiceHealth {
	info, err := os.Stat(hs.deps.DataRoot)
	if err != nil || !info.IsDir() {
		return ServiceHealth{
			Status:  StatusNotReady,
			Message: fmt.Sprintf("data root not found: %s", hs.deps.DataRoot),
		}
	}
	return ServiceHealth{Status: StatusReady}
}
