package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"munireports/internal/services"
)

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) services.HealthStatus {
	return m.Called(ctx).Get(0).(services.HealthStatus)
}

func (m *MockHealthChecker) LivenessCheck(ctx context.Context) services.HealthStatus {
	return m.Called(ctx).Get(0).(services.HealthStatus)
}

func TestHealthHandler(t *testing.T) {
	d := newTestDeps()
	checker := &MockHealthChecker{}
	now := time.Now()
	checker.On("HealthCheck", mock.Anything).Return(services.HealthStatus{
		Status:    "degraded",
		Timestamp: now,
		Version:   "1.2.0",
		Services: map[string]services.ServiceHealth{
			"history": {Status: services.StatusNotReady, Message: "database is locked"},
		},
	})
	checker.On("LivenessCheck", mock.Anything).Return(services.HealthStatus{Status: "alive", Timestamp: now})

	r := chi.NewRouter()
	r.Mount("/api/health", NewHealthHandler(checker, d.logger).Routes())

	rec := serve(t, r, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "1.2.0", body["version"])
	history := body["services"].(map[string]interface{})["history"].(map[string]interface{})
	assert.Equal(t, "database is locked", history["message"])

	rec = serve(t, r, http.MethodGet, "/api/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decodeBody(t, rec)["status"])

	checker.AssertExpectations(t)
}
