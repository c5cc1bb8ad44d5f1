package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientLogHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLog    string
	}{
		{
			name:       "info with data",
			body:       `{"level":"info","message":"form submitted","source":"ui","data":{"cities":2}}`,
			wantStatus: http.StatusAccepted,
			wantLog:    `"level":"INFO","msg":"form submitted"`,
		},
		{
			name:       "level defaults to info",
			body:       `{"message":"socket reconnected"}`,
			wantStatus: http.StatusAccepted,
			wantLog:    `"level":"INFO","msg":"socket reconnected"`,
		},
		{
			name:       "error level",
			body:       `{"level":"error","message":"fetch failed"}`,
			wantStatus: http.StatusAccepted,
			wantLog:    `"level":"ERROR","msg":"fetch failed"`,
		},
		{
			name:       "unknown level",
			body:       `{"level":"fatal","message":"x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing message",
			body:       `{"level":"warn"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed",
			body:       `{"level":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps()
			h := NewClientLogHandler(d.validator, d.logger)

			rec := serve(t, http.HandlerFunc(h.Handle), http.MethodPost, "/api/v1/client-log", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantLog != "" {
				assert.Contains(t, d.logs.String(), tt.wantLog)
				assert.Equal(t, true, decodeBody(t, rec)["success"])
			}
		})
	}
}

func TestParseClientLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseClientLevel("debug").String())
	assert.Equal(t, "WARN", parseClientLevel("warn").String())
	assert.Equal(t, "INFO", parseClientLevel("").String())
}
