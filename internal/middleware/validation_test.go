package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "munireports/internal/errors"
)

type runRequest struct {
	Cities      []string `json:"cities" validate:"required,min=1,max=50,dive,city"`
	Years       []int    `json:"years" validate:"required,min=1,dive,report_year"`
	Concurrency int      `json:"concurrency" validate:"gte=0,lte=8"`
}

func newTestValidator() *Validator {
	logger, _ := testLogger()
	return NewValidator(logger, apierrors.NewErrorHandler(logger, false))
}

func TestValidateStruct(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name      string
		req       runRequest
		wantField string
		wantMsg   string
	}{
		{"valid", runRequest{Cities: []string{"Congonhas", "São João del-Rei"}, Years: []int{2024, 2025}}, "", ""},
		{"no cities", runRequest{Years: []int{2025}}, "cities", "cities is required"},
		{"empty cities", runRequest{Cities: []string{}, Years: []int{2025}}, "cities", "cities must contain at least 1 item(s)"},
		{"bad city", runRequest{Cities: []string{"<script>"}, Years: []int{2025}}, "cities[0]", "cities[0] must be a municipality name"},
		{"old year", runRequest{Cities: []string{"Neves"}, Years: []int{1990}}, "years[0]", "years[0] must be 1998 or later"},
		{"concurrency", runRequest{Cities: []string{"Neves"}, Years: []int{2025}, Concurrency: 9}, "concurrency", "concurrency must be less than or equal to 8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.req)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var apiErr *apierrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, apierrors.CodeValidationFailed, apiErr.ErrorCode)
			details, ok := apiErr.Details.(apierrors.ValidationErrors)
			require.True(t, ok)
			require.NotEmpty(t, details.Errors)
			assert.Equal(t, tt.wantField, details.Errors[0].Field)
			assert.Equal(t, tt.wantMsg, details.Errors[0].Message)
		})
	}
}

func TestDecodeAndValidate(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name       string
		body       string
		wantOK     bool
		wantStatus int
	}{
		{"valid", `{"cities":["Congonhas"],"years":[2025],"concurrency":2}`, true, http.StatusOK},
		{"empty body", ``, false, http.StatusBadRequest},
		{"malformed", `{"cities":`, false, http.StatusBadRequest},
		{"unknown field", `{"cities":["Neves"],"years":[2025],"password":"x"}`, false, http.StatusBadRequest},
		{"invalid", `{"cities":["Neves"],"years":[1900]}`, false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			var dst runRequest

			ok := v.DecodeAndValidate(rec, req, &dst)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, []string{"Congonhas"}, dst.Cities)
				assert.Zero(t, rec.Body.Len())
				return
			}
			assert.Equal(t, tt.wantStatus, rec.Code)
			var problem map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.EqualValues(t, tt.wantStatus, problem["status"])
		})
	}
}

func TestDecodeAndValidateTooLarge(t *testing.T) {
	v := newTestValidator()
	v.maxBodySize = 10

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"cities":["Congonhas"]}`))
	rec := httptest.NewRecorder()
	assert.False(t, v.DecodeAndValidate(rec, req, &runRequest{}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestQueryInt(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		query  string
		want   int
		wantOK bool
	}{
		{"", 20, true},
		{"limit=5", 5, true},
		{"limit=abc", 0, false},
		{"limit=0", 0, false},
		{"limit=1000", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/history?"+tt.query, nil)
			rec := httptest.NewRecorder()
			got, ok := v.QueryInt(rec, req, "limit", 1, 500, 20)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			if !ok {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			}
		})
	}
}

func TestContentTypeValidator(t *testing.T) {
	logger, _ := testLogger()
	h := ContentTypeValidator(apierrors.NewErrorHandler(logger, false), "application/json")(okHandler())

	tests := []struct {
		method      string
		contentType string
		want        int
	}{
		{http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{http.MethodPost, "", http.StatusUnsupportedMediaType},
		{http.MethodGet, "", http.StatusOK},
		{http.MethodDelete, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.contentType, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/runs", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
