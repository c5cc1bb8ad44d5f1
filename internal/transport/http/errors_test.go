package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/config"
	apierrors "munireports/internal/errors"
	"munireports/internal/history"
	"munireports/internal/services"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"run not found", fmt.Errorf("%w: r", services.ErrRunNotFound), apierrors.CodeRunNotFound, http.StatusNotFound},
		{"history not found", history.ErrNotFound, apierrors.CodeRunNotFound, http.StatusNotFound},
		{"finished", services.ErrRunFinished, apierrors.CodeRunFinished, http.StatusConflict},
		{"no pairs", services.ErrNoPairs, apierrors.CodeValidationFailed, http.StatusBadRequest},
		{"closed", services.ErrServiceClosed, apierrors.CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"city", fmt.Errorf("%w: atlantis", config.ErrCityNotFound), apierrors.CodeNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *apierrors.APIError
			require.ErrorAs(t, translateError(tt.err, "r"), &apiErr)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
		})
	}

	assert.NoError(t, translateError(nil, ""))
	plain := errors.New("plain")
	assert.Same(t, plain, translateError(plain, ""))
}
