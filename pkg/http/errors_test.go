package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkghttp "github.com/chartlock/chartlock/pkg/http"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Nil(t, resp.RemainingAttempts)
	assert.Nil(t, resp.LockedUntil)
}

func TestWriteAttemptsError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteAttemptsError(w, "invalid_credentials", "Invalid email or password", 3)

	assert.Equal(t, 401, w.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_credentials", resp.Error)
	require.NotNil(t, resp.RemainingAttempts)
	assert.Equal(t, 3, *resp.RemainingAttempts)
}

func TestWriteLocked(t *testing.T) {
	w := httptest.NewRecorder()
	until := time.Now().Add(10 * time.Minute)

	pkghttp.WriteLocked(w, "Account temporarily locked", until)

	assert.Equal(t, 429, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "account_locked", resp.Error)
	require.NotNil(t, resp.LockedUntil)
	assert.WithinDuration(t, until, *resp.LockedUntil, time.Second)
}

func TestWriteLocked_ExpiredLockOmitsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteLocked(w, "Account temporarily locked", time.Now().Add(-time.Minute))

	assert.Equal(t, 429, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestCommonWriters(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w *httptest.ResponseRecorder)
		wantCode int
		wantErr  string
	}{
		{"bad request", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "m") }, 400, "bad_request"},
		{"unauthorized", func(w *httptest.ResponseRecorder) { pkghttp.WriteUnauthorized(w, "m") }, 401, "unauthorized"},
		{"forbidden", func(w *httptest.ResponseRecorder) { pkghttp.WriteForbidden(w, "m") }, 403, "forbidden"},
		{"not found", func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "m") }, 404, "not_found"},
		{"conflict", func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "m") }, 409, "conflict"},
		{"gone", func(w *httptest.ResponseRecorder) { pkghttp.WriteGone(w, "m") }, 410, "expired"},
		{"rate limited", func(w *httptest.ResponseRecorder) { pkghttp.WriteTooManyRequests(w, "m") }, 429, "rate_limit_exceeded"},
		{"internal", func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "m") }, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantCode, w.Code)

			var resp pkghttp.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr, resp.Error)
		})
	}
}
