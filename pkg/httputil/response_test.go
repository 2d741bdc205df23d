package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.New("test error")

	WriteError(w, http.StatusBadRequest, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "test error")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "resource not found")
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteSuccess(w, map[string]int{"count": 3})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "3")
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteCreated(w, map[string]int64{"id": 42})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "42")
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad input") }, http.StatusBadRequest, "bad input"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "no token") }, http.StatusUnauthorized, "no token"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "not allowed") }, http.StatusForbidden, "not allowed"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "missing") }, http.StatusNotFound, "missing"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "duplicate") }, http.StatusConflict, "duplicate"},
		{"too many requests", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests, "slow down"},
		{"service unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "not ready") }, http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w, errors.New("internal error"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal error")
}
