package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"copytrader/internal/infrastructure/health"
	"copytrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthServer_Health(t *testing.T) {
	hm := health.NewHealthManager(nil)
	s := NewHealthServer(":0", logging.NewNopLogger(), hm)
	handler := s.Handler()

	hm.Register("control", func() error { return nil })
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	hm.Register("exchange", func() error { return errors.New("down") })
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, "Unhealthy: down", components["exchange"])
}

func TestHealthServer_StatusMergesProviders(t *testing.T) {
	s := NewHealthServer(":0", logging.NewNopLogger(), nil)
	s.UpdateStatus("version", "test")
	s.AddStatusProvider(func() map[string]interface{} {
		return map[string]interface{}{"ratio": 0.1, "api_connected": true}
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, 0.1, body["ratio"])
	assert.Equal(t, true, body["api_connected"])
}

func TestHealthServer_StartStop(t *testing.T) {
	s := NewHealthServer("127.0.0.1:0", logging.NewNopLogger(), nil)
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, s.Stop(context.Background()))
}
