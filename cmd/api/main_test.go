package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/config"
	"github.com/imrishuroy/go-clothing-orderflow/internal/metrics"
)

func TestSetupRouter_HealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec, handler := newRecorder(&config.Config{MetricsBackend: metrics.BackendPrometheus, MetricsNamespace: "test"}, nil, zap.NewNop())
	require.NotNil(t, handler)
	_, isProm := rec.(*metrics.Prometheus)
	assert.True(t, isProm)

	r := setupRouter(routerConfig{metrics: handler, logger: zap.NewNop()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRouter_NoMetricsRouteWithoutPrometheus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec, handler := newRecorder(&config.Config{MetricsBackend: metrics.BackendNone}, nil, zap.NewNop())
	assert.Nil(t, handler)
	assert.IsType(t, metrics.Nop{}, rec)

	r := setupRouter(routerConfig{metrics: handler, logger: zap.NewNop()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
