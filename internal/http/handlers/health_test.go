package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardpipe/cardpipe/internal/jobs/registry"
	"github.com/cardpipe/cardpipe/internal/platform/drain"
)

func TestHealthCheckMatchesRouteTableShape(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := registry.New(2, 8, time.Hour)
	h := NewHealthHandler(reg, t.TempDir(), 0, time.Now(), nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	c.Request.Host = "cardpipe.example.com"
	h.HealthCheck(c)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "http://cardpipe.example.com", body["url"])
	assert.Contains(t, body, "workers")
	assert.Contains(t, body, "queue")
}

func TestHealthCheckReportsDownWhileDraining(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := registry.New(2, 8, time.Hour)
	var flag drain.Flag
	flag.Start()
	h := NewHealthHandler(reg, t.TempDir(), 0, time.Now(), &flag)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	h.HealthCheck(c)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "down", body["status"])
}
