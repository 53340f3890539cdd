package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecoveryRouter(logs *bytes.Buffer, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationID())
	router.Use(Recovery(slog.New(slog.NewJSONHandler(logs, nil))))
	router.GET("/api/v1/records/:orderId/:type", handler)
	return router
}

func TestRecovery_PanicBecomesInternalError(t *testing.T) {
	var logs bytes.Buffer
	router := newRecoveryRouter(&logs, func(c *gin.Context) {
		panic("aggregate is nil")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/302-1/SHIPMENT", nil)
	req.Header.Set(CorrelationIDHeader, "ops-9")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		CorrelationID string `json:"correlation_id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Error.Code)
	assert.Equal(t, "ops-9", body.CorrelationID)

	out := logs.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"msg":"Panic recovered"`)
	assert.Contains(t, out, `"error":"aggregate is nil"`)
	assert.Contains(t, out, `"route":"/api/v1/records/:orderId/:type"`)
	assert.Contains(t, out, `"correlation_id":"ops-9"`)
	assert.Contains(t, out, `"stack":`)
}

func TestRecovery_ClientGone(t *testing.T) {
	var logs bytes.Buffer
	router := newRecoveryRouter(&logs, func(c *gin.Context) {
		panic(fmt.Errorf("write response: %w", syscall.EPIPE))
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/records/302-1/SHIPMENT", nil))

	assert.Empty(t, rr.Body.String())
	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.NotContains(t, logs.String(), `"stack":`)
}

func TestRecovery_NoPanicNoEffect(t *testing.T) {
	var logs bytes.Buffer
	router := newRecoveryRouter(&logs, func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/records/302-1/SHIPMENT", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, logs.String())
}
