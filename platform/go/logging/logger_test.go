package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerEmitsSeverityAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "worker", Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("owner_email", "a@x.com"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "worker", entry["component"])
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "a@x.com", entry["owner_email"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestFromContextFallsBack(t *testing.T) {
	fallback := zap.NewExample()
	require.Same(t, fallback, FromContext(context.Background(), fallback))
	require.NotNil(t, FromContext(context.Background(), nil))

	scoped := zap.NewNop()
	ctx := WithLogger(context.Background(), scoped)
	require.Same(t, scoped, FromContext(ctx, fallback))
}

func TestRequestLoggerStoresScopedLogger(t *testing.T) {
	var seen bool
	handler := RequestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = r.Context().Value(ctxKey{}).(*zap.Logger)
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/triggers/cleanup", nil))

	require.True(t, seen)
	require.Equal(t, http.StatusAccepted, rec.Code)
}
