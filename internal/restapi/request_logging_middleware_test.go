package restapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripcards.app/internal/logging"
)

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, slog.LevelInfo)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})
	handler := RequestIDMiddleware(NewRequestLoggingMiddleware(logger)(inner))

	req := httptest.NewRequest(http.MethodGet, "/api/arrivals?mode=subway&key=secret", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var handlerLine, accessLine map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &handlerLine))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &accessLine))

	assert.Equal(t, "inside handler", handlerLine["msg"])
	assert.Equal(t, "req-42", handlerLine["request_id"], "handlers log with the request id")

	assert.Equal(t, "http_request", accessLine["msg"])
	assert.Equal(t, "/api/arrivals", accessLine["path"])
	assert.Equal(t, float64(http.StatusTeapot), accessLine["status"])
	assert.Equal(t, "req-42", accessLine["request_id"])
	assert.NotContains(t, buf.String(), "secret", "query strings carry API keys and are not logged")
}
