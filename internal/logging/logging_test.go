package logging

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warn ", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(&buf, slog.LevelInfo), "feeds")

	LogError(logger, "fetch failed", assert.AnError, slog.String("adapter", "siri"))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"msg":"fetch failed"`)
	assert.Contains(t, out, `"component":"feeds"`)
	assert.Contains(t, out, `"adapter":"siri"`)
	assert.Contains(t, out, assert.AnError.Error())
}

func TestLogOperation_DropsZeroDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	LogOperation(logger, "snapshot_opened", slog.Duration("duration", 0), slog.String("family", "rail"))
	assert.NotContains(t, buf.String(), `"duration"`)
	assert.Contains(t, buf.String(), `"family":"rail"`)

	buf.Reset()
	LogOperation(logger, "snapshot_opened", slog.Duration("duration", time.Second))
	assert.Contains(t, buf.String(), `"duration"`)
}

func TestNilLoggerIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		LogError(nil, "x", assert.AnError)
		LogOperation(nil, "x")
		LogHTTPRequest(nil, "GET", "/", 200, 1)
	})
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

type errorCloser struct{ err error }

func (e errorCloser) Close() error { return e.err }

type fakeTx struct{ err error }

func (f fakeTx) Rollback() error { return f.err }

func TestForRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	ForRequest(context.Background(), logger).Info("untagged")
	assert.NotContains(t, buf.String(), "request_id")
	buf.Reset()

	ctx := WithRequestID(context.Background(), "req-9")
	assert.Equal(t, "req-9", RequestID(ctx))
	ForRequest(ctx, logger).Info("tagged")
	assert.Contains(t, buf.String(), `"request_id":"req-9"`)
}

func TestSafeCloseWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	SafeCloseWithLogging(errorCloser{}, logger, "close_ok")
	assert.Empty(t, buf.String())

	SafeCloseWithLogging(errorCloser{err: assert.AnError}, logger, "close_body")
	assert.Contains(t, buf.String(), `"msg":"failed to close resource"`)
	assert.Contains(t, buf.String(), `"operation":"close_body"`)
}

func TestSafeRollbackWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	SafeRollbackWithLogging(fakeTx{err: sql.ErrTxDone}, logger, "import")
	SafeRollbackWithLogging(fakeTx{}, logger, "import")
	assert.Empty(t, buf.String())

	SafeRollbackWithLogging(fakeTx{err: assert.AnError}, logger, "import")
	assert.Contains(t, buf.String(), `"msg":"failed to rollback transaction"`)
}
