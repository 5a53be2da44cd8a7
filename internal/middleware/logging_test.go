package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLogger(t *testing.T) {
	t.Run("logs request fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		h := chimiddleware.RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("hello"))
		})))

		req := httptest.NewRequest(http.MethodPost, "/execute", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)

		line := logLine(t, &buf)
		assert.Equal(t, "INFO", line["level"])
		assert.Equal(t, "POST", line["method"])
		assert.Equal(t, "/execute", line["path"])
		assert.Equal(t, float64(http.StatusCreated), line["status"])
		assert.Equal(t, float64(5), line["bytes"])
		assert.NotEmpty(t, line["requestId"])
	})

	t.Run("server errors log at error level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/execute", nil))

		assert.Equal(t, "ERROR", logLine(t, &buf)["level"])
	})

	t.Run("health probes are quiet", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Empty(t, buf.String())
	})

	t.Run("flush passes through", func(t *testing.T) {
		logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
		rec := httptest.NewRecorder()

		h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f, ok := w.(http.Flusher)
			require.True(t, ok)
			f.Flush()
		}))
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

		assert.True(t, rec.Flushed)
	})
}
