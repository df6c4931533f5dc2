package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"scheduledpayments/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testConfig() *config.Config {
	return &config.Config{
		Service: "scheduled-payments",
		Server: config.ServerConfig{
			Port:               "0",
			RequestTimeout:     5 * time.Second,
			CorsAllowedOrigins: []string{"*"},
		},
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			WindowSeconds:     60,
			DefaultPerWindow:  100,
			CreatePerWindow:   2,
			ListPerWindow:     3,
			UpcomingPerWindow: 3,
			DeletePerWindow:   1,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error envelope %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

// recordingMetrics captures every recorded metric.
type recordingMetrics struct {
	mu     sync.Mutex
	counts []recordedMetric
	times  []recordedMetric
}

type recordedMetric struct {
	name string
	dims map[string]string
}

func (m *recordingMetrics) Count(_ context.Context, metric string, _ float64, dims map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = append(m.counts, recordedMetric{name: metric, dims: dims})
}

func (m *recordingMetrics) Duration(_ context.Context, metric string, _ time.Duration, dims map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times = append(m.times, recordedMetric{name: metric, dims: dims})
}
