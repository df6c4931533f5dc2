package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"scheduledpayments/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestCloudWatchMetrics_Count(t *testing.T) {
	cw := &mockCloudWatchClient{}
	var buf bytes.Buffer
	metrics := NewCloudWatchMetrics(cw, "", bufferLogger(&buf))

	metrics.Count(context.Background(), types.MetricAdmissionRejected, 1, map[string]string{
		types.DimReason: "limit",
	})

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != types.MetricAdmissionRejected {
		t.Errorf("expected metric name %q, got %q", types.MetricAdmissionRejected, *datum.MetricName)
	}
	if *datum.Value != 1.0 {
		t.Errorf("expected value 1.0, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected unit Count, got %s", datum.Unit)
	}
	assertDimension(t, datum.Dimensions, types.DimReason, "limit")
}

func TestCloudWatchMetrics_DurationInMilliseconds(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "Custom", bufferLogger(&bytes.Buffer{}))

	metrics.Duration(context.Background(), types.MetricTickDuration, 1500*time.Millisecond, nil)

	datum := cw.calls[0].MetricData[0]
	if *cw.calls[0].Namespace != "Custom" {
		t.Errorf("expected namespace Custom, got %q", *cw.calls[0].Namespace)
	}
	if *datum.Value != 1500 {
		t.Errorf("expected 1500ms, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected unit Milliseconds, got %s", datum.Unit)
	}
	if len(datum.Dimensions) != 0 {
		t.Errorf("expected no dimensions, got %d", len(datum.Dimensions))
	}
}

func TestCloudWatchMetrics_DimensionsSorted(t *testing.T) {
	got := dimensions(map[string]string{"b": "2", "a": "1", "c": "3"})
	if len(got) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if *got[i].Name != want {
			t.Errorf("dimension %d = %q, want %q", i, *got[i].Name, want)
		}
	}
}

func TestCloudWatchMetrics_ErrorIsLoggedNotPropagated(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	var buf bytes.Buffer
	metrics := NewCloudWatchMetrics(cw, "", bufferLogger(&buf))

	metrics.Count(context.Background(), types.MetricPaymentFailed, 1, nil)

	if !strings.Contains(buf.String(), "failed to publish metric") {
		t.Errorf("expected warning in log, got %q", buf.String())
	}
}

func TestNoopMetrics(t *testing.T) {
	var m types.MetricsRecorder = NoopMetrics{}
	m.Count(context.Background(), "x", 1, nil)
	m.Duration(context.Background(), "x", time.Second, nil)
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %s = %q, want %q", name, *d.Value, value)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}
