// Package telemetry publishes execution metrics to CloudWatch and failed
// payment alerts to SQS.
package telemetry

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"scheduledpayments/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertions.
var (
	_ types.MetricsRecorder = (*CloudWatchMetrics)(nil)
	_ types.MetricsRecorder = NoopMetrics{}
)

// CloudWatchMetrics implements types.MetricsRecorder by emitting one
// PutMetricData call per observation. Publishing failures are logged and
// swallowed; metrics never fail a payment.
//
// Metrics emitted (see types/telemetry.go):
//   - PaymentsClaimed, PaymentExecuted, PaymentRetried, PaymentFailed, ClaimLost
//   - AdmissionRejected: Dims {Reason}
//   - ExternalAPIFailure: Dims {Provider}
//   - SchedulerTickDuration (milliseconds)
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
// An empty namespace falls back to types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// Count emits a Count-unit datum.
func (m *CloudWatchMetrics) Count(ctx context.Context, metric string, value float64, dims map[string]string) {
	m.put(ctx, metric, value, cwtypes.StandardUnitCount, dims)
}

// Duration emits d in milliseconds.
func (m *CloudWatchMetrics) Duration(ctx context.Context, metric string, d time.Duration, dims map[string]string) {
	m.put(ctx, metric, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims)
}

func (m *CloudWatchMetrics) put(ctx context.Context, metric string, value float64, unit cwtypes.StandardUnit, dims map[string]string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metric),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dimensions(dims),
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish metric",
			"error", err.Error(),
			"metric", metric,
		)
	}
}

// dimensions converts dims into CloudWatch dimensions in key order.
func dimensions(dims map[string]string) []cwtypes.Dimension {
	if len(dims) == 0 {
		return nil
	}
	out := make([]cwtypes.Dimension, 0, len(dims))
	for _, k := range slices.Sorted(maps.Keys(dims)) {
		out = append(out, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(dims[k]),
		})
	}
	return out
}

// NoopMetrics discards every observation. Used when METRICS_ENABLED is false.
type NoopMetrics struct{}

func (NoopMetrics) Count(context.Context, string, float64, map[string]string)          {}
func (NoopMetrics) Duration(context.Context, string, time.Duration, map[string]string) {}
