package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"scheduledpayments/internal/config"
	"scheduledpayments/internal/types"
)

// Sinks bundles where execution metrics and failure alerts go.
type Sinks struct {
	Metrics  types.MetricsRecorder
	Notifier types.FailureNotifier
}

// awsLoader is swapped in tests.
var awsLoader = func(ctx context.Context, region string) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
}

// NewSinks builds CloudWatch metrics when METRICS_ENABLED is set and an SQS
// notifier when SQS_FAILED_PAYMENTS is set. Anything not configured falls back
// to NoopMetrics and LogFailureNotifier, and AWS configuration is only loaded
// when at least one AWS sink is needed.
func NewSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Sinks, error) {
	sinks := Sinks{
		Metrics:  NoopMetrics{},
		Notifier: NewLogFailureNotifier(logger),
	}
	queueURL := cfg.AWS.FailedPaymentsQueue
	if !cfg.Observability.MetricsEnabled && queueURL == "" {
		return sinks, nil
	}

	awsCfg, err := awsLoader(ctx, cfg.AWS.Region)
	if err != nil {
		return Sinks{}, fmt.Errorf("loading AWS config (region=%s): %w", cfg.AWS.Region, err)
	}
	endpoint := cfg.AWS.EndpointURL

	if cfg.Observability.MetricsEnabled {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		sinks.Metrics = NewCloudWatchMetrics(cw, cfg.Observability.MetricNamespace, logger)
		logger.Info("cloudwatch metrics enabled", "namespace", cfg.Observability.MetricNamespace)
	}

	if queueURL != "" {
		q := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		sinks.Notifier = NewSQSFailureNotifier(q, queueURL, logger)
		logger.Info("failed payment alerts enabled", "queue_url", queueURL)
	}

	return sinks, nil
}
