package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"scheduledpayments/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var (
	_ types.FailureNotifier = (*SQSFailureNotifier)(nil)
	_ types.FailureNotifier = (*LogFailureNotifier)(nil)
)

// SQSFailureNotifier publishes a PaymentFailedEvent for every payment that
// reaches FAILED so that downstream consumers can notify the account holder.
type SQSFailureNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSFailureNotifier creates a notifier targeting the failed payments queue.
func NewSQSFailureNotifier(client SQSSender, queueURL string, logger *slog.Logger) *SQSFailureNotifier {
	return &SQSFailureNotifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// NotifyFailed serializes the event and sends it to the queue. The payment id
// is carried as a message attribute so consumers can filter without parsing.
func (n *SQSFailureNotifier) NotifyFailed(ctx context.Context, event types.PaymentFailedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failure notifier: failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"scheduled_payment_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.ScheduledPaymentID),
			},
			"outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Outcome)),
			},
		},
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failure notifier: failed to send message to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "payment failure published",
		"event_id", event.EventID,
		"scheduled_payment_id", event.ScheduledPaymentID,
		"outcome", string(event.Outcome),
	)
	return nil
}

// LogFailureNotifier records failures in the log only. Used when no queue is
// configured.
type LogFailureNotifier struct {
	logger *slog.Logger
}

// NewLogFailureNotifier creates a LogFailureNotifier.
func NewLogFailureNotifier(logger *slog.Logger) *LogFailureNotifier {
	return &LogFailureNotifier{logger: logger}
}

// NotifyFailed logs the event at error level.
func (n *LogFailureNotifier) NotifyFailed(ctx context.Context, event types.PaymentFailedEvent) error {
	n.logger.ErrorContext(ctx, "scheduled payment failed",
		"event_id", event.EventID,
		"scheduled_payment_id", event.ScheduledPaymentID,
		"account_id", event.AccountID,
		"due_date", event.DueDate,
		"outcome", string(event.Outcome),
		"reason", event.Reason,
		"retry_count", event.RetryCount,
	)
	return nil
}
