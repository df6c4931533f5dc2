package types

import "time"

// PaymentFailedEvent is the SQS payload published when a scheduled payment
// reaches FAILED. JSON tags use snake_case to match the other queue consumers.
type PaymentFailedEvent struct {
	EventID            string           `json:"event_id"`
	ScheduledPaymentID string           `json:"scheduled_payment_id"`
	AccountID          string           `json:"account_id"`
	DueDate            time.Time        `json:"due_date"`
	Amount             Amount           `json:"amount"`
	Status             PaymentStatus    `json:"status"`
	Reason             string           `json:"reason"`
	Outcome            ExecutionOutcome `json:"outcome"`
	RetryCount         int              `json:"retry_count"`
	OccurredAt         time.Time        `json:"occurred_at"`

	// Observability
	TickID string `json:"tick_id,omitempty"`
}
