package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricTickDuration      = "SchedulerTickDuration"
	MetricPaymentsClaimed   = "PaymentsClaimed"
	MetricPaymentExecuted   = "PaymentExecuted"
	MetricPaymentRetried    = "PaymentRetried"
	MetricPaymentFailed     = "PaymentFailed"
	MetricClaimLost         = "ClaimLost"
	MetricAdmissionRejected = "AdmissionRejected"
	MetricAPILatency        = "APILatency"
	MetricAPIRequestCount   = "APIRequestCount"

	// Dimension Keys
	DimOutcome = "Outcome"
	DimReason  = "Reason"
	DimMethod  = "Method"
	DimRoute   = "Route"
	DimStatus  = "Status"

	// Metric Namespace
	MetricNamespace = "ScheduledPayments"
)
