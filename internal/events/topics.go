package events

// Topic constants for domain events emitted by the quoting service.
const (
	TopicQuoteSubmitted   = "quote.submitted"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentExpired   = "payment.expired"
	TopicPaymentRefunded  = "payment.refunded"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicQuoteSubmitted,
		TopicPaymentSucceeded,
		TopicPaymentFailed,
		TopicPaymentExpired,
		TopicPaymentRefunded,
	}
}
