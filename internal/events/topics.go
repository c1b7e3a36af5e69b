package events

// Topic constants for refund domain events.
const (
	TopicItemsLoaded   = "order_items.loaded"
	TopicRefundIssued  = "refund.issued"
	TopicRefundFailed  = "refund.failed"
	TopicRefundApplied = "refund.applied"
)

// DefaultTopics returns every topic emitted by the service.
func DefaultTopics() []string {
	return []string{
		TopicItemsLoaded,
		TopicRefundIssued,
		TopicRefundFailed,
		TopicRefundApplied,
	}
}
