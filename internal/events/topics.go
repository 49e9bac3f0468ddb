package events

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicStockReserved      = "stock.reserved"
	TopicStockRejected      = "stock.rejected"
	TopicStockReleased      = "stock.released"
	TopicStockConsumed      = "stock.consumed"
	TopicFreshnessSwept     = "freshness.swept"
)

// PartitionKey keeps every event of one order on the same partition, in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
