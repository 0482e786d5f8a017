package delivery

const (
	TopicDeliveryCreated = "delivery.created"
	TopicDeliveryUpdated = "delivery.updated"
	TopicDeliveryDeleted = "delivery.deleted"
	TopicStockRejected   = "delivery.stock.rejected"
)

// Partition key = delivery_id, so all events for one delivery keep order.
func PartitionKey(deliveryID string) []byte { return []byte(deliveryID) }
