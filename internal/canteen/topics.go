package canteen

const (
	TopicBookingEvents = "canteen.booking.events"
	TopicAlertEvents   = "canteen.alert.events"
)

// Partition key = slot_id, so every event of one slot queue keeps its order.
func PartitionKey(slotID string) []byte { return []byte(slotID) }
