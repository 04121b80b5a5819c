package orders

// All transaction events share one topic so a consumer sees them in
// commit order per transaction.
const TopicTransactionEvents = "checkout.transaction.events"

// Partition key = transaction id.
func PartitionKey(transactionID string) []byte { return []byte(transactionID) }
