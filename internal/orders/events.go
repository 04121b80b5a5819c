package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventStockReserved         = "StockReserved"
	EventPaymentSessionCreated = "PaymentSessionCreated"
	EventReservationConfirmed  = "ReservationConfirmed"
	EventReservationReleased   = "ReservationReleased"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // transaction id
	Payload       json.RawMessage `json:"payload"`
}

// TransactionPayload is shared by every transaction event; Status is
// the status right after the event.
type TransactionPayload struct {
	TransactionID string     `json:"transaction_id"`
	BuyerID       string     `json:"buyer_id"`
	Status        TxStatus   `json:"status"`
	AmountCents   int64      `json:"amount_cents,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	Items         []LineItem `json:"items,omitempty"`
}

// NewEnvelope wraps p for the given producer. Marshal of the payload
// cannot fail for the payload types of this package.
func NewEnvelope(eventType, producer string, p TransactionPayload) Envelope {
	raw, _ := json.Marshal(p)
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: p.TransactionID,
		Payload:       raw,
	}
}

// PayloadFor builds the event payload of a transaction and its lines.
func PayloadFor(t Transaction, lines []Order) TransactionPayload {
	p := TransactionPayload{
		TransactionID: t.ID.String(),
		BuyerID:       t.BuyerID.String(),
		Status:        t.Status,
		AmountCents:   t.AmountCents,
		SessionID:     t.ExternalSessionID,
	}
	for _, o := range lines {
		p.Items = append(p.Items, LineItem{ProductID: o.ProductID, Count: o.Count})
	}
	return p
}
