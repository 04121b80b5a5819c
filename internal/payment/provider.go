package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// EventKind is the closed set of callbacks the saga reacts to.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindPaymentCompleted
	KindSessionExpired
)

func (k EventKind) String() string {
	switch k {
	case KindPaymentCompleted:
		return "payment_completed"
	case KindSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Event is a verified provider callback.
type Event struct {
	ID         string // provider event id, used for dedup
	Type       string // provider's own type name
	Kind       EventKind
	SessionRef string // checkout session id, empty for KindUnknown
}

type SessionLine struct {
	Name            string
	UnitAmountCents int64
	Quantity        int
}

// Session is what the provider needs to open a hosted checkout.
type Session struct {
	TransactionID uuid.UUID
	CustomerEmail string
	Lines         []SessionLine
	ExpiresAt     time.Time
}

type CreatedSession struct {
	ID  string
	URL string
}

// Provider is the external payment service.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, s Session) (CreatedSession, error)
	// ParseEvent verifies the signature over the exact raw body and
	// classifies the event. Verification failures wrap ErrInvalidSignature.
	ParseEvent(payload []byte, signature string) (Event, error)
}
