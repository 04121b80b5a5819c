package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store runs fn inside one unit of work. Everything fn writes commits
// together or not at all. A commit that loses an optimistic check
// returns ErrVersionConflict.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside a unit of work.
type Tx interface {
	// Products returns the requested rows keyed by id; missing ids are
	// simply absent.
	Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	// SaveProductCounters writes CountInStock and ReservedCount if the
	// stored version still equals p.Version, and bumps the version.
	SaveProductCounters(ctx context.Context, p Product) error

	CreateTransaction(ctx context.Context, t Transaction, lines []Order) error
	Transaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	TransactionBySession(ctx context.Context, sessionID string) (Transaction, error)
	// ClaimTransaction moves the status from -> to and reports whether
	// this caller won the row.
	ClaimTransaction(ctx context.Context, id uuid.UUID, from, to TxStatus) (bool, error)
	SetExternalSession(ctx context.Context, id uuid.UUID, sessionID string) error
	// StaleTransactions lists Processing transactions created before cutoff.
	StaleTransactions(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	Order(ctx context.Context, id uuid.UUID) (Order, error)
	OrdersByTransaction(ctx context.Context, txID uuid.UUID) ([]Order, error)
	// SetOrderStatus is conditional on the current status; a mismatch is
	// ErrVersionConflict.
	SetOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) error

	Buyer(ctx context.Context, id uuid.UUID) (Buyer, error)
	CartLines(ctx context.Context, buyerID uuid.UUID) ([]CartLine, error)
	ClearCart(ctx context.Context, buyerID uuid.UUID) error
}

// EventPublisher receives saga events after the unit of work that
// produced them has committed.
type EventPublisher interface {
	Publish(ctx context.Context, ev Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }
