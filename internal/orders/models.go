package orders

import (
	"time"

	"github.com/google/uuid"
)

// Product is the stock record of a catalog item. Counters are only
// written through the reservation engine.
type Product struct {
	ID            uuid.UUID
	SellerID      uuid.UUID
	Name          string
	PriceCents    int64
	CountInStock  int
	ReservedCount int
	Version       int64 // bumped on every counter write
}

// Available is what new reservations may still take.
func (p Product) Available() int { return p.CountInStock - p.ReservedCount }

// LineItem is a requested quantity of one product.
type LineItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Count     int       `json:"count"`
}

type CartLine struct {
	BuyerID uuid.UUID
	Product Product
	Count   int
}

type Buyer struct {
	ID      uuid.UUID
	Email   string
	Address string
}

// Transaction is the payment aggregate. Its ID is a UUIDv7, so the
// creation time is recoverable from the id itself (see CreatedAt).
type Transaction struct {
	ID                uuid.UUID
	BuyerID           uuid.UUID
	AmountCents       int64
	Status            TxStatus
	ExternalSessionID string // empty until the payment session exists
}

func (t Transaction) CreatedAt() time.Time { return CreatedAt(t.ID) }

type Order struct {
	ID              uuid.UUID
	BuyerID         uuid.UUID
	SellerID        uuid.UUID
	ProductID       uuid.UUID
	TransactionID   uuid.UUID
	Count           int
	TotalCents      int64
	DeliveryAddress string
	Status          OrderStatus
}

// NewOrder builds the AwaitingPayment line for one reserved product.
func NewOrder(b Buyer, p Product, count int, txID uuid.UUID) Order {
	return Order{
		ID:              uuid.New(),
		BuyerID:         b.ID,
		SellerID:        p.SellerID,
		ProductID:       p.ID,
		TransactionID:   txID,
		Count:           count,
		TotalCents:      p.PriceCents * int64(count),
		DeliveryAddress: b.Address,
		Status:          OrderAwaitingPayment,
	}
}
