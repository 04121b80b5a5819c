package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
)

var ErrNotOrderSeller = errors.New("order belongs to another seller")

// Fulfillment covers the only manual order move: a seller marks a paid
// order as delivered.
type Fulfillment struct {
	Store orders.Store
	Log   zerolog.Logger
}

func (f *Fulfillment) MarkDelivered(ctx context.Context, sellerID, orderID uuid.UUID) (orders.Order, error) {
	var out orders.Order
	err := f.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SellerID != sellerID {
			return ErrNotOrderSeller
		}
		from := o.Status
		if err := o.TransitionTo(orders.OrderDelivered); err != nil {
			return err
		}
		if err := tx.SetOrderStatus(ctx, o.ID, from, o.Status); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	f.Log.Info().Str("order_id", orderID.String()).Str("seller_id", sellerID.String()).Msg("order delivered")
	return out, nil
}

// TransactionView is what a buyer may see of their transaction.
type TransactionView struct {
	ID          uuid.UUID
	Status      orders.TxStatus
	AmountCents int64
	Orders      []orders.Order
}

// BuyerTransaction loads a transaction owned by buyerID; someone else's
// transaction reads as not found.
func BuyerTransaction(ctx context.Context, s orders.Store, buyerID, txID uuid.UUID) (TransactionView, error) {
	var v TransactionView
	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		tr, err := tx.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		if tr.BuyerID != buyerID {
			return orders.ErrNotFound
		}
		ls, err := tx.OrdersByTransaction(ctx, txID)
		if err != nil {
			return err
		}
		v = TransactionView{ID: tr.ID, Status: tr.Status, AmountCents: tr.AmountCents, Orders: ls}
		return nil
	})
	return v, err
}
