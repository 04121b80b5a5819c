package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
)

func placeAndConfirm(t *testing.T, e *env) orders.Order {
	t.Helper()
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 1)
	res, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	require.NoError(t, err)
	require.NoError(t, e.orch.Engine.ConfirmReservation(context.Background(), res.TransactionID))
	view, err := BuyerTransaction(context.Background(), e.store, e.buyer.ID, res.TransactionID)
	require.NoError(t, err)
	require.Len(t, view.Orders, 1)
	return view.Orders[0]
}

func TestMarkDelivered(t *testing.T) {
	e := newEnv(t)
	o := placeAndConfirm(t, e)
	require.Equal(t, orders.OrderInTransit, o.Status)

	f := &Fulfillment{Store: e.store, Log: zerolog.Nop()}
	got, err := f.MarkDelivered(context.Background(), e.widget.SellerID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.OrderDelivered, got.Status)

	_, err = f.MarkDelivered(context.Background(), e.widget.SellerID, o.ID)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestMarkDelivered_WrongSeller(t *testing.T) {
	e := newEnv(t)
	o := placeAndConfirm(t, e)

	f := &Fulfillment{Store: e.store, Log: zerolog.Nop()}
	_, err := f.MarkDelivered(context.Background(), uuid.New(), o.ID)
	assert.ErrorIs(t, err, ErrNotOrderSeller)
}

func TestMarkDelivered_UnpaidOrder(t *testing.T) {
	e := newEnv(t)
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 1)
	res, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	require.NoError(t, err)
	view, err := BuyerTransaction(context.Background(), e.store, e.buyer.ID, res.TransactionID)
	require.NoError(t, err)

	f := &Fulfillment{Store: e.store, Log: zerolog.Nop()}
	_, err = f.MarkDelivered(context.Background(), e.widget.SellerID, view.Orders[0].ID)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestBuyerTransaction_OtherBuyerSeesNotFound(t *testing.T) {
	e := newEnv(t)
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 1)
	res, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	require.NoError(t, err)

	_, err = BuyerTransaction(context.Background(), e.store, uuid.New(), res.TransactionID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}
