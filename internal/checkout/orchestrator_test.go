package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/payment"
	"github.com/isw-interns2026/shardul-ecommerce/internal/reservation"
)

type fakeProvider struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	sessions []payment.Session
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, s payment.Session) (payment.CreatedSession, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	err, delay := f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return payment.CreatedSession{}, ctx.Err()
		}
	}
	if err != nil {
		return payment.CreatedSession{}, err
	}
	id := "cs_" + s.TransactionID.String()
	return payment.CreatedSession{ID: id, URL: "https://pay.example/" + id}, nil
}

func (f *fakeProvider) ParseEvent([]byte, string) (payment.Event, error) {
	return payment.Event{}, payment.ErrInvalidSignature
}

type env struct {
	store    *orders.MemStore
	provider *fakeProvider
	orch     *Orchestrator
	buyer    orders.Buyer
	widget   orders.Product
	gadget   orders.Product
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := orders.NewMemStore()
	buyer := orders.Buyer{ID: uuid.New(), Email: "buyer@example.com", Address: "7 Elm St"}
	s.PutBuyer(buyer)
	widget := orders.Product{ID: uuid.New(), SellerID: uuid.New(), Name: "Widget", PriceCents: 1250, CountInStock: 50}
	gadget := orders.Product{ID: uuid.New(), SellerID: uuid.New(), Name: "Gadget", PriceCents: 300, CountInStock: 5}
	s.PutProduct(widget)
	s.PutProduct(gadget)

	prov := &fakeProvider{}
	engine := &reservation.Engine{Store: s, Log: zerolog.Nop()}
	return &env{
		store:    s,
		provider: prov,
		buyer:    buyer,
		widget:   widget,
		gadget:   gadget,
		orch: &Orchestrator{
			Store:    s,
			Engine:   engine,
			Payments: prov,
			Log:      zerolog.Nop(),
		},
	}
}

func (e *env) product(t *testing.T, id uuid.UUID) orders.Product {
	p, ok := e.store.Product(id)
	require.True(t, ok)
	return p
}

func TestPlaceOrder_Success(t *testing.T) {
	e := newEnv(t)
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 3)
	e.store.AddToCart(e.buyer.ID, e.gadget.ID, 2)

	res, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_"+res.TransactionID.String(), res.CheckoutURL)

	tr, ok := e.store.CommittedTransaction(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, orders.TxProcessing, tr.Status)
	assert.Equal(t, int64(3*1250+2*300), tr.AmountCents)
	assert.Equal(t, "cs_"+res.TransactionID.String(), tr.ExternalSessionID)
	assert.Equal(t, 1, e.store.TransactionCount())

	assert.Equal(t, 3, e.product(t, e.widget.ID).ReservedCount)
	assert.Equal(t, 50, e.product(t, e.widget.ID).CountInStock)
	assert.Equal(t, 2, e.product(t, e.gadget.ID).ReservedCount)
	assert.Equal(t, 0, e.store.CartSize(e.buyer.ID))

	view, err := BuyerTransaction(context.Background(), e.store, e.buyer.ID, res.TransactionID)
	require.NoError(t, err)
	require.Len(t, view.Orders, 2)
	for _, o := range view.Orders {
		assert.Equal(t, orders.OrderAwaitingPayment, o.Status)
		assert.Equal(t, "7 Elm St", o.DeliveryAddress)
	}

	require.Len(t, e.provider.sessions, 1)
	sess := e.provider.sessions[0]
	assert.Equal(t, "buyer@example.com", sess.CustomerEmail)
	assert.ElementsMatch(t, []payment.SessionLine{
		{Name: "Widget", UnitAmountCents: 1250, Quantity: 3},
		{Name: "Gadget", UnitAmountCents: 300, Quantity: 2},
	}, sess.Lines)
}

func TestPlaceOrder_CartReferencesMissingProduct(t *testing.T) {
	e := newEnv(t)
	gone := uuid.New()
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 2)
	e.store.AddToCart(e.buyer.ID, gone, 1)

	_, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	var nf *orders.ProductNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, gone, nf.ProductID)

	// nothing reserved for the rest of the cart, and the cart is kept
	assert.Equal(t, 0, e.product(t, e.widget.ID).ReservedCount)
	assert.Zero(t, e.store.TransactionCount())
	assert.Equal(t, 2, e.store.CartSize(e.buyer.ID))
	assert.Empty(t, e.provider.sessions)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	assert.ErrorIs(t, err, orders.ErrEmptyCart)
	assert.Zero(t, e.store.TransactionCount())
	assert.Empty(t, e.provider.sessions)
}

func TestPlaceOrder_UnknownBuyer(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.PlaceOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestPlaceOrder_InsufficientStockCreatesNothing(t *testing.T) {
	e := newEnv(t)
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 3)
	e.store.AddToCart(e.buyer.ID, e.gadget.ID, 6)

	_, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	var ise *orders.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "Gadget has only 5 units in stock", ise.Error())

	assert.Zero(t, e.store.TransactionCount())
	assert.Equal(t, 0, e.product(t, e.widget.ID).ReservedCount)
	assert.Equal(t, 0, e.product(t, e.gadget.ID).ReservedCount)
	assert.Equal(t, 2, e.store.CartSize(e.buyer.ID))
	assert.Empty(t, e.provider.sessions)
}

func TestPlaceOrder_ProviderFailureKeepsReservation(t *testing.T) {
	e := newEnv(t)
	e.provider.err = errors.New("provider down")
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 4)

	res, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	assert.ErrorIs(t, err, ErrPaymentUnavailable)
	assert.NotEqual(t, uuid.Nil, res.TransactionID)
	assert.Empty(t, res.CheckoutURL)

	tr, ok := e.store.CommittedTransaction(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, orders.TxProcessing, tr.Status)
	assert.Empty(t, tr.ExternalSessionID)
	assert.Equal(t, 4, e.product(t, e.widget.ID).ReservedCount)
	// cart is only cleared after a successful phase 2
	assert.Equal(t, 1, e.store.CartSize(e.buyer.ID))
}

func TestPlaceOrder_ProviderTimeout(t *testing.T) {
	e := newEnv(t)
	e.provider.delay = time.Second
	e.orch.PaymentTimeout = 20 * time.Millisecond
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 1)

	start := time.Now()
	_, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	assert.ErrorIs(t, err, ErrPaymentUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, e.product(t, e.widget.ID).ReservedCount)
}

func TestPlaceOrder_SessionExpiryFollowsTTL(t *testing.T) {
	e := newEnv(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e.orch.Now = func() time.Time { return now }
	e.orch.SessionTTL = 20 * time.Minute
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 1)

	_, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(20*time.Minute), e.provider.sessions[0].ExpiresAt)
}

// clearFailStore fails every ClearCart.
type clearFailStore struct{ *orders.MemStore }

type clearFailTx struct{ orders.Tx }

func (clearFailTx) ClearCart(context.Context, uuid.UUID) error { return errors.New("cart store down") }

func (s clearFailStore) InTx(ctx context.Context, fn func(context.Context, orders.Tx) error) error {
	return s.MemStore.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, clearFailTx{tx})
	})
}

func TestPlaceOrder_CartClearFailureIsNotFatal(t *testing.T) {
	e := newEnv(t)
	store := clearFailStore{e.store}
	e.orch.Store = store
	e.orch.Engine.Store = store
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 2)

	res, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.CheckoutURL)
	assert.Equal(t, 1, e.store.CartSize(e.buyer.ID))
}

func TestPlaceOrder_ThenPaymentConfirms(t *testing.T) {
	e := newEnv(t)
	e.store.AddToCart(e.buyer.ID, e.widget.ID, 3)
	res, err := e.orch.PlaceOrder(context.Background(), e.buyer.ID)
	require.NoError(t, err)

	require.NoError(t, e.orch.Engine.ConfirmReservation(context.Background(), res.TransactionID))
	p := e.product(t, e.widget.ID)
	assert.Equal(t, 47, p.CountInStock)
	assert.Equal(t, 0, p.ReservedCount)
}

func TestPlaceOrder_ConcurrentBuyersNeverOversell(t *testing.T) {
	e := newEnv(t)
	e.orch.Engine.MaxAttempts = 1000
	var buyers []uuid.UUID
	for i := 0; i < 8; i++ {
		b := orders.Buyer{ID: uuid.New()}
		e.store.PutBuyer(b)
		e.store.AddToCart(b.ID, e.gadget.ID, 2)
		buyers = append(buyers, b.ID)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, id := range buyers {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := e.orch.PlaceOrder(context.Background(), id)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, orders.ErrInsufficientStock)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	assert.Equal(t, 4, e.product(t, e.gadget.ID).ReservedCount)
	assert.Equal(t, 2, e.store.TransactionCount())
}
