package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/isw-interns2026/shardul-ecommerce/internal/metrics"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/payment"
	"github.com/isw-interns2026/shardul-ecommerce/internal/reservation"
	"github.com/isw-interns2026/shardul-ecommerce/internal/tracing"
)

const (
	DefaultPaymentTimeout = 10 * time.Second
	DefaultSessionTTL     = 15 * time.Minute
)

// ErrPaymentUnavailable means stock is reserved and the transaction
// exists, but no payment session could be attached to it. The sweeper
// releases such transactions after the reservation timeout.
var ErrPaymentUnavailable = errors.New("payment provider unavailable")

var tracer = otel.Tracer("github.com/isw-interns2026/shardul-ecommerce/internal/checkout")

type Result struct {
	TransactionID uuid.UUID
	CheckoutURL   string
}

// Orchestrator turns a buyer's cart into a Processing transaction with a
// payment session. Each phase commits on its own:
//  1. reserve stock, create the transaction and its orders (one unit of work)
//  2. open the provider session and store its id
//  3. clear the cart (best effort)
type Orchestrator struct {
	Store          orders.Store
	Engine         *reservation.Engine
	Payments       payment.Provider
	Events         orders.EventPublisher
	Metrics        *metrics.Saga
	Log            zerolog.Logger
	PaymentTimeout time.Duration
	SessionTTL     time.Duration // how long the buyer may take to pay
	Producer       string
	Now            func() time.Time
}

func (o *Orchestrator) PlaceOrder(ctx context.Context, buyerID uuid.UUID) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder")
	span.SetAttributes(attribute.String("buyer_id", buyerID.String()))
	defer func() {
		metrics.OrNop(o.Metrics).Checkouts.WithLabelValues(checkoutResult(err)).Inc()
		tracing.End(span, err)
	}()
	log := o.Log.With().Str("buyer_id", buyerID.String()).Logger()

	pl, err := o.reserve(ctx, buyerID)
	if err != nil {
		return Result{}, err
	}
	tr, lines := pl.tr, pl.lines
	res.TransactionID = tr.ID
	log = log.With().Str("transaction_id", tr.ID.String()).Logger()
	log.Info().Int64("amount_cents", tr.AmountCents).Int("lines", len(lines)).Msg("stock reserved")
	o.publish(ctx, orders.EventStockReserved, tr, lines)

	created, err := o.openSession(ctx, pl)
	if err != nil {
		log.Warn().Err(err).Msg("payment session not created, reservation left for the sweeper")
		return res, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	err = o.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return tx.SetExternalSession(ctx, tr.ID, created.ID)
	})
	if err != nil {
		// The provider session exists without a local link; its callbacks
		// will not resolve and the sweeper releases the stock.
		log.Error().Err(err).Str("session_id", created.ID).Msg("payment session id not recorded")
		return res, fmt.Errorf("%w: record session: %v", ErrPaymentUnavailable, err)
	}
	tr.ExternalSessionID = created.ID
	res.CheckoutURL = created.URL
	o.publish(ctx, orders.EventPaymentSessionCreated, tr, lines)

	if err := o.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return tx.ClearCart(ctx, buyerID)
	}); err != nil {
		log.Warn().Err(err).Msg("cart not cleared")
	}
	return res, nil
}

type placed struct {
	tr    orders.Transaction
	lines []orders.Order
	buyer orders.Buyer
	names map[uuid.UUID]string
}

// reserve is phase 1. Prices and names come from the product rows the
// reservation loaded, not from the cart snapshot.
func (o *Orchestrator) reserve(ctx context.Context, buyerID uuid.UUID) (placed, error) {
	txID, err := orders.NewTransactionID()
	if err != nil {
		return placed{}, err
	}
	var (
		buyer orders.Buyer
		cart  []orders.CartLine
	)
	err = o.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		var err error
		if buyer, err = tx.Buyer(ctx, buyerID); err != nil {
			return err
		}
		cart, err = tx.CartLines(ctx, buyerID)
		return err
	})
	if err != nil {
		return placed{}, err
	}
	if len(cart) == 0 {
		return placed{}, orders.ErrEmptyCart
	}

	items := make([]orders.LineItem, len(cart))
	for i, l := range cart {
		items[i] = orders.LineItem{ProductID: l.Product.ID, Count: l.Count}
	}

	pl := placed{buyer: buyer}
	err = o.Engine.ReserveAndRecord(ctx, items, func(ctx context.Context, tx orders.Tx, reserved map[uuid.UUID]orders.Product) error {
		pl.tr = orders.Transaction{ID: txID, BuyerID: buyerID, Status: orders.TxProcessing}
		pl.lines = pl.lines[:0]
		pl.names = make(map[uuid.UUID]string, len(items))
		for _, it := range items {
			p := reserved[it.ProductID]
			ln := orders.NewOrder(buyer, p, it.Count, txID)
			pl.tr.AmountCents += ln.TotalCents
			pl.lines = append(pl.lines, ln)
			pl.names[p.ID] = p.Name
		}
		return tx.CreateTransaction(ctx, pl.tr, pl.lines)
	})
	return pl, err
}

// openSession is phase 2; nothing is held open while the provider works.
func (o *Orchestrator) openSession(ctx context.Context, pl placed) (payment.CreatedSession, error) {
	timeout := o.PaymentTimeout
	if timeout <= 0 {
		timeout = DefaultPaymentTimeout
	}
	ttl := o.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := payment.Session{TransactionID: pl.tr.ID, CustomerEmail: pl.buyer.Email, ExpiresAt: now().Add(ttl)}
	for _, ln := range pl.lines {
		s.Lines = append(s.Lines, payment.SessionLine{
			Name:            pl.names[ln.ProductID],
			UnitAmountCents: ln.TotalCents / int64(ln.Count),
			Quantity:        ln.Count,
		})
	}
	start := time.Now()
	created, err := o.Payments.CreateCheckoutSession(ctx, s)
	metrics.OrNop(o.Metrics).PaymentLatency.Observe(float64(time.Since(start).Milliseconds()))
	return created, err
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, tr orders.Transaction, lines []orders.Order) {
	if o.Events == nil {
		return
	}
	ev := orders.NewEnvelope(eventType, o.Producer, orders.PayloadFor(tr, lines))
	ev.TraceID = tracing.TraceID(ctx)
	if err := o.Events.Publish(ctx, ev); err != nil {
		o.Log.Warn().Err(err).Str("event_type", eventType).Str("transaction_id", tr.ID.String()).Msg("publish event")
	}
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, orders.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, orders.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, orders.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrPaymentUnavailable):
		return "payment_unavailable"
	default:
		return "error"
	}
}
