package reservation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/isw-interns2026/shardul-ecommerce/internal/metrics"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/tracing"
)

const DefaultMaxAttempts = 5

var tracer = otel.Tracer("github.com/isw-interns2026/shardul-ecommerce/internal/reservation")

// Engine owns every write to product stock counters and to transaction
// status. Each operation runs as one unit of work and is retried from a
// fresh read when a concurrent writer wins the version check.
type Engine struct {
	Store       orders.Store
	Events      orders.EventPublisher
	Metrics     *metrics.Saga
	Log         zerolog.Logger
	MaxAttempts int
	Producer    string // envelope producer name
}

// RecordFunc runs inside the reservation's unit of work with the
// products as they will be committed.
type RecordFunc func(ctx context.Context, tx orders.Tx, reserved map[uuid.UUID]orders.Product) error

// ReserveStock moves the requested counts into ReservedCount, all lines
// or none.
func (e *Engine) ReserveStock(ctx context.Context, items []orders.LineItem) error {
	return e.ReserveAndRecord(ctx, items, nil)
}

// ReserveAndRecord reserves items and runs record in the same unit of
// work, so the reservation and whatever record writes commit together.
func (e *Engine) ReserveAndRecord(ctx context.Context, items []orders.LineItem, record RecordFunc) (err error) {
	ctx, span := tracer.Start(ctx, "reservation.Reserve")
	span.SetAttributes(attribute.Int("lines", len(items)))
	defer func() { tracing.End(span, err) }()

	err = e.attempt(ctx, "reserve", func(ctx context.Context, tx orders.Tx) error {
		reserved, err := ReserveStockTx(ctx, tx, items)
		if err != nil {
			return err
		}
		if record != nil {
			return record(ctx, tx, reserved)
		}
		return nil
	})
	e.metrics().Reservations.WithLabelValues(reserveOutcome(err)).Inc()
	return err
}

// ReserveStockTx is the reservation step on its own. It aggregates
// duplicate product ids, checks every line before writing any, and
// writes each product once with its loaded version.
func ReserveStockTx(ctx context.Context, tx orders.Tx, items []orders.LineItem) (map[uuid.UUID]orders.Product, error) {
	ids, want, err := aggregate(items)
	if err != nil {
		return nil, err
	}
	products, err := tx.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, &orders.ProductNotFoundError{ProductID: id}
		}
		if want[id] > p.Available() {
			return nil, &orders.InsufficientStockError{
				ProductID: id, Name: p.Name, Available: p.Available(), Requested: want[id],
			}
		}
	}
	for _, id := range ids {
		p := products[id]
		p.ReservedCount += want[id]
		if err := tx.SaveProductCounters(ctx, p); err != nil {
			return nil, err
		}
		p.Version++
		products[id] = p
	}
	return products, nil
}

// ConfirmReservation converts the reserved stock of a Processing
// transaction into a sale. Unknown or already resolved transactions are
// a no-op.
func (e *Engine) ConfirmReservation(ctx context.Context, txID uuid.UUID) error {
	return e.resolve(ctx, "confirm", txID, orders.TxSuccess, orders.OrderInTransit, orders.EventReservationConfirmed,
		func(p *orders.Product, n int) {
			p.CountInStock -= n
			p.ReservedCount -= n
		})
}

// ReleaseReservation hands the reserved stock of a Processing
// transaction back. Only Processing transactions are released, so a
// transaction can never be released twice.
func (e *Engine) ReleaseReservation(ctx context.Context, txID uuid.UUID) error {
	return e.resolve(ctx, "release", txID, orders.TxExpired, orders.OrderCancelled, orders.EventReservationReleased,
		func(p *orders.Product, n int) {
			p.ReservedCount -= n
		})
}

func (e *Engine) resolve(ctx context.Context, op string, txID uuid.UUID, to orders.TxStatus, orderTo orders.OrderStatus,
	eventType string, adjust func(p *orders.Product, n int)) (err error) {
	ctx, span := tracer.Start(ctx, "reservation."+op)
	span.SetAttributes(attribute.String("transaction_id", txID.String()))
	defer func() { tracing.End(span, err) }()

	var (
		applied bool
		tr      orders.Transaction
		lines   []orders.Order
	)
	err = e.attempt(ctx, op, func(ctx context.Context, tx orders.Tx) error {
		applied = false
		t, err := tx.Transaction(ctx, txID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.Status != orders.TxProcessing {
			return nil
		}
		won, err := tx.ClaimTransaction(ctx, txID, orders.TxProcessing, to)
		if err != nil || !won {
			return err
		}

		ls, err := tx.OrdersByTransaction(ctx, txID)
		if err != nil {
			return err
		}
		ids, want, err := aggregate(toLineItems(ls))
		if err != nil {
			return err
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			p, ok := products[id]
			if !ok {
				return &orders.ProductNotFoundError{ProductID: id}
			}
			adjust(&p, want[id])
			if err := tx.SaveProductCounters(ctx, p); err != nil {
				return err
			}
		}
		for i := range ls {
			from := ls[i].Status
			if err := ls[i].TransitionTo(orderTo); err != nil {
				return err
			}
			if err := tx.SetOrderStatus(ctx, ls[i].ID, from, orderTo); err != nil {
				return err
			}
		}
		t.Status = to
		tr, lines, applied = t, ls, true
		return nil
	})

	result := "noop"
	switch {
	case err != nil:
		result = "error"
	case applied:
		result = "applied"
	}
	e.metrics().Transitions.WithLabelValues(op, result).Inc()
	if err != nil {
		return err
	}
	if applied {
		e.log().Info().Str("transaction_id", txID.String()).Str("status", string(to)).Msg(op + " applied")
		e.publish(ctx, eventType, tr, lines)
	} else {
		e.log().Debug().Str("transaction_id", txID.String()).Msg(op + " skipped: transaction not in Processing")
	}
	return nil
}

// attempt runs fn in a unit of work until it commits, fails with
// anything other than a version conflict, or uses up MaxAttempts.
func (e *Engine) attempt(ctx context.Context, op string, fn func(ctx context.Context, tx orders.Tx) error) error {
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	for i := 1; ; i++ {
		err := e.Store.InTx(ctx, fn)
		if err == nil || !errors.Is(err, orders.ErrVersionConflict) {
			return err
		}
		e.metrics().ConflictRetries.WithLabelValues(op).Inc()
		if i >= maxAttempts {
			e.log().Warn().Str("op", op).Int("attempts", i).Msg("giving up after repeated version conflicts")
			return fmt.Errorf("%s: %w", op, orders.ErrConcurrencyConflict)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(i)):
		}
	}
}

// backoff is a small jittered delay so colliding writers spread out.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt) * 2 * time.Millisecond
	return base + time.Duration(rand.Int63n(int64(base)))
}

func (e *Engine) publish(ctx context.Context, eventType string, t orders.Transaction, lines []orders.Order) {
	if e.Events == nil {
		return
	}
	ev := orders.NewEnvelope(eventType, e.Producer, orders.PayloadFor(t, lines))
	ev.TraceID = tracing.TraceID(ctx)
	if err := e.Events.Publish(ctx, ev); err != nil {
		e.log().Warn().Err(err).Str("event_type", eventType).Str("transaction_id", t.ID.String()).Msg("publish event")
	}
}

func (e *Engine) metrics() *metrics.Saga { return metrics.OrNop(e.Metrics) }

func (e *Engine) log() *zerolog.Logger { return &e.Log }

func reserveOutcome(err error) string {
	switch {
	case err == nil:
		return "reserved"
	case errors.Is(err, orders.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, orders.ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}

// aggregate sums counts per product, keeping first-seen order.
func aggregate(items []orders.LineItem) ([]uuid.UUID, map[uuid.UUID]int, error) {
	ids := make([]uuid.UUID, 0, len(items))
	want := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		if it.Count <= 0 {
			return nil, nil, fmt.Errorf("product %s: %w", it.ProductID, orders.ErrInvalidCount)
		}
		if _, seen := want[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		want[it.ProductID] += it.Count
	}
	return ids, want, nil
}

func toLineItems(ls []orders.Order) []orders.LineItem {
	out := make([]orders.LineItem, len(ls))
	for i, o := range ls {
		out[i] = orders.LineItem{ProductID: o.ProductID, Count: o.Count}
	}
	return out
}
