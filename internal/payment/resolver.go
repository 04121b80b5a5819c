package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/isw-interns2026/shardul-ecommerce/internal/metrics"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
)

type Outcome int

const (
	Accepted Outcome = iota
	RejectedSignature
	// Retry asks the provider to redeliver: the event matched a local
	// transaction but applying it failed.
	Retry
)

// Reservations is the slice of the reservation engine the resolver drives.
type Reservations interface {
	ConfirmReservation(ctx context.Context, txID uuid.UUID) error
	ReleaseReservation(ctx context.Context, txID uuid.UUID) error
}

// Deduper remembers provider event ids that were already routed.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Resolver turns verified provider callbacks into confirm/release calls.
type Resolver struct {
	Provider     Provider
	Store        orders.Store
	Reservations Reservations
	Dedup        Deduper // optional
	Metrics      *metrics.Saga
	Log          zerolog.Logger
}

// HandleProviderEvent returns RejectedSignature when verification fails
// and Retry when a matched event could not be applied. Everything that
// can never succeed (undecodable, unknown kind, unknown session) is
// Accepted so the provider stops redelivering it.
func (r *Resolver) HandleProviderEvent(ctx context.Context, payload []byte, signature string) Outcome {
	m := metrics.OrNop(r.Metrics)
	ev, err := r.Provider.ParseEvent(payload, signature)
	if errors.Is(err, ErrInvalidSignature) {
		m.WebhookEvents.WithLabelValues(KindUnknown.String(), "rejected").Inc()
		r.Log.Warn().Err(err).Bool("security", true).Msg("webhook signature rejected")
		return RejectedSignature
	}
	if err != nil {
		m.WebhookEvents.WithLabelValues(KindUnknown.String(), "error").Inc()
		r.Log.Error().Err(err).Msg("verified webhook could not be decoded")
		return Accepted
	}
	log := r.Log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	if ev.Kind == KindUnknown {
		m.WebhookEvents.WithLabelValues(ev.Kind.String(), "ignored").Inc()
		log.Debug().Msg("event type not handled")
		return Accepted
	}
	if r.Dedup != nil && ev.ID != "" {
		if seen, err := r.Dedup.Seen(ctx, ev.ID); err != nil {
			log.Warn().Err(err).Msg("dedup lookup failed, processing anyway")
		} else if seen {
			m.WebhookEvents.WithLabelValues(ev.Kind.String(), "duplicate").Inc()
			log.Debug().Msg("duplicate event")
			return Accepted
		}
	}

	if err := r.route(ctx, ev, log); err != nil {
		m.WebhookEvents.WithLabelValues(ev.Kind.String(), "retry").Inc()
		log.Error().Err(err).Str("session_id", ev.SessionRef).Msg("webhook processing failed, asking for redelivery")
		return Retry
	}
	if r.Dedup != nil && ev.ID != "" {
		if err := r.Dedup.Mark(ctx, ev.ID); err != nil {
			log.Warn().Err(err).Msg("dedup mark failed")
		}
	}
	m.WebhookEvents.WithLabelValues(ev.Kind.String(), "applied").Inc()
	return Accepted
}

func (r *Resolver) route(ctx context.Context, ev Event, log zerolog.Logger) error {
	var tr orders.Transaction
	err := r.Store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		var err error
		tr, err = tx.TransactionBySession(ctx, ev.SessionRef)
		return err
	})
	if errors.Is(err, orders.ErrNotFound) {
		log.Warn().Str("session_id", ev.SessionRef).Msg("no transaction for session")
		return nil
	}
	if err != nil {
		return err
	}
	log = log.With().Str("transaction_id", tr.ID.String()).Logger()

	switch ev.Kind {
	case KindPaymentCompleted:
		if tr.Status == orders.TxExpired {
			// Stock is already back on the shelf; the charge needs a manual refund.
			log.Error().Msg("payment completed for an expired transaction")
		}
		return r.Reservations.ConfirmReservation(ctx, tr.ID)
	case KindSessionExpired:
		return r.Reservations.ReleaseReservation(ctx, tr.ID)
	}
	return nil
}
