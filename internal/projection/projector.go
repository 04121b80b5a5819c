package projection

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/isw-interns2026/shardul-ecommerce/internal/kafka"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/redisx"
)

type StatusWriter interface {
	Put(ctx context.Context, s redisx.CachedStatus) error
}

// Projector keeps the transaction status cache in step with the saga
// events.
type Projector struct {
	Cache StatusWriter
	Log   zerolog.Logger
}

// HandleMessage is a kafka.Handler. Malformed messages are logged and
// acknowledged; a cache write failure is returned, and the consumer
// retries the message with backoff before committing its offset.
func (p *Projector) HandleMessage(ctx context.Context, m kafkago.Message) error {
	ev, err := kafka.UnmarshalEnvelope(m.Value)
	if err != nil {
		p.Log.Warn().Err(err).Int64("offset", m.Offset).Msg("dropping malformed event")
		return nil
	}
	pl, err := kafka.UnwrapPayload[orders.TransactionPayload](ev.Payload)
	if err != nil || pl.TransactionID == "" {
		p.Log.Warn().Err(err).Str("event_id", ev.EventID).Msg("dropping event without transaction payload")
		return nil
	}
	updated := ev.OccurredAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	err = p.Cache.Put(ctx, redisx.CachedStatus{
		TransactionID: pl.TransactionID,
		BuyerID:       pl.BuyerID,
		Status:        string(pl.Status),
		AmountCents:   pl.AmountCents,
		UpdatedAt:     updated,
	})
	if err != nil {
		return err
	}
	p.Log.Debug().Str("event_type", ev.EventType).Str("transaction_id", pl.TransactionID).Msg("status projected")
	return nil
}
