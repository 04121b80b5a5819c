package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
)

const (
	HeaderEventType    = "event_type"
	HeaderEventVersion = "event_version"
)

// Publisher sends saga envelopes keyed by transaction id.
type Publisher struct{ P *Producer }

var _ orders.EventPublisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, ev orders.Envelope) error {
	return p.P.Publish(ctx, orders.PartitionKey(ev.CorrelationID), MustMarshal(ev),
		kafka.Header{Key: HeaderEventType, Value: []byte(ev.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}
