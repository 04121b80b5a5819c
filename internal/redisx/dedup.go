package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup records provider event ids after they were routed.
type Dedup struct {
	R       *redis.Client
	Service string
}

func (d *Dedup) key(eventID string) string { return fmt.Sprintf(KeyDedup, d.Service, eventID) }

func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.R, d.key(eventID))
}

func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	return d.R.Set(ctx, d.key(eventID), 1, TTLDedup).Err()
}
