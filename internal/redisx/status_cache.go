package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStatus is a display copy of a transaction's status. Nothing on
// the write path reads it.
type CachedStatus struct {
	TransactionID string    `json:"transaction_id"`
	BuyerID       string    `json:"buyer_id"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amount_cents"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type StatusCache struct{ R *redis.Client }

func statusKey(txID string) string { return fmt.Sprintf(KeyTxStatus, txID) }

func (c *StatusCache) Get(ctx context.Context, txID string) (CachedStatus, bool, error) {
	b, err := c.R.Get(ctx, statusKey(txID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var s CachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return CachedStatus{}, false, err
	}
	return s, true, nil
}

// Put overwrites; used by the event projector, which sees events in
// commit order per transaction.
func (c *StatusCache) Put(ctx context.Context, s CachedStatus) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, statusKey(s.TransactionID), b, TTLStatusCache).Err()
}

// Fill writes only when no entry exists, so a read-through never
// replaces a newer projected status.
func (c *StatusCache) Fill(ctx context.Context, s CachedStatus) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.R.SetNX(ctx, statusKey(s.TransactionID), b, TTLStatusCache).Err()
}
