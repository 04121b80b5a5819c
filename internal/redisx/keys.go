package redisx

import "time"

const (
	// Dedup of provider callbacks: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Cache status transaction: tx_status:{transaction_id} -> CachedStatus JSON
	KeyTxStatus = "tx_status:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
