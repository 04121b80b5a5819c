package orders

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// NewTransactionID returns a UUIDv7: the first 48 bits are the unix
// time in milliseconds.
func NewTransactionID() (uuid.UUID, error) {
	return uuid.NewV7()
}

// CreatedAt decodes the millisecond timestamp of a UUIDv7.
func CreatedAt(id uuid.UUID) time.Time {
	ms := int64(binary.BigEndian.Uint64(id[:8]) >> 16)
	return time.UnixMilli(ms).UTC()
}

// IDFloor is the smallest UUIDv7 for the millisecond of t. Every id
// created strictly before t sorts below it, both in Go (bytes.Compare)
// and in Postgres (uuid ordering is bytewise).
func IDFloor(t time.Time) uuid.UUID {
	var id uuid.UUID
	var ms [8]byte
	binary.BigEndian.PutUint64(ms[:], uint64(t.UnixMilli()))
	copy(id[:6], ms[2:])
	id[6] = 0x70
	id[8] = 0x80
	return id
}
