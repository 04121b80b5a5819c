package orders

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatedAtRoundTrip(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	id, err := NewTransactionID()
	require.NoError(t, err)
	after := time.Now()

	got := CreatedAt(id)
	assert.False(t, got.Before(before), "%v before %v", got, before)
	assert.False(t, got.After(after), "%v after %v", got, after)
}

func TestIDFloorOrdering(t *testing.T) {
	id, err := NewTransactionID()
	require.NoError(t, err)
	created := CreatedAt(id)

	later := IDFloor(created.Add(time.Millisecond))
	assert.Negative(t, bytes.Compare(id[:], later[:]))

	same := IDFloor(created)
	assert.GreaterOrEqual(t, bytes.Compare(id[:], same[:]), 0)

	assert.Equal(t, created, CreatedAt(same))
}
