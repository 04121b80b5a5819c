package orders

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live database migrated with internal/postgres/schema.sql.
func pgStoreForTest(t *testing.T) *PgStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return &PgStore{DB: pool}
}

func TestPgStore_VersionCheckedCounters(t *testing.T) {
	s := pgStoreForTest(t)
	ctx := context.Background()
	p := Product{ID: uuid.New(), SellerID: uuid.New(), Name: "Widget", PriceCents: 100, CountInStock: 5}
	_, err := s.DB.Exec(ctx, `INSERT INTO products(id, seller_id, name, price_cents, count_in_stock) VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.SellerID, p.Name, p.PriceCents, p.CountInStock)
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.Products(ctx, []uuid.UUID{p.ID})
		require.NoError(t, err)
		q := got[p.ID]
		q.ReservedCount = 2
		return tx.SaveProductCounters(ctx, q)
	}))

	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveProductCounters(ctx, p) // version 0 is stale now
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q := p
		q.Version = 1
		q.ReservedCount = 9
		return tx.SaveProductCounters(ctx, q)
	})
	assert.ErrorIs(t, err, ErrCheckViolation)
}

func seedBuyerAndProduct(t *testing.T, s *PgStore) (Buyer, Product) {
	t.Helper()
	ctx := context.Background()
	b := Buyer{ID: uuid.New(), Email: "pg@example.com", Address: "1 Test Rd"}
	p := Product{ID: uuid.New(), SellerID: uuid.New(), Name: "Widget", PriceCents: 100, CountInStock: 5}
	_, err := s.DB.Exec(ctx, `INSERT INTO buyers(id, email, address) VALUES ($1,$2,$3)`, b.ID, b.Email, b.Address)
	require.NoError(t, err)
	_, err = s.DB.Exec(ctx, `INSERT INTO products(id, seller_id, name, price_cents, count_in_stock) VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.SellerID, p.Name, p.PriceCents, p.CountInStock)
	require.NoError(t, err)
	return b, p
}

// idCreatedAt is a UUIDv7 minted at the given instant.
func idCreatedAt(at time.Time) uuid.UUID {
	id := IDFloor(at)
	r := uuid.New()
	id[6] |= r[6] & 0x0f
	id[7] = r[7]
	id[8] |= r[8] & 0x3f
	copy(id[9:], r[9:])
	return id
}

func createProcessing(t *testing.T, s *PgStore, id uuid.UUID, b Buyer, p Product) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateTransaction(ctx, Transaction{ID: id, BuyerID: b.ID, AmountCents: p.PriceCents, Status: TxProcessing},
			[]Order{NewOrder(b, p, 1, id)})
	}))
}

func TestPgStore_CreateAndFindBySession(t *testing.T) {
	s := pgStoreForTest(t)
	ctx := context.Background()
	b, p := seedBuyerAndProduct(t, s)
	id, err := NewTransactionID()
	require.NoError(t, err)
	createProcessing(t, s, id, b, p)
	session := "cs_" + id.String()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetExternalSession(ctx, id, session)
	}))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		tr, err := tx.TransactionBySession(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, id, tr.ID)
		assert.Equal(t, TxProcessing, tr.Status)
		assert.Equal(t, int64(100), tr.AmountCents)

		lines, err := tx.OrdersByTransaction(ctx, id)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, OrderAwaitingPayment, lines[0].Status)

		_, err = tx.TransactionBySession(ctx, "cs_missing_"+id.String())
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestPgStore_StaleTransactionsUsesIDTime(t *testing.T) {
	s := pgStoreForTest(t)
	ctx := context.Background()
	b, p := seedBuyerAndProduct(t, s)
	now := time.Now()

	old := idCreatedAt(now.Add(-time.Hour))
	oldDone := idCreatedAt(now.Add(-time.Hour))
	fresh, err := NewTransactionID()
	require.NoError(t, err)
	createProcessing(t, s, old, b, p)
	createProcessing(t, s, oldDone, b, p)
	createProcessing(t, s, fresh, b, p)
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.ClaimTransaction(ctx, oldDone, TxProcessing, TxSuccess)
		return err
	}))

	var stale []uuid.UUID
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		stale, err = tx.StaleTransactions(ctx, now.Add(-15*time.Minute))
		return err
	}))
	assert.Contains(t, stale, old)
	assert.NotContains(t, stale, oldDone)
	assert.NotContains(t, stale, fresh)
}

func TestPgStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	s := pgStoreForTest(t)
	b, p := seedBuyerAndProduct(t, s)
	id, err := NewTransactionID()
	require.NoError(t, err)
	createProcessing(t, s, id, b, p)

	targets := []TxStatus{TxSuccess, TxExpired, TxSuccess, TxExpired}
	won := make([]bool, len(targets))
	errs := make([]error, len(targets))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to TxStatus) {
			defer wg.Done()
			<-start
			errs[i] = s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
				var err error
				won[i], err = tx.ClaimTransaction(ctx, id, TxProcessing, to)
				return err
			})
		}(i, to)
	}
	close(start)
	wg.Wait()

	winners := 0
	var final TxStatus
	for i := range targets {
		require.NoError(t, errs[i])
		if won[i] {
			winners++
			final = targets[i]
		}
	}
	assert.Equal(t, 1, winners)
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		tr, err := tx.Transaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, final, tr.Status)
		return nil
	}))
}

func TestPgStore_RejectsNonPositivePrices(t *testing.T) {
	s := pgStoreForTest(t)
	ctx := context.Background()
	_, err := s.DB.Exec(ctx, `INSERT INTO products(id, seller_id, name, price_cents, count_in_stock) VALUES ($1,$2,'Free',0,1)`,
		uuid.New(), uuid.New())
	assert.ErrorIs(t, mapPgErr(err), ErrCheckViolation)

	b, p := seedBuyerAndProduct(t, s)
	id, err := NewTransactionID()
	require.NoError(t, err)
	line := NewOrder(b, p, 1, id)
	line.TotalCents = 0
	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateTransaction(ctx, Transaction{ID: id, BuyerID: b.ID, Status: TxProcessing}, []Order{line})
	})
	assert.ErrorIs(t, err, ErrCheckViolation)
}
