package orders

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PgStore is the Postgres Store. Counter writes are version-checked
// UPDATEs, so no row locks are held between read and write.
type PgStore struct{ DB *pgxpool.Pool }

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapPgErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgErr(errors.Wrap(err, "commit"))
	}
	return nil
}

// mapPgErr turns constraint and serialization failures into the
// package sentinels.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23514":
		return errors.Wrapf(ErrCheckViolation, "%s", pgErr.ConstraintName)
	case "40001", "40P01":
		return ErrVersionConflict
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) CreateTransaction(ctx context.Context, tr Transaction, lines []Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions(id, buyer_id, amount_cents, status)
		VALUES ($1, $2, $3, $4)`,
		tr.ID, tr.BuyerID, tr.AmountCents, string(tr.Status))
	if err != nil {
		return errors.Wrap(err, "insert transaction")
	}
	for _, o := range lines {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO orders(id, buyer_id, seller_id, product_id, transaction_id, count, total_cents, delivery_address, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			o.ID, o.BuyerID, o.SellerID, o.ProductID, o.TransactionID, o.Count, o.TotalCents, o.DeliveryAddress, string(o.Status))
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
	}
	return nil
}

const selectTransaction = `SELECT id, buyer_id, amount_cents, status, COALESCE(external_session_id, '') FROM transactions`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tr     Transaction
		status string
	)
	if err := row.Scan(&tr.ID, &tr.BuyerID, &tr.AmountCents, &status, &tr.ExternalSessionID); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, errors.Wrap(err, "scan transaction")
	}
	tr.Status = TxStatus(status)
	return tr, nil
}

func (t *pgTx) Transaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, selectTransaction+` WHERE id=$1`, id))
}

func (t *pgTx) TransactionBySession(ctx context.Context, sessionID string) (Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, selectTransaction+` WHERE external_session_id=$1`, sessionID))
}

func (t *pgTx) ClaimTransaction(ctx context.Context, id uuid.UUID, from, to TxStatus) (bool, error) {
	ct, err := t.tx.Exec(ctx, `UPDATE transactions SET status=$3 WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return false, errors.Wrap(err, "claim transaction")
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) SetExternalSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	ct, err := t.tx.Exec(ctx, `UPDATE transactions SET external_session_id=$2 WHERE id=$1`, id, sessionID)
	if err != nil {
		return errors.Wrap(err, "set external session")
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleTransactions compares ids against the UUIDv7 floor of cutoff;
// uuid ordering in Postgres is bytewise, so this uses the primary key.
func (t *pgTx) StaleTransactions(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM transactions
		WHERE status = $1 AND id < $2
		ORDER BY id`, string(TxProcessing), IDFloor(cutoff))
	if err != nil {
		return nil, errors.Wrap(err, "query stale transactions")
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

const selectOrder = `SELECT id, buyer_id, seller_id, product_id, transaction_id, count, total_cents, delivery_address, status FROM orders`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.TransactionID, &o.Count, &o.TotalCents, &o.DeliveryAddress, &status)
	if err != nil {
		return Order{}, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}

func (t *pgTx) Order(ctx context.Context, id uuid.UUID) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, selectOrder+` WHERE id=$1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, errors.Wrap(err, "scan order")
}

func (t *pgTx) OrdersByTransaction(ctx context.Context, txID uuid.UUID) ([]Order, error) {
	rows, err := t.tx.Query(ctx, selectOrder+` WHERE transaction_id=$1 ORDER BY id`, txID)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) SetOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$3 WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if ct.RowsAffected() != 1 {
		return ErrVersionConflict
	}
	return nil
}

func (t *pgTx) Buyer(ctx context.Context, id uuid.UUID) (Buyer, error) {
	var b Buyer
	err := t.tx.QueryRow(ctx, `SELECT id, email, address FROM buyers WHERE id=$1`, id).Scan(&b.ID, &b.Email, &b.Address)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return Buyer{}, ErrNotFound
	}
	return b, errors.Wrap(err, "scan buyer")
}

func (t *pgTx) ClearCart(ctx context.Context, buyerID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE buyer_id=$1`, buyerID)
	return errors.Wrap(err, "clear cart")
}
