package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const selectProduct = `SELECT id, seller_id, name, price_cents, count_in_stock, reserved_count, version FROM products`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.PriceCents, &p.CountInStock, &p.ReservedCount, &p.Version)
	return p, err
}

// Products reads without FOR UPDATE; the version column catches
// whoever wrote in between.
func (t *pgTx) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	params := make([]string, len(ids))
	for i, id := range ids {
		params[i] = id.String()
	}
	rows, err := t.tx.Query(ctx, selectProduct+` WHERE id = ANY($1::uuid[])`, params)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (t *pgTx) SaveProductCounters(ctx context.Context, p Product) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products
		SET count_in_stock = $2, reserved_count = $3, version = version + 1
		WHERE id = $1 AND version = $4`,
		p.ID, p.CountInStock, p.ReservedCount, p.Version)
	if err != nil {
		return errors.Wrapf(err, "save product %s", p.ID)
	}
	if ct.RowsAffected() != 1 {
		return ErrVersionConflict
	}
	return nil
}

// CartLines fails with ProductNotFoundError when a cart row points at a
// product that no longer exists.
func (t *pgTx) CartLines(ctx context.Context, buyerID uuid.UUID) ([]CartLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT c.product_id, p.id, p.seller_id, p.name, p.price_cents, p.count_in_stock, p.reserved_count, p.version, c.count
		FROM cart_items c LEFT JOIN products p ON p.id = c.product_id
		WHERE c.buyer_id = $1
		ORDER BY c.product_id`, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}
	defer rows.Close()

	var out []CartLine
	for rows.Next() {
		var (
			cartPID uuid.UUID
			pid     *uuid.UUID
			seller  *uuid.UUID
			name    *string
			price   *int64
			stock   *int
			held    *int
			version *int64
			count   int
		)
		if err := rows.Scan(&cartPID, &pid, &seller, &name, &price, &stock, &held, &version, &count); err != nil {
			return nil, errors.Wrap(err, "scan cart line")
		}
		if pid == nil {
			return nil, &ProductNotFoundError{ProductID: cartPID}
		}
		out = append(out, CartLine{
			BuyerID: buyerID,
			Product: Product{
				ID: *pid, SellerID: *seller, Name: *name, PriceCents: *price,
				CountInStock: *stock, ReservedCount: *held, Version: *version,
			},
			Count: count,
		})
	}
	return out, rows.Err()
}
