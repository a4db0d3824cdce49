package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/lib/pq"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Repository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var c domain.Cart
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	items, err := loadCartItems(ctx, r.db, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

// UpdateCart holds the carts row with SELECT ... FOR UPDATE while fn runs, so
// concurrent mutations of one user's cart are applied one after another.
func (r *Repository) UpdateCart(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}

	var c domain.Cart
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}

	original, err := loadCartItems(ctx, tx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = append([]domain.LineItem(nil), original...)

	if err := fn(&c); err != nil {
		return nil, err
	}

	before := make(map[int64]domain.LineItem, len(original))
	for _, item := range original {
		before[item.ID] = item
	}

	for i := range c.Items {
		item := &c.Items[i]
		if item.ID == 0 {
			err := tx.QueryRowContext(ctx,
				`INSERT INTO cart_items (cart_id, product_id, size_id, quantity) VALUES ($1, $2, $3, $4)
				 RETURNING id, added_at`,
				c.ID, item.ProductID, item.SizeID, item.Quantity).Scan(&item.ID, &item.AddedAt)
			if err != nil {
				return nil, fmt.Errorf("insert cart item: %w", err)
			}
			continue
		}
		prev, ok := before[item.ID]
		delete(before, item.ID)
		if ok && prev.Quantity == item.Quantity {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE cart_items SET quantity = $1 WHERE id = $2 AND cart_id = $3`,
			item.Quantity, item.ID, c.ID); err != nil {
			return nil, fmt.Errorf("update cart item %d: %w", item.ID, err)
		}
	}

	if len(before) > 0 {
		removed := make([]int64, 0, len(before))
		for id := range before {
			removed = append(removed, id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = $1 AND id = ANY($2)`, c.ID, pq.Array(removed)); err != nil {
			return nil, fmt.Errorf("delete cart items: %w", err)
		}
	}

	if err := tx.QueryRowContext(ctx,
		`UPDATE carts SET updated_at = NOW() WHERE id = $1 RETURNING updated_at`, c.ID).Scan(&c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("touch cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cart: %w", err)
	}
	return &c, nil
}

func loadCartItems(ctx context.Context, q querier, cartID int64) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, product_id, size_id, quantity, added_at
		 FROM cart_items WHERE cart_id = $1 ORDER BY added_at, id`, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		var sizeID sql.NullInt64
		if err := rows.Scan(&item.ID, &item.ProductID, &sizeID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item row: %w", err)
		}
		if sizeID.Valid {
			id := sizeID.Int64
			item.SizeID = &id
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}
