package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/lib/pq"
)

// CreateProduct inserts p and its sizes, filling in the generated ids.
func (r *Repository) CreateProduct(ctx context.Context, p *domain.Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO products (name, price, stock, featured) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		p.Name, p.Price, p.Stock, p.Featured).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	for i := range p.Sizes {
		s := &p.Sizes[i]
		s.ProductID = p.ID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO product_sizes (product_id, label, price_adjustment, stock) VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			p.ID, s.Label, s.PriceAdjustment, s.Stock).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("insert size %q: %w", s.Label, err)
		}
	}

	return tx.Commit()
}

// DeleteProduct removes a product. Cart lines go with it, order items keep
// their frozen data with the product reference cleared.
func (r *Repository) DeleteProduct(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, price, stock, featured, created_at FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Featured, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}

	sizes, err := r.getSizes(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	p.Sizes = sizes[id]
	return &p, nil
}

func (r *Repository) GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	result := make(map[int64]*domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, price, stock, featured, created_at FROM products WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Featured, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		result[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	sizes, err := r.getSizes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, p := range result {
		p.Sizes = sizes[id]
	}
	return result, nil
}

func (r *Repository) getSizes(ctx context.Context, productIDs []int64) (map[int64][]domain.SizeVariant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, label, price_adjustment, stock
		 FROM product_sizes WHERE product_id = ANY($1) ORDER BY id`,
		pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("query sizes: %w", err)
	}
	defer rows.Close()

	sizes := make(map[int64][]domain.SizeVariant)
	for rows.Next() {
		var s domain.SizeVariant
		if err := rows.Scan(&s.ID, &s.ProductID, &s.Label, &s.PriceAdjustment, &s.Stock); err != nil {
			return nil, fmt.Errorf("scan size row: %w", err)
		}
		sizes[s.ProductID] = append(sizes[s.ProductID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sizes, nil
}
