package repository

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/stock"
	"github.com/lib/pq"
)

const orderColumns = `o.id, o.order_number, o.user_id, o.email, o.status, o.payment_method, o.payment_status,
	o.charge_id, o.subtotal, o.shipping_cost, o.tax_amount, o.total_amount, o.created_at, o.updated_at,
	a.first_name, a.last_name, a.email, a.address, a.city, a.state, a.zip_code, a.phone`

const orderFrom = `FROM orders o JOIN shipping_addresses a ON a.order_id = o.id`

// CommitOrder runs the whole commit in one transaction. The cart row is
// locked and the snapshot lines deleted first, then stock is taken with
// conditional decrements, so a shortfall aborts before the order is written.
func (r *Repository) CommitOrder(ctx context.Context, c *domain.Commit) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1 FOR UPDATE`, c.SessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if session.Status != domain.CheckoutStatusCommitting {
		return nil, domain.ErrSessionStateChanged
	}

	if err := deleteCartLines(ctx, tx, c.Order.UserID, c.CartLineIDs); err != nil {
		return nil, err
	}

	if err := decrementStock(ctx, tx, c.Decrements); err != nil {
		return nil, err
	}

	order := *c.Order
	order.Items = slices.Clone(c.Order.Items)
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, user_id, email, status, payment_method, payment_status, charge_id,
		                     subtotal, shipping_cost, tax_amount, total_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		order.OrderNumber,
		order.UserID,
		order.Email,
		order.Status,
		order.PaymentMethod,
		order.PaymentStatus,
		nullString(order.ChargeID),
		order.Subtotal,
		order.ShippingCost,
		order.TaxAmount,
		order.TotalAmount).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, size, price, quantity) VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			order.ID, item.ProductID, item.Size, item.Price, item.Quantity).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	a := order.Shipping
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO shipping_addresses (order_id, first_name, last_name, email, address, city, state, zip_code, phone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, a.FirstName, a.LastName, a.Email, a.Address, a.City, a.State, a.ZipCode, a.Phone); err != nil {
		return nil, fmt.Errorf("insert shipping address: %w", err)
	}

	session.Status = domain.CheckoutStatusCompleted
	session.OrderID = &order.ID
	session.ChargeID = order.ChargeID
	if err := transitionSession(ctx, tx, session, domain.CheckoutStatusCommitting); err != nil {
		return nil, err
	}

	if err := insertEvent(ctx, tx, &c.Event); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return &order, nil
}

// deleteCartLines removes the snapshot's lines under the cart row lock. Every
// line must still be there: a missing one was already checked out or removed,
// and the commit must not go through twice.
func deleteCartLines(ctx context.Context, tx *sql.Tx, userID string, lineIDs []int64) error {
	if len(lineIDs) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE carts SET updated_at = NOW() WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items
		 WHERE id = ANY($1) AND cart_id IN (SELECT id FROM carts WHERE user_id = $2)`,
		pq.Array(lineIDs), userID)
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	if n != int64(len(lineIDs)) {
		return fmt.Errorf("%w: %d of %d lines left", domain.ErrCartChanged, n, len(lineIDs))
	}
	return nil
}

// decrementStock applies every decrement with a stock >= quantity guard and
// reports all shortfalls together. Rows are touched in a fixed order so
// concurrent commits cannot deadlock on each other.
func decrementStock(ctx context.Context, tx *sql.Tx, decrements []domain.StockDecrement) error {
	sorted := slices.Clone(decrements)
	slices.SortFunc(sorted, func(a, b domain.StockDecrement) int {
		if c := cmp.Compare(a.ProductID, b.ProductID); c != 0 {
			return c
		}
		return cmp.Compare(sizeKey(a.SizeID), sizeKey(b.SizeID))
	})

	var violations []stock.Violation
	for _, d := range sorted {
		var res sql.Result
		var err error
		if d.SizeID != nil {
			res, err = tx.ExecContext(ctx,
				`UPDATE product_sizes SET stock = stock - $1 WHERE id = $2 AND product_id = $3 AND stock >= $1`,
				d.Quantity, *d.SizeID, d.ProductID)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`,
				d.Quantity, d.ProductID)
		}
		if err != nil {
			return fmt.Errorf("decrement stock of product %d: %w", d.ProductID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			continue
		}

		available, err := currentStock(ctx, tx, d)
		if err != nil {
			return err
		}
		violations = append(violations, stock.DecrementViolation(d, available))
	}

	if len(violations) > 0 {
		return &stock.ViolationsError{Violations: violations}
	}
	return nil
}

// currentStock reads the counter a failed decrement ran against. A deleted
// product or size counts as zero.
func currentStock(ctx context.Context, tx *sql.Tx, d domain.StockDecrement) (int, error) {
	var available int
	var err error
	if d.SizeID != nil {
		err = tx.QueryRowContext(ctx,
			`SELECT stock FROM product_sizes WHERE id = $1 AND product_id = $2`, *d.SizeID, d.ProductID).Scan(&available)
	} else {
		err = tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, d.ProductID).Scan(&available)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query stock of product %d: %w", d.ProductID, err)
	}
	return available, nil
}

func sizeKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` `+orderFrom+` WHERE o.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := r.loadOrderItems(ctx, []int64{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *Repository) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` `+orderFrom+` WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	var ids []int64
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.loadOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

func (r *Repository) loadOrderItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, product_id, size, price, quantity
		 FROM order_items WHERE order_id = ANY($1) ORDER BY id`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]domain.OrderItem)
	for rows.Next() {
		var item domain.OrderItem
		var orderID int64
		var productID sql.NullInt64
		if err := rows.Scan(&item.ID, &orderID, &productID, &item.Size, &item.Price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		if productID.Valid {
			id := productID.Int64
			item.ProductID = &id
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var chargeID sql.NullString
	a := &o.Shipping
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Email,
		&o.Status,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&chargeID,
		&o.Subtotal,
		&o.ShippingCost,
		&o.TaxAmount,
		&o.TotalAmount,
		&o.CreatedAt,
		&o.UpdatedAt,
		&a.FirstName,
		&a.LastName,
		&a.Email,
		&a.Address,
		&a.City,
		&a.State,
		&a.ZipCode,
		&a.Phone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.ChargeID = chargeID.String
	return &o, nil
}
