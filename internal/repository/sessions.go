package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/lib/pq"
)

// activeSessionIndex allows one non-terminal checkout session per user.
const activeSessionIndex = "ux_checkout_sessions_active_user"

const sessionColumns = `id, user_id, idempotency_key, status, payment_method, total_amount, currency,
	charge_id, order_id, failure_reason, created_at, updated_at`

func (r *Repository) CreateSession(ctx context.Context, s *domain.CheckoutSession) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO checkout_sessions (id, user_id, idempotency_key, status, payment_method, total_amount, currency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		s.ID,
		s.UserID,
		nullString(s.IdempotencyKey),
		s.Status,
		s.PaymentMethod,
		s.TotalAmount,
		s.Currency).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == activeSessionIndex {
				return domain.ErrCheckoutActive
			}
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

func (r *Repository) GetSessionByIdempotencyKey(ctx context.Context, userID, key string) (*domain.CheckoutSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return s, err
}

// TransitionSession is a compare-and-set on the stored status.
func (r *Repository) TransitionSession(ctx context.Context, s *domain.CheckoutSession, from domain.CheckoutStatus) error {
	return transitionSession(ctx, r.db, s, from)
}

func transitionSession(ctx context.Context, q querier, s *domain.CheckoutSession, from domain.CheckoutStatus) error {
	err := q.QueryRowContext(ctx,
		`UPDATE checkout_sessions
		 SET status = $1, total_amount = $2, charge_id = $3, order_id = $4, failure_reason = $5, updated_at = NOW()
		 WHERE id = $6 AND status = $7
		 RETURNING updated_at`,
		s.Status,
		s.TotalAmount,
		nullString(s.ChargeID),
		s.OrderID,
		nullString(s.FailureReason),
		s.ID,
		from).Scan(&s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if e2 := q.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM checkout_sessions WHERE id = $1)`, s.ID).Scan(&exists); e2 != nil {
			return fmt.Errorf("check checkout session: %w", e2)
		}
		if !exists {
			return domain.ErrSessionNotFound
		}
		return domain.ErrSessionStateChanged
	}
	if err != nil {
		return fmt.Errorf("update checkout session: %w", err)
	}
	return nil
}

func (r *Repository) GetStuckSessions(ctx context.Context, before time.Time) ([]*domain.CheckoutSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions
		 WHERE status NOT IN ($1, $2) AND updated_at < $3
		 ORDER BY updated_at`,
		domain.CheckoutStatusCompleted, domain.CheckoutStatusFailed, before)
	if err != nil {
		return nil, fmt.Errorf("query stuck sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.CheckoutSession, error) {
	var s domain.CheckoutSession
	var key, chargeID, reason sql.NullString
	var orderID sql.NullInt64
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&key,
		&s.Status,
		&s.PaymentMethod,
		&s.TotalAmount,
		&s.Currency,
		&chargeID,
		&orderID,
		&reason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkout session: %w", err)
	}
	s.IdempotencyKey = key.String
	s.ChargeID = chargeID.String
	s.FailureReason = reason.String
	if orderID.Valid {
		id := orderID.Int64
		s.OrderID = &id
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
