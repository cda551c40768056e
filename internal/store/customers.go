package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"grocery-order-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCustomer retrieves a customer by ID
func (q *Queries) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := sqlx.GetContext(ctx, q.q, &customer,
		`SELECT id, full_name, email, role, points, created_at, updated_at
		 FROM customers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrCustomerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &customer, nil
}

// DeductPoints spends points only if the balance covers them and returns
// the new balance. ErrInsufficientPoints leaves the balance untouched.
func (q *Queries) DeductPoints(ctx context.Context, customerID int64, points int) (int, error) {
	var balance int
	err := sqlx.GetContext(ctx, q.q, &balance,
		`UPDATE customers
		 SET points = points - $1, updated_at = NOW()
		 WHERE id = $2 AND points >= $1
		 RETURNING points`,
		points, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: customer %d", ErrInsufficientPoints, customerID)
	}
	if err != nil {
		return 0, fmt.Errorf("deduct points: %w", err)
	}
	return balance, nil
}

// AdjustPointsClamped adds delta (which may be negative) and floors the
// result at zero, returning the new balance.
func (q *Queries) AdjustPointsClamped(ctx context.Context, customerID int64, delta int) (int, error) {
	var balance int
	err := sqlx.GetContext(ctx, q.q, &balance,
		`UPDATE customers
		 SET points = GREATEST(points + $1, 0), updated_at = NOW()
		 WHERE id = $2
		 RETURNING points`,
		delta, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrCustomerNotFound, customerID)
	}
	if err != nil {
		return 0, fmt.Errorf("adjust points: %w", err)
	}
	return balance, nil
}
