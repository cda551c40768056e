package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"grocery-order-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetProduct retrieves a product by ID
func (q *Queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q.q, &product,
		`SELECT id, name, price, image_url, stock, created_at, updated_at
		 FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &product, nil
}

// DecrementStock reserves quantity units, failing with ErrInsufficientStock
// when fewer are available. The check and the write are one statement.
func (q *Queries) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock - $1, updated_at = NOW()
		 WHERE id = $2 AND stock >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: product %d", ErrInsufficientStock, productID)
	}
	return nil
}

// IncrementStock puts quantity units back on the shelf
func (q *Queries) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock + $1, updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	return nil
}
