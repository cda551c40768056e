package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grocery-order-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, customer_id, amount, address, phone, status, payment_method,
	gateway, transaction_id, discount_applied, points_awarded, created_at, updated_at`

// InsertOrder persists a new order and its line items
func (q *Queries) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, amount, address, phone, status, payment_method,
			gateway, transaction_id, discount_applied, points_awarded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := q.q.QueryRowxContext(ctx, query,
		order.CustomerID, order.Amount, order.Address, order.Phone, order.Status,
		order.PaymentMethod, order.Gateway, order.TransactionID, order.DiscountApplied,
		order.PointsAwarded,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		item.Position = i
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO order_items (order_id, position, product_id, quantity, price, name, image_url)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.OrderID, item.Position, item.ProductID, item.Quantity, item.Price, item.Name, item.ImageURL)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

// GetOrder retrieves an order with its line items
func (q *Queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetOrderForUpdate retrieves an order and locks its row until the
// surrounding transaction ends
func (q *Queries) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

// GetOrderByTransactionIDForUpdate locks the order correlated with a gateway transaction
func (q *Queries) GetOrderByTransactionIDForUpdate(ctx context.Context, transactionID string) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE transaction_id = $1 FOR UPDATE", transactionID)
}

func (q *Queries) getOrder(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.q, &order, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrOrderNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	orders := []models.Order{order}
	if err := q.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// UpdateOrderState writes the mutable fields of an order: status and the
// points awarded on delivery
func (q *Queries) UpdateOrderState(ctx context.Context, order *models.Order) error {
	err := sqlx.GetContext(ctx, q.q, &order.UpdatedAt,
		`UPDATE orders
		 SET status = $1, points_awarded = $2, updated_at = NOW()
		 WHERE id = $3
		 RETURNING updated_at`,
		order.Status, order.PointsAwarded, order.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, order.ID)
	}
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// DeleteOrder removes an order; its items go with it via ON DELETE CASCADE
func (q *Queries) DeleteOrder(ctx context.Context, id int64) error {
	result, err := q.q.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return nil
}

// ListStaleAwaitingPayment locks up to limit unpaid online orders created
// before the cutoff, skipping rows another worker already holds
func (q *Queries) ListStaleAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.q, &orders,
		"SELECT "+orderColumns+` FROM orders
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		models.OrderStatusAwaitingPayment, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	if err := q.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListOrders returns every order newest first. Unpaid online orders are
// left out unless includeAwaiting is set.
func (q *Queries) ListOrders(ctx context.Context, includeAwaiting bool) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.q, &orders,
		"SELECT "+orderColumns+` FROM orders
		 WHERE ($1 OR status <> $2)
		 ORDER BY created_at DESC, id DESC`,
		includeAwaiting, models.OrderStatusAwaitingPayment)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if err := q.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListOrdersByCustomer returns a customer's orders newest first
func (q *Queries) ListOrdersByCustomer(ctx context.Context, customerID int64, includeAwaiting bool) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.q, &orders,
		"SELECT "+orderColumns+` FROM orders
		 WHERE customer_id = $1 AND ($2 OR status <> $3)
		 ORDER BY created_at DESC, id DESC`,
		customerID, includeAwaiting, models.OrderStatusAwaitingPayment)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	if err := q.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (q *Queries) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = i
	}

	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q.q, &items,
		`SELECT order_id, position, product_id, quantity, price, name, image_url
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, position`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}

	for _, item := range items {
		idx := byID[item.OrderID]
		orders[idx].Items = append(orders[idx].Items, item)
	}
	return nil
}
