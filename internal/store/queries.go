package store

import (
	"context"
	"time"

	"grocery-order-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Tx is the set of ledger and repository operations that make up a unit of
// work. Every mutation is a single conditional statement so concurrent units
// touching the same product or customer never lose updates.
type Tx interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	IncrementStock(ctx context.Context, productID int64, quantity int) error

	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	DeductPoints(ctx context.Context, customerID int64, points int) (int, error)
	AdjustPointsClamped(ctx context.Context, customerID int64, delta int) (int, error)

	InsertOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByTransactionIDForUpdate(ctx context.Context, transactionID string) (*models.Order, error)
	UpdateOrderState(ctx context.Context, order *models.Order) error
	DeleteOrder(ctx context.Context, id int64) error
	ListStaleAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

// Queries implements Tx against either the pool or an open transaction
type Queries struct {
	q sqlx.ExtContext
}

var _ Tx = (*Queries)(nil)
