package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"grocery-order-service/config"
	"grocery-order-service/internal/models"
	"grocery-order-service/internal/store"
	"grocery-order-service/internal/util"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Repository is the persistence the services need. *store.Store satisfies it.
type Repository interface {
	InTx(ctx context.Context, fn func(tx store.Tx) error) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	ListOrders(ctx context.Context, includeAwaiting bool) ([]models.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID int64, includeAwaiting bool) ([]models.Order, error)
}

// EventPublisher receives domain events after their unit of work commits
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPoints(ctx context.Context, event *models.PointsEvent) error
	PublishPaymentResult(ctx context.Context, event *models.PaymentResultEvent) error
}

// OrderService handles order creation, listings and the status lifecycle
type OrderService struct {
	repo     Repository
	events   events
	rules    config.BusinessConfig
	randIntn func(n int) int
	text     *bluemonday.Policy
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo Repository, publisher EventPublisher, rules config.BusinessConfig) *OrderService {
	logger := util.GetLogger()
	return &OrderService{
		repo:     repo,
		events:   events{publisher: publisher, logger: logger},
		rules:    rules,
		randIntn: rand.Intn,
		text:     bluemonday.StrictPolicy(),
		logger:   logger,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID    int64                `json:"-"`
	Items         []OrderItemRequest   `json:"items"`
	Address       string               `json:"address"`
	Phone         string               `json:"phone"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
	Gateway       models.Gateway       `json:"gateway"`
	ApplyDiscount bool                 `json:"applyDiscount"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// CreateOrderResponse carries the new order and the customer as left by it
type CreateOrderResponse struct {
	Order           *models.Order    `json:"order"`
	UpdatedCustomer *models.Customer `json:"updatedCustomer"`
}

// CreateOrder validates the cart, reserves stock, optionally spends points
// on the discount and persists the order, all in one transaction
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder",
		attribute.Int64("customer_id", req.CustomerID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	lines, gateway, err := s.validateCreateRequest(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, util.RecordError(span, err)
	}

	var (
		order    *models.Order
		customer *models.Customer
	)

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		// InTx may retry, so everything is rebuilt per attempt
		var err error
		customer, err = tx.GetCustomer(ctx, req.CustomerID)
		if err != nil {
			return err
		}

		order = &models.Order{
			CustomerID:    req.CustomerID,
			Address:       req.Address,
			Phone:         req.Phone,
			Status:        models.OrderStatusPending,
			PaymentMethod: req.PaymentMethod,
			Items:         make([]models.OrderItem, 0, len(lines)),
		}

		for _, line := range lines {
			product, err := tx.GetProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if line.Quantity > product.Stock {
				return fmt.Errorf("%w: product %d has %d, requested %d",
					ErrInsufficientStock, product.ID, product.Stock, line.Quantity)
			}
			if err := tx.DecrementStock(ctx, product.ID, line.Quantity); err != nil {
				return err
			}

			order.Items = append(order.Items, models.OrderItem{
				ProductID: product.ID,
				Quantity:  line.Quantity,
				Price:     product.Price,
				Name:      product.Name,
				ImageURL:  product.ImageURL,
			})
		}

		itemsTotal := order.ItemsSubtotal()
		order.Amount = itemsTotal.Add(s.rules.DeliveryFee)

		if req.ApplyDiscount && customer.Points >= s.rules.DiscountPointsCost {
			balance, err := tx.DeductPoints(ctx, customer.ID, s.rules.DiscountPointsCost)
			switch {
			case errors.Is(err, store.ErrInsufficientPoints):
				// balance moved under us; treat as not eligible
			case err != nil:
				return err
			default:
				order.Amount = order.Amount.Sub(discountFor(itemsTotal, s.rules.DiscountRate))
				order.DiscountApplied = true
				customer.Points = balance
			}
		}

		if order.IsOnline() {
			txID := uuid.New().String()
			order.Status = models.OrderStatusAwaitingPayment
			order.Gateway = &gateway
			order.TransactionID = &txID
		}

		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, util.RecordError(span, err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	if order.DiscountApplied {
		util.DiscountsAppliedTotal.Inc()
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
		zap.String("amount", order.Amount.StringFixed(2)),
		zap.String("status", string(order.Status)),
		zap.Bool("discount_applied", order.DiscountApplied))

	s.events.orderCreated(ctx, order)

	return &CreateOrderResponse{Order: order, UpdatedCustomer: customer}, nil
}

// Column limits of the orders and order_items tables
const (
	maxLineQuantity = math.MaxInt32
	maxPhoneLength  = 32
)

// validateCreateRequest checks the request shape and merges repeated
// product ids into one line each, keeping first-seen order
func (s *OrderService) validateCreateRequest(req *CreateOrderRequest) ([]OrderItemRequest, models.Gateway, error) {
	if len(req.Items) == 0 {
		return nil, "", ErrEmptyCart
	}
	req.Address = s.plainText(req.Address)
	if req.Address == "" {
		return nil, "", ErrInvalidAddress
	}
	req.Phone = s.plainText(req.Phone)
	if req.Phone == "" {
		return nil, "", ErrInvalidPhone
	}
	if utf8.RuneCountInString(req.Phone) > maxPhoneLength {
		return nil, "", fmt.Errorf("%w: longer than %d characters", ErrInvalidPhone, maxPhoneLength)
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentCashOnDelivery
	}
	if !req.PaymentMethod.Valid() {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, req.PaymentMethod)
	}

	var gateway models.Gateway
	if req.PaymentMethod == models.PaymentOnlineGateway {
		gateway = models.Gateway(strings.ToLower(string(req.Gateway)))
		if !gateway.Valid() {
			return nil, "", fmt.Errorf("%w: unsupported gateway %q", ErrInvalidPaymentMethod, req.Gateway)
		}
	}

	merged := make([]OrderItemRequest, 0, len(req.Items))
	index := make(map[int64]int, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 || item.Quantity > maxLineQuantity {
			return nil, "", fmt.Errorf("%w: product %d", ErrInvalidQuantity, item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			if merged[i].Quantity > maxLineQuantity-item.Quantity {
				return nil, "", fmt.Errorf("%w: product %d", ErrInvalidQuantity, item.ProductID)
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	return merged, gateway, nil
}

// plainText strips markup from free-text delivery fields; they are shown
// verbatim on the admin dashboard
func (s *OrderService) plainText(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.text.Sanitize(in)))
}

// discountFor is the points-funded reduction, rounded to the cent
func discountFor(itemsTotal, rate decimal.Decimal) decimal.Decimal {
	return itemsTotal.Mul(rate).Round(2)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrCustomerNotFound):
		return "customer_not_found"
	default:
		return "db_error"
	}
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	return order, util.RecordError(span, err)
}

// ListOrders returns every confirmed order for the admin view
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.repo.ListOrders(ctx, false)
	return orders, util.RecordError(span, err)
}

// ListCustomerOrders returns the customer's orders, hiding ones still
// waiting on the gateway
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListCustomerOrders")
	defer span.End()

	orders, err := s.repo.ListOrdersByCustomer(ctx, customerID, false)
	return orders, util.RecordError(span, err)
}

// PaymentHistory returns all of the customer's orders including unpaid ones
func (s *OrderService) PaymentHistory(ctx context.Context, customerID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PaymentHistory")
	defer span.End()

	orders, err := s.repo.ListOrdersByCustomer(ctx, customerID, true)
	return orders, util.RecordError(span, err)
}
