package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grocery-order-service/config"
	"grocery-order-service/internal/models"
	"grocery-order-service/internal/store"

	"github.com/shopspring/decimal"
)

// fakeRepo is an in-memory Repository. InTx snapshots all state and
// restores it when the unit of work fails, like a rolled back transaction.
type fakeRepo struct {
	mu        sync.Mutex
	products  map[int64]models.Product
	customers map[int64]models.Customer
	orders    map[int64]models.Order
	nextID    int64
	now       time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		products:  map[int64]models.Product{},
		customers: map[int64]models.Customer{},
		orders:    map[int64]models.Order{},
		now:       time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *fakeRepo) addProduct(id int64, price int64, stock int) {
	r.products[id] = models.Product{
		ID:    id,
		Name:  fmt.Sprintf("product-%d", id),
		Price: decimal.NewFromInt(price),
		Stock: stock,
	}
}

func (r *fakeRepo) addCustomer(id int64, points int) {
	r.customers[id] = models.Customer{ID: id, FullName: "Customer", Role: models.RoleNormal, Points: points}
}

func (r *fakeRepo) stock(id int64) int          { return r.products[id].Stock }
func (r *fakeRepo) points(id int64) int         { return r.customers[id].Points }
func (r *fakeRepo) order(id int64) models.Order { return r.orders[id] }

type fakeSnapshot struct {
	products  map[int64]models.Product
	customers map[int64]models.Customer
	orders    map[int64]models.Order
	nextID    int64
}

func (r *fakeRepo) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		products:  make(map[int64]models.Product, len(r.products)),
		customers: make(map[int64]models.Customer, len(r.customers)),
		orders:    make(map[int64]models.Order, len(r.orders)),
		nextID:    r.nextID,
	}
	for k, v := range r.products {
		snap.products[k] = v
	}
	for k, v := range r.customers {
		snap.customers[k] = v
	}
	for k, v := range r.orders {
		snap.orders[k] = copyOrder(v)
	}
	return snap
}

func (r *fakeRepo) restore(snap fakeSnapshot) {
	r.products = snap.products
	r.customers = snap.customers
	r.orders = snap.orders
	r.nextID = snap.nextID
}

func copyOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return o
}

func (r *fakeRepo) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.snapshot()
	if err := fn(&fakeTx{r: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *fakeRepo) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&fakeTx{r: r}).GetOrder(ctx, id)
}

func (r *fakeRepo) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&fakeTx{r: r}).GetCustomer(ctx, id)
}

func (r *fakeRepo) ListOrders(ctx context.Context, includeAwaiting bool) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(o models.Order) bool {
		return includeAwaiting || o.Status != models.OrderStatusAwaitingPayment
	}), nil
}

func (r *fakeRepo) ListOrdersByCustomer(ctx context.Context, customerID int64, includeAwaiting bool) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(o models.Order) bool {
		return o.CustomerID == customerID &&
			(includeAwaiting || o.Status != models.OrderStatusAwaitingPayment)
	}), nil
}

func (r *fakeRepo) list(keep func(models.Order) bool) []models.Order {
	var out []models.Order
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

type fakeTx struct {
	r *fakeRepo
}

var _ store.Tx = (*fakeTx)(nil)

func (t *fakeTx) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := t.r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrProductNotFound, id)
	}
	return &p, nil
}

func (t *fakeTx) DecrementStock(_ context.Context, productID int64, quantity int) error {
	p, ok := t.r.products[productID]
	if !ok || p.Stock < quantity {
		return fmt.Errorf("%w: product %d", store.ErrInsufficientStock, productID)
	}
	p.Stock -= quantity
	t.r.products[productID] = p
	return nil
}

func (t *fakeTx) IncrementStock(_ context.Context, productID int64, quantity int) error {
	p, ok := t.r.products[productID]
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrProductNotFound, productID)
	}
	p.Stock += quantity
	t.r.products[productID] = p
	return nil
}

func (t *fakeTx) GetCustomer(_ context.Context, id int64) (*models.Customer, error) {
	c, ok := t.r.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrCustomerNotFound, id)
	}
	return &c, nil
}

func (t *fakeTx) DeductPoints(_ context.Context, customerID int64, points int) (int, error) {
	c, ok := t.r.customers[customerID]
	if !ok || c.Points < points {
		return 0, fmt.Errorf("%w: customer %d", store.ErrInsufficientPoints, customerID)
	}
	c.Points -= points
	t.r.customers[customerID] = c
	return c.Points, nil
}

func (t *fakeTx) AdjustPointsClamped(_ context.Context, customerID int64, delta int) (int, error) {
	c, ok := t.r.customers[customerID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", store.ErrCustomerNotFound, customerID)
	}
	c.Points += delta
	if c.Points < 0 {
		c.Points = 0
	}
	t.r.customers[customerID] = c
	return c.Points, nil
}

func (t *fakeTx) InsertOrder(_ context.Context, order *models.Order) error {
	if order.TransactionID != nil {
		for _, o := range t.r.orders {
			if o.TransactionID != nil && *o.TransactionID == *order.TransactionID {
				return store.ErrDuplicateTransaction
			}
		}
	}
	t.r.nextID++
	order.ID = t.r.nextID
	order.CreatedAt = t.r.now
	order.UpdatedAt = t.r.now
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].Position = i
	}
	t.r.orders[order.ID] = copyOrder(*order)
	return nil
}

func (t *fakeTx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrOrderNotFound, id)
	}
	o = copyOrder(o)
	return &o, nil
}

func (t *fakeTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *fakeTx) GetOrderByTransactionIDForUpdate(_ context.Context, transactionID string) (*models.Order, error) {
	for _, o := range t.r.orders {
		if o.TransactionID != nil && *o.TransactionID == transactionID {
			o = copyOrder(o)
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrOrderNotFound, transactionID)
}

func (t *fakeTx) UpdateOrderState(_ context.Context, order *models.Order) error {
	o, ok := t.r.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrOrderNotFound, order.ID)
	}
	o.Status = order.Status
	o.PointsAwarded = order.PointsAwarded
	o.UpdatedAt = t.r.now
	t.r.orders[order.ID] = o
	order.UpdatedAt = o.UpdatedAt
	return nil
}

func (t *fakeTx) DeleteOrder(_ context.Context, id int64) error {
	if _, ok := t.r.orders[id]; !ok {
		return fmt.Errorf("%w: %d", store.ErrOrderNotFound, id)
	}
	delete(t.r.orders, id)
	return nil
}

func (t *fakeTx) ListStaleAwaitingPayment(_ context.Context, before time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	for _, o := range t.r.orders {
		if o.Status == models.OrderStatusAwaitingPayment && o.CreatedAt.Before(before) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recordingPublisher keeps every published event type in order
type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	points []*models.PointsEvent
	fail   bool
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	if p.fail {
		return errors.New("broker down")
	}
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPoints(_ context.Context, e *models.PointsEvent) error {
	p.mu.Lock()
	p.points = append(p.points, e)
	p.mu.Unlock()
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPaymentResult(_ context.Context, e *models.PaymentResultEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func testRules() config.BusinessConfig {
	return config.BusinessConfig{
		DeliveryFee:           decimal.NewFromInt(50),
		DiscountPointsCost:    150,
		DiscountRate:          decimal.RequireFromString("0.25"),
		RewardThreshold:       decimal.NewFromInt(2000),
		RewardMinPoints:       10,
		RewardMaxPoints:       20,
		PaymentTimeoutSeconds: 0,
		SweepIntervalSeconds:  60,
	}
}

func testGateway() config.GatewayConfig {
	return config.GatewayConfig{
		KhaltiSuccessStatus: "Completed",
		EsewaSuccessStatus:  "COMPLETE",
		MinorUnitFactor:     100,
		CallbackLockTTL:     10 * time.Second,
	}
}
