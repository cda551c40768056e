package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grocery-order-service/internal/models"
	"grocery-order-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token-" + key
	return l.held[key], true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	l.released = append(l.released, key)
	return nil
}

type paymentFixture struct {
	repo   *fakeRepo
	orders *OrderService
	pay    *PaymentService
	locker *fakeLocker
	pub    *recordingPublisher
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	util.SetLogger(zaptest.NewLogger(t))

	repo := newFakeRepo()
	repo.addProduct(rice, 100, 50)
	repo.addCustomer(testCustomer, 150)

	pub := &recordingPublisher{}
	locker := newFakeLocker()
	return &paymentFixture{
		repo:   repo,
		orders: NewOrderService(repo, pub, testRules()),
		pay:    NewPaymentService(repo, locker, pub, testGateway(), testRules()),
		locker: locker,
		pub:    pub,
	}
}

// onlineOrder places a 2 × 100 order, 250 with delivery, through gateway
func (f *paymentFixture) onlineOrder(t *testing.T, gateway models.Gateway, discount bool) *models.Order {
	t.Helper()
	req := codRequest(OrderItemRequest{ProductID: rice, Quantity: 2})
	req.PaymentMethod = models.PaymentOnlineGateway
	req.Gateway = gateway
	req.ApplyDiscount = discount
	resp, err := f.orders.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	return resp.Order
}

func TestConfirmPayment_CompletedMovesToPending(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)

	confirmed, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID,
		Amount:        25000,
		Status:        "Completed",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, confirmed.Status)
	assert.Equal(t, models.OrderStatusPending, f.repo.order(order.ID).Status)
	assert.Equal(t, 48, f.repo.stock(rice))
	assert.Contains(t, f.pub.published(), models.EventTypePaymentConfirmed)
	assert.Empty(t, f.locker.held)
}

func TestConfirmPayment_RepeatIsNoop(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayEsewa, false)
	req := &ConfirmPaymentRequest{TransactionID: *order.TransactionID, Amount: 25000, Status: "COMPLETE"}

	_, err := f.pay.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)
	_, err = f.orders.SetStatus(context.Background(), order.ID, models.OrderStatusShipped)
	require.NoError(t, err)

	again, err := f.pay.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, again.Status)
}

func TestConfirmPayment_UnknownTransaction(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: "no-such-pidx", Amount: 100, Status: "Completed",
	})
	require.ErrorIs(t, err, ErrUnknownTransaction)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{Status: "Completed"})
	require.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestConfirmPayment_AmountMismatchChangesNothing(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)

	_, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID,
		Amount:        250,
		Status:        "Completed",
	})
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, KindStateConflict, KindOf(err))
	assert.Equal(t, models.OrderStatusAwaitingPayment, f.repo.order(order.ID).Status)
	assert.Equal(t, 48, f.repo.stock(rice))
}

func TestConfirmPayment_DiscountedAmount(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, true)
	// 200 items + 50 delivery - 50 discount
	require.Equal(t, "200", order.Amount.String())

	confirmed, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID,
		Amount:        20000,
		Status:        "Completed",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, confirmed.Status)
}

func TestConfirmPayment_NotCompletedReleasesOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, true)
	assert.Equal(t, 0, f.repo.points(testCustomer))
	assert.Equal(t, 48, f.repo.stock(rice))

	_, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID,
		Amount:        20000,
		Status:        "User canceled",
	})
	require.ErrorIs(t, err, ErrPaymentNotCompleted)

	_, exists := f.repo.orders[order.ID]
	assert.False(t, exists)
	assert.Equal(t, 50, f.repo.stock(rice))
	assert.Equal(t, 150, f.repo.points(testCustomer))
	assert.Contains(t, f.pub.published(), models.EventTypePaymentFailed)

	// the transaction id no longer resolves
	_, err = f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID, Amount: 20000, Status: "Completed",
	})
	require.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestConfirmPayment_GatewaySentinelsAreNotInterchangeable(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayEsewa, false)

	_, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID,
		Amount:        25000,
		Status:        "Completed",
	})
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, 50, f.repo.stock(rice))
}

func TestConfirmPayment_LateFailureLeavesConfirmedOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)
	ctx := context.Background()

	_, err := f.pay.ConfirmPayment(ctx, &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID, Amount: 25000, Status: "Completed",
	})
	require.NoError(t, err)

	_, err = f.pay.ConfirmPayment(ctx, &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID, Amount: 25000, Status: "Expired",
	})
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, models.OrderStatusPending, f.repo.order(order.ID).Status)
	assert.Equal(t, 48, f.repo.stock(rice))
}

func TestConfirmPayment_LockContention(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)
	f.locker.held["payment:"+*order.TransactionID] = "someone-else"

	_, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID, Amount: 25000, Status: "Completed",
	})
	require.ErrorIs(t, err, ErrPaymentInProgress)
	assert.Equal(t, KindConcurrent, KindOf(err))
	assert.Equal(t, models.OrderStatusAwaitingPayment, f.repo.order(order.ID).Status)
}

func TestConfirmPayment_LockUnavailableFallsBackToRowLock(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)
	f.locker.err = errors.New("connection refused")

	confirmed, err := f.pay.ConfirmPayment(context.Background(), &ConfirmPaymentRequest{
		TransactionID: *order.TransactionID, Amount: 25000, Status: "Completed",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, confirmed.Status)
}

func TestExpireAbandoned(t *testing.T) {
	f := newPaymentFixture(t)
	stale := f.onlineOrder(t, models.GatewayKhalti, true)

	cod := codRequest(OrderItemRequest{ProductID: rice, Quantity: 1})
	_, err := f.orders.CreateOrder(context.Background(), cod)
	require.NoError(t, err)

	n, err := f.pay.ExpireAbandoned(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is disabled without a timeout")

	rules := testRules()
	rules.PaymentTimeoutSeconds = 900
	f.pay.rules = rules

	f.pay.now = func() time.Time { return f.repo.now.Add(10 * time.Minute) }
	n, err = f.pay.ExpireAbandoned(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.pay.now = func() time.Time { return f.repo.now.Add(time.Hour) }
	n, err = f.pay.ExpireAbandoned(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, exists := f.repo.orders[stale.ID]
	assert.False(t, exists)
	assert.Len(t, f.repo.orders, 1)
	assert.Equal(t, 49, f.repo.stock(rice))
	assert.Equal(t, 150, f.repo.points(testCustomer))
}

type stubVerifier struct {
	outcome *GatewayOutcome
	err     error
	asked   []string
}

func (v *stubVerifier) Lookup(_ context.Context, transactionID string) (*GatewayOutcome, error) {
	v.asked = append(v.asked, transactionID)
	if v.err != nil {
		return nil, v.err
	}
	out := *v.outcome
	return &out, nil
}

func TestConfirmFromGateway_UsesLookupOutcome(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)
	verifier := &stubVerifier{outcome: &GatewayOutcome{
		TransactionID: *order.TransactionID, Status: "Completed", Amount: 25000,
	}}
	f.pay.RegisterVerifier(models.GatewayKhalti, verifier)

	confirmed, err := f.pay.ConfirmFromGateway(context.Background(), models.GatewayKhalti, *order.TransactionID)
	require.NoError(t, err)

	assert.Equal(t, []string{*order.TransactionID}, verifier.asked)
	assert.Equal(t, models.OrderStatusPending, confirmed.Status)
}

func TestConfirmFromGateway_UnpaidLookupReleasesOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)
	f.pay.RegisterVerifier(models.GatewayKhalti, &stubVerifier{outcome: &GatewayOutcome{
		TransactionID: *order.TransactionID, Status: "Pending", Amount: 25000,
	}})

	_, err := f.pay.ConfirmFromGateway(context.Background(), models.GatewayKhalti, *order.TransactionID)
	require.ErrorIs(t, err, ErrPaymentNotCompleted)

	_, exists := f.repo.orders[order.ID]
	assert.False(t, exists)
	assert.Equal(t, 50, f.repo.stock(rice))
}

func TestConfirmFromGateway_LookupFailureChangesNothing(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)
	f.pay.RegisterVerifier(models.GatewayKhalti, &stubVerifier{err: errors.New("khalti lookup: i/o timeout")})

	_, err := f.pay.ConfirmFromGateway(context.Background(), models.GatewayKhalti, *order.TransactionID)
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, models.OrderStatusAwaitingPayment, f.repo.order(order.ID).Status)
	assert.Equal(t, 48, f.repo.stock(rice))
}

func TestConfirmFromGateway_RejectsAnswerForAnotherTransaction(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayKhalti, false)
	f.pay.RegisterVerifier(models.GatewayKhalti, &stubVerifier{outcome: &GatewayOutcome{
		TransactionID: "other-pidx", Status: "Completed", Amount: 25000,
	}})

	_, err := f.pay.ConfirmFromGateway(context.Background(), models.GatewayKhalti, *order.TransactionID)
	require.ErrorIs(t, err, ErrUnknownTransaction)
	assert.Equal(t, models.OrderStatusAwaitingPayment, f.repo.order(order.ID).Status)
}

func TestConfirmFromGateway_NoVerifierRegistered(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.onlineOrder(t, models.GatewayEsewa, false)

	_, err := f.pay.ConfirmFromGateway(context.Background(), models.GatewayEsewa, *order.TransactionID)
	require.ErrorIs(t, err, ErrGatewayUnsupported)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, models.OrderStatusAwaitingPayment, f.repo.order(order.ID).Status)

	_, err = f.pay.ConfirmFromGateway(context.Background(), models.GatewayKhalti, "  ")
	require.ErrorIs(t, err, ErrUnknownTransaction)
}
