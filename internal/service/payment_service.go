package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grocery-order-service/config"
	"grocery-order-service/internal/models"
	"grocery-order-service/internal/store"
	"grocery-order-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Locker serializes concurrent deliveries of the same gateway outcome
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// GatewayOutcome is what a gateway's own lookup API reports for a
// transaction. Amount is in the gateway's minor unit.
type GatewayOutcome struct {
	TransactionID string
	Status        string
	Amount        int64
}

// GatewayVerifier queries a gateway server-to-server
type GatewayVerifier interface {
	Lookup(ctx context.Context, transactionID string) (*GatewayOutcome, error)
}

// PaymentService finalizes online orders from verified gateway outcomes
type PaymentService struct {
	repo      Repository
	locker    Locker
	verifiers map[models.Gateway]GatewayVerifier
	events  events
	gateway config.GatewayConfig
	rules   config.BusinessConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service. locker may be nil, in
// which case only the database row lock serializes confirmations.
func NewPaymentService(
	repo Repository,
	locker Locker,
	publisher EventPublisher,
	gateway config.GatewayConfig,
	rules config.BusinessConfig,
) *PaymentService {
	logger := util.GetLogger()
	return &PaymentService{
		repo:      repo,
		locker:    locker,
		verifiers: map[models.Gateway]GatewayVerifier{},
		events:    events{publisher: publisher, logger: logger},
		gateway:   gateway,
		rules:     rules,
		now:       time.Now,
		logger:    logger,
	}
}

// RegisterVerifier enables ConfirmFromGateway for g
func (ps *PaymentService) RegisterVerifier(g models.Gateway, v GatewayVerifier) {
	ps.verifiers[g] = v
}

// ConfirmFromGateway looks transactionID up with the gateway itself and
// applies the outcome it reports. Callers only supply the id.
func (ps *PaymentService) ConfirmFromGateway(ctx context.Context, g models.Gateway, transactionID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmFromGateway",
		attribute.String("gateway", string(g)),
		attribute.String("transaction_id", transactionID))
	defer span.End()

	txID := strings.TrimSpace(transactionID)
	if txID == "" {
		return nil, util.RecordError(span, ErrUnknownTransaction)
	}

	verifier, ok := ps.verifiers[g]
	if !ok {
		return nil, util.RecordError(span, fmt.Errorf("%w: %s", ErrGatewayUnsupported, g))
	}

	outcome, err := verifier.Lookup(ctx, txID)
	if err != nil {
		util.PaymentConfirmationsTotal.WithLabelValues("lookup_failed").Inc()
		return nil, util.RecordError(span, fmt.Errorf("lookup %s transaction %s: %w", g, txID, err))
	}
	if outcome.TransactionID != "" && outcome.TransactionID != txID {
		return nil, util.RecordError(span, fmt.Errorf("%w: gateway answered for %s", ErrUnknownTransaction, outcome.TransactionID))
	}

	return ps.ConfirmPayment(ctx, &ConfirmPaymentRequest{
		TransactionID: txID,
		Amount:        outcome.Amount,
		Status:        outcome.Status,
	})
}

// ConfirmPaymentRequest is a gateway outcome after server-side verification.
// Amount is in the gateway's minor unit. Only trusted sources (the lookup
// path, the outcome topic, operators) may build one.
type ConfirmPaymentRequest struct {
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
}

type paymentOutcome int

const (
	outcomeConfirmed paymentOutcome = iota
	outcomeAlreadyConfirmed
	outcomeReleased
	outcomeNotCompleted
)

// ConfirmPayment applies a gateway outcome to the order it correlates with.
// A completed payment moves AwaitingPayment to Pending; repeats are no-ops.
// Anything else releases the unpaid order and returns ErrPaymentNotCompleted.
func (ps *PaymentService) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment",
		attribute.String("transaction_id", req.TransactionID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	txID := strings.TrimSpace(req.TransactionID)
	if txID == "" {
		return nil, util.RecordError(span, ErrUnknownTransaction)
	}

	unlock, err := ps.lock(ctx, txID)
	if err != nil {
		return nil, util.RecordError(span, err)
	}
	defer unlock()

	var (
		order   *models.Order
		outcome paymentOutcome
	)

	err = ps.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrderByTransactionIDForUpdate(ctx, txID)
		if errors.Is(err, store.ErrOrderNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownTransaction, txID)
		}
		if err != nil {
			return err
		}

		if req.Status != ps.successStatus(order.Gateway) {
			if order.Status != models.OrderStatusAwaitingPayment {
				outcome = outcomeNotCompleted
				return nil
			}
			outcome = outcomeReleased
			return ps.release(ctx, tx, order)
		}

		expected := order.Amount.Mul(decimal.NewFromInt(ps.gateway.MinorUnitFactor))
		if !decimal.NewFromInt(req.Amount).Equal(expected) {
			return fmt.Errorf("%w: reported %d, expected %s",
				ErrAmountMismatch, req.Amount, expected.String())
		}

		if order.Status != models.OrderStatusAwaitingPayment {
			outcome = outcomeAlreadyConfirmed
			return nil
		}
		if !order.Status.CanTransition(models.OrderStatusPending, models.ActorPayment) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, models.OrderStatusPending)
		}

		outcome = outcomeConfirmed
		order.Status = models.OrderStatusPending
		return tx.UpdateOrderState(ctx, order)
	})
	if err != nil {
		if errors.Is(err, ErrAmountMismatch) {
			util.PaymentConfirmationsTotal.WithLabelValues("amount_mismatch").Inc()
			ps.logger.Warn("Payment amount mismatch",
				zap.String("transaction_id", txID),
				zap.Int64("reported_amount", req.Amount))
		}
		return nil, util.RecordError(span, err)
	}

	switch outcome {
	case outcomeConfirmed:
		util.PaymentConfirmationsTotal.WithLabelValues("confirmed").Inc()
		util.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusAwaitingPayment), string(models.OrderStatusPending)).Inc()
		ps.logger.Info("Payment confirmed",
			zap.Int64("order_id", order.ID),
			zap.String("transaction_id", txID))
		ps.events.paymentResult(ctx, models.EventTypePaymentConfirmed, order, "")
		ps.events.statusChanged(ctx, order, models.OrderStatusAwaitingPayment)
		return order, nil

	case outcomeAlreadyConfirmed:
		util.PaymentConfirmationsTotal.WithLabelValues("duplicate").Inc()
		ps.logger.Info("Payment already confirmed",
			zap.Int64("order_id", order.ID),
			zap.String("transaction_id", txID),
			zap.String("status", string(order.Status)))
		return order, nil

	case outcomeReleased:
		util.PaymentConfirmationsTotal.WithLabelValues("failed").Inc()
		ps.logger.Warn("Payment not completed, order released",
			zap.Int64("order_id", order.ID),
			zap.String("transaction_id", txID),
			zap.String("gateway_status", req.Status))
		ps.events.paymentResult(ctx, models.EventTypePaymentFailed, order, req.Status)
	default:
		util.PaymentConfirmationsTotal.WithLabelValues("failed").Inc()
	}

	return nil, util.RecordError(span, fmt.Errorf("%w: gateway status %q", ErrPaymentNotCompleted, req.Status))
}

// ExpireAbandoned releases online orders that have waited on the gateway
// longer than the configured timeout. It returns how many were released.
func (ps *PaymentService) ExpireAbandoned(ctx context.Context, batch int) (int, error) {
	if ps.rules.PaymentTimeoutSeconds <= 0 {
		return 0, nil
	}

	ctx, span := util.StartSpan(ctx, "PaymentService.ExpireAbandoned")
	defer span.End()

	cutoff := ps.now().Add(-time.Duration(ps.rules.PaymentTimeoutSeconds) * time.Second)

	var expired []models.Order
	err := ps.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		expired, err = tx.ListStaleAwaitingPayment(ctx, cutoff, batch)
		if err != nil {
			return err
		}
		for i := range expired {
			if err := ps.release(ctx, tx, &expired[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, util.RecordError(span, err)
	}

	for i := range expired {
		order := &expired[i]
		util.OrdersExpiredTotal.Inc()
		ps.logger.Info("Unpaid order expired",
			zap.Int64("order_id", order.ID),
			zap.Time("created_at", order.CreatedAt))
		ps.events.paymentResult(ctx, models.EventTypePaymentFailed, order, "expired")
	}

	return len(expired), nil
}

// release deletes an unpaid order, restocks its lines and refunds the
// points a discount consumed
func (ps *PaymentService) release(ctx context.Context, tx store.Tx, order *models.Order) error {
	if err := restock(ctx, tx, order, ps.logger); err != nil {
		return err
	}

	if order.DiscountApplied {
		_, err := tx.AdjustPointsClamped(ctx, order.CustomerID, ps.rules.DiscountPointsCost)
		if errors.Is(err, store.ErrCustomerNotFound) {
			util.IntegrityAnomaliesTotal.WithLabelValues("order_customer_missing").Inc()
			ps.logger.Warn("Discount refund skipped, customer missing",
				zap.Int64("order_id", order.ID),
				zap.Int64("customer_id", order.CustomerID))
		} else if err != nil {
			return err
		}
	}

	return tx.DeleteOrder(ctx, order.ID)
}

func (ps *PaymentService) successStatus(g *models.Gateway) string {
	if g == nil {
		return ""
	}
	switch *g {
	case models.GatewayKhalti:
		return ps.gateway.KhaltiSuccessStatus
	case models.GatewayEsewa:
		return ps.gateway.EsewaSuccessStatus
	default:
		return ""
	}
}

// lock takes the per-transaction lock. Redis being unreachable is not
// fatal because the order row lock still serializes the update.
func (ps *PaymentService) lock(ctx context.Context, txID string) (func(), error) {
	noop := func() {}
	if ps.locker == nil {
		return noop, nil
	}

	key := "payment:" + txID
	token, ok, err := ps.locker.AcquireLock(ctx, key, ps.gateway.CallbackLockTTL)
	if err != nil {
		ps.logger.Warn("Payment lock unavailable, relying on row lock",
			zap.String("transaction_id", txID),
			zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentInProgress, txID)
	}

	return func() {
		if err := ps.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			ps.logger.Warn("Failed to release payment lock",
				zap.String("transaction_id", txID),
				zap.Error(err))
		}
	}, nil
}
