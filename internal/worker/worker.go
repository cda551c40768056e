package worker

import (
	"context"
	"time"

	"grocery-order-service/internal/broker"
	"grocery-order-service/internal/models"
	"grocery-order-service/internal/service"
	"grocery-order-service/internal/util"

	"go.uber.org/zap"
)

// PaymentConfirmer applies a gateway outcome to its order
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, req *service.ConfirmPaymentRequest) (*models.Order, error)
}

// PaymentOutcomeWorker feeds gateway outcomes from Kafka into the
// confirmation bridge
type PaymentOutcomeWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     PaymentConfirmer
	logger       *zap.Logger
}

// NewPaymentOutcomeWorker creates a new payment outcome worker
func NewPaymentOutcomeWorker(consumer *broker.Consumer, payments PaymentConfirmer) *PaymentOutcomeWorker {
	w := &PaymentOutcomeWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		payments:     payments,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentOutcome(w.HandleOutcome)
	return w
}

// Start starts the worker
func (w *PaymentOutcomeWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment outcome worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentOutcomeWorker) Stop() error {
	w.logger.Info("Stopping payment outcome worker")
	return w.consumer.Close()
}

// HandleOutcome confirms one outcome. Rejections the bridge makes on the
// merits are final and the message is consumed; only internal failures and
// lock contention are returned so the consumer retries.
func (w *PaymentOutcomeWorker) HandleOutcome(ctx context.Context, event *models.PaymentOutcomeEvent) error {
	_, err := w.payments.ConfirmPayment(ctx, &service.ConfirmPaymentRequest{
		TransactionID: event.TransactionID,
		Amount:        event.ReportedAmount,
		Status:        event.GatewayStatus,
	})

	switch service.KindOf(err) {
	case service.KindNotFound, service.KindStateConflict, service.KindValidation:
		w.logger.Warn("Payment outcome rejected",
			zap.String("event_id", event.EventID),
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err))
		return nil
	}
	return err
}

// Expirer releases online orders abandoned at the gateway
type Expirer interface {
	ExpireAbandoned(ctx context.Context, batch int) (int, error)
}

// ExpiryWorker periodically runs the abandoned-payment sweep
type ExpiryWorker struct {
	expirer  Expirer
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewExpiryWorker creates a sweep that runs every interval
func NewExpiryWorker(expirer Expirer, interval time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		batch:    100,
		logger:   util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce drains expired orders batch by batch
func (w *ExpiryWorker) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.expirer.ExpireAbandoned(ctx, w.batch)
		if err != nil {
			w.logger.Error("Expiry sweep failed", zap.Error(err))
			break
		}
		total += n
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		w.logger.Info("Expiry sweep released orders", zap.Int("count", total))
	}
	return total
}
