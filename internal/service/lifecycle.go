package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"grocery-order-service/internal/models"
	"grocery-order-service/internal/store"
	"grocery-order-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// pointsChange is a committed loyalty movement waiting to be published
type pointsChange struct {
	eventType string
	delta     int
	balance   int
}

// SetStatus moves an order to next on behalf of an administrator and
// applies the loyalty and inventory side effects of the move in the same
// transaction. Setting the current status again is a no-op.
func (s *OrderService) SetStatus(ctx context.Context, orderID int64, next models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(next)))
	defer span.End()

	if _, err := models.ParseOrderStatus(string(next)); err != nil {
		return nil, util.RecordError(span, fmt.Errorf("%w: %q", ErrInvalidStatus, next))
	}

	var (
		order   *models.Order
		from    models.OrderStatus
		changed bool
		points  *pointsChange
	)

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		changed, points = false, nil

		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if from == next {
			return nil
		}
		if !from.CanTransition(next, models.ActorAdmin) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
		}

		customer, err := tx.GetCustomer(ctx, order.CustomerID)
		if errors.Is(err, store.ErrCustomerNotFound) {
			// orphaned order: record the status and nothing else
			util.IntegrityAnomaliesTotal.WithLabelValues("order_customer_missing").Inc()
			s.logger.Warn("Order customer missing, applying bare status write",
				zap.Int64("order_id", order.ID),
				zap.Int64("customer_id", order.CustomerID),
				zap.String("from", string(from)),
				zap.String("to", string(next)))

			order.Status = next
			changed = true
			return tx.UpdateOrderState(ctx, order)
		}
		if err != nil {
			return err
		}

		switch next {
		case models.OrderStatusDelivered:
			points, err = s.awardDeliveryPoints(ctx, tx, order, customer)
		case models.OrderStatusCancelled:
			points, err = s.reverseForCancellation(ctx, tx, order)
		}
		if err != nil {
			return err
		}

		order.Status = next
		changed = true
		return tx.UpdateOrderState(ctx, order)
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	if !changed {
		s.logger.Debug("Status unchanged", zap.Int64("order_id", order.ID), zap.String("status", string(next)))
		return order, nil
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(next)).Inc()
	if next == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
	}

	s.logger.Info("Order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.Int("points_awarded", order.PointsAwarded))

	s.events.statusChanged(ctx, order, from)
	if points != nil {
		s.events.points(ctx, points.eventType, order, points.delta, points.balance)
	}

	return order, nil
}

// awardDeliveryPoints credits a random bonus on qualifying cash orders.
// pointsAwarded guards against paying out twice.
func (s *OrderService) awardDeliveryPoints(ctx context.Context, tx store.Tx, order *models.Order, customer *models.Customer) (*pointsChange, error) {
	if order.PaymentMethod != models.PaymentCashOnDelivery || order.PointsAwarded != 0 {
		return nil, nil
	}
	if order.ItemsSubtotal().LessThan(s.rules.RewardThreshold) {
		return nil, nil
	}

	award := s.rules.RewardMinPoints + s.randIntn(s.rules.RewardMaxPoints-s.rules.RewardMinPoints+1)
	balance, err := tx.AdjustPointsClamped(ctx, customer.ID, award)
	if err != nil {
		return nil, err
	}
	order.PointsAwarded = award
	util.PointsAwardedTotal.Add(float64(award))

	return &pointsChange{eventType: models.EventTypePointsAwarded, delta: award, balance: balance}, nil
}

// reverseForCancellation takes back delivery points, refunds a spent
// discount and puts every line back in stock
func (s *OrderService) reverseForCancellation(ctx context.Context, tx store.Tx, order *models.Order) (*pointsChange, error) {
	if err := restock(ctx, tx, order, s.logger); err != nil {
		return nil, err
	}

	delta := -order.PointsAwarded
	if order.DiscountApplied {
		delta += s.rules.DiscountPointsCost
	}
	if delta == 0 {
		return nil, nil
	}

	balance, err := tx.AdjustPointsClamped(ctx, order.CustomerID, delta)
	if err != nil {
		return nil, err
	}
	util.PointsReversedTotal.Add(math.Abs(float64(delta)))

	return &pointsChange{eventType: models.EventTypePointsReversed, delta: delta, balance: balance}, nil
}

// restock returns every line's quantity to its product. A product removed
// from the catalog since the order was placed is logged and skipped.
func restock(ctx context.Context, tx store.Tx, order *models.Order, logger *zap.Logger) error {
	for _, item := range order.Items {
		err := tx.IncrementStock(ctx, item.ProductID, item.Quantity)
		if errors.Is(err, store.ErrProductNotFound) {
			util.IntegrityAnomaliesTotal.WithLabelValues("restock_product_missing").Inc()
			logger.Warn("Restock skipped, product no longer exists",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
