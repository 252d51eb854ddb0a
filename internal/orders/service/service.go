package service

import (
	"context"

	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/orders/domain"
)

// Notifier pushes order updates to the user's live sockets. Implemented by
// realtime.Notifier; nil disables push entirely.
type Notifier interface {
	NotifyStatus(ctx context.Context, orderID, userID int64, status string, amount *float64)
}

type OrderService struct {
	repo     domain.OrderRepository
	notifier Notifier
}

func New(repo domain.OrderRepository, notifier Notifier) *OrderService {
	return &OrderService{repo: repo, notifier: notifier}
}

// CreateOrder commits the order together with its outbox row, then pushes
// the NEW status to the user. The push is best-effort; the outbox row is the
// durable part.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, amount float64, description *string) (domain.Order, error) {
	order, err := s.repo.CreateWithOutbox(ctx, userID, amount, description)
	if err != nil {
		return domain.Order{}, err
	}

	logger.WithCtx(ctx).Info().
		Int64("order_id", order.ID).
		Int64("user_id", order.UserID).
		Float64("amount", order.Amount).
		Msg("order created")

	s.notify(ctx, order)
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID, userID int64) (domain.Order, error) {
	return s.repo.GetByID(ctx, orderID, userID)
}

// ApplyPaymentResult finishes or cancels the order and notifies the user
// when a transition actually happened.
func (s *OrderService) ApplyPaymentResult(ctx context.Context, messageID string, orderID int64, success bool, payload []byte) (domain.PaymentApplied, error) {
	applied, err := s.repo.ApplyPaymentResult(ctx, messageID, orderID, success, payload)
	if err != nil {
		return applied, err
	}

	log := logger.WithCtx(ctx).With().Str("message_id", messageID).Int64("order_id", orderID).Logger()
	switch {
	case applied.Duplicate:
		log.Info().Msg("duplicate payment result ignored")
	case applied.Dropped:
		log.Warn().Msg("payment result dropped: order missing or already terminal")
	case applied.Order != nil:
		log.Info().Str("status", string(applied.Order.Status)).Msg("order status updated")
		s.notify(ctx, *applied.Order)
	}
	return applied, nil
}

func (s *OrderService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *OrderService) notify(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	amount := order.Amount
	s.notifier.NotifyStatus(ctx, order.ID, order.UserID, string(order.Status), &amount)
}
