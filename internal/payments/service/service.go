package service

import (
	"context"

	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/payments/domain"
)

type PaymentService struct {
	repo domain.AccountRepository
}

func New(repo domain.AccountRepository) *PaymentService {
	return &PaymentService{repo: repo}
}

// CreateAccount opens an account with a zero balance. Each user gets at most
// one; a second attempt returns domain.ErrAccountExists.
func (s *PaymentService) CreateAccount(ctx context.Context, userID int64) (domain.Account, error) {
	acct, err := s.repo.CreateAccount(ctx, userID)
	if err != nil {
		return domain.Account{}, err
	}

	logger.WithCtx(ctx).Info().
		Int64("account_id", acct.ID).
		Int64("user_id", acct.UserID).
		Msg("account created")
	return acct, nil
}

func (s *PaymentService) TopUp(ctx context.Context, userID int64, amount float64) (domain.Account, error) {
	acct, err := s.repo.TopUp(ctx, userID, amount)
	if err != nil {
		return domain.Account{}, err
	}

	logger.WithCtx(ctx).Info().
		Int64("user_id", userID).
		Float64("amount", amount).
		Float64("balance", acct.Balance).
		Msg("account topped up")
	return acct, nil
}

func (s *PaymentService) GetAccount(ctx context.Context, userID int64) (domain.Account, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// Settle runs the payment state machine for one order created event and
// reports the outcome. Redeliveries come back with Duplicate set and no
// mutation.
func (s *PaymentService) Settle(ctx context.Context, messageID string, orderID, userID int64, amount float64, payload []byte) (domain.SettleResult, error) {
	res, err := s.repo.Settle(ctx, messageID, orderID, userID, amount, payload)
	if err != nil {
		return res, err
	}

	log := logger.WithCtx(ctx).With().
		Str("message_id", messageID).
		Int64("order_id", orderID).
		Int64("user_id", userID).
		Logger()
	switch {
	case res.Duplicate:
		log.Info().Msg("duplicate order created ignored")
	case res.Success:
		log.Info().
			Str("transaction_id", res.TransactionID).
			Float64("amount", amount).
			Msg("payment succeeded")
	default:
		log.Info().
			Str("transaction_id", res.TransactionID).
			Str("reason", res.Message).
			Msg("payment declined")
	}
	return res, nil
}

func (s *PaymentService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
