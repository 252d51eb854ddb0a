package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// Account is a user's wallet. One per user; the store enforces both the
// uniqueness and the balance >= 0 check constraint.
type Account struct {
	ID        int64
	UserID    int64
	Balance   float64
	Version   int64
	CreatedAt time.Time
	UpdatedAt *time.Time
}

type TransactionStatus string

const (
	TxSuccess TransactionStatus = "SUCCESS"
	TxFailed  TransactionStatus = "FAILED"
)

// ProcessedTransaction is the permanent audit row for one settled payment.
type ProcessedTransaction struct {
	ID            int64
	TransactionID string
	OrderID       int64
	UserID        int64
	Amount        float64
	Status        TransactionStatus
	ProcessedAt   time.Time
}

// SettleResult reports what the settle transaction did. Duplicate means the
// inbox fence caught a redelivery and nothing changed; otherwise the fields
// mirror the payment_result reply that was enqueued to the outbox.
type SettleResult struct {
	Duplicate bool

	TransactionID    string
	Success          bool
	Message          string
	RemainingBalance *float64
}

// AccountRepository handles transactions, the row locks and the inbox/outbox
// writes for the payments side.
type AccountRepository interface {
	// CreateAccount opens a zero-balance account for the user.
	// Returns ErrAccountExists when the user already has one.
	CreateAccount(ctx context.Context, userID int64) (Account, error)

	// TopUp locks the account row and adds amount to the balance.
	TopUp(ctx context.Context, userID int64, amount float64) (Account, error)

	GetByUserID(ctx context.Context, userID int64) (Account, error)

	// Settle runs the inbox fence and the payment state machine in one
	// transaction and enqueues the payment_result reply to the outbox.
	// payload is the raw broker message, kept for audit.
	Settle(ctx context.Context, messageID string, orderID, userID int64, amount float64, payload []byte) (SettleResult, error)

	Ping(ctx context.Context) error
}
