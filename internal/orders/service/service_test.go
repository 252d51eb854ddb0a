package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/webshop-labs/orderflow/internal/orders/domain"
	"github.com/webshop-labs/orderflow/internal/orders/service"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) CreateWithOutbox(ctx context.Context, userID int64, amount float64, description *string) (domain.Order, error) {
	args := m.Called(ctx, userID, amount, description)
	return args.Get(0).(domain.Order), args.Error(1)
}
func (m *MockRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	args := m.Called(ctx, userID)
	if v := args.Get(0); v != nil {
		return v.([]domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepo) GetByID(ctx context.Context, orderID, userID int64) (domain.Order, error) {
	args := m.Called(ctx, orderID, userID)
	return args.Get(0).(domain.Order), args.Error(1)
}
func (m *MockRepo) ApplyPaymentResult(ctx context.Context, messageID string, orderID int64, success bool, payload []byte) (domain.PaymentApplied, error) {
	args := m.Called(ctx, messageID, orderID, success, payload)
	return args.Get(0).(domain.PaymentApplied), args.Error(1)
}
func (m *MockRepo) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) NotifyStatus(ctx context.Context, orderID, userID int64, status string, amount *float64) {
	m.Called(ctx, orderID, userID, status, amount)
}

func amountOf(want float64) any {
	return mock.MatchedBy(func(a *float64) bool { return a != nil && *a == want })
}

func TestCreateOrder_PushesNewStatus(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepo)
	notifier := new(MockNotifier)

	created := domain.Order{ID: 11, UserID: 7, Amount: 150, Status: domain.StatusNew}
	repo.On("CreateWithOutbox", ctx, int64(7), 150.0, (*string)(nil)).Return(created, nil).Once()
	notifier.On("NotifyStatus", ctx, int64(11), int64(7), "NEW", amountOf(150)).Once()

	got, err := service.New(repo, notifier).CreateOrder(ctx, 7, 150, nil)

	require.NoError(t, err)
	assert.Equal(t, created, got)
	repo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestCreateOrder_RepoFailureSkipsPush(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepo)
	notifier := new(MockNotifier)

	repo.On("CreateWithOutbox", ctx, int64(7), 150.0, (*string)(nil)).
		Return(domain.Order{}, errors.New("db down")).Once()

	_, err := service.New(repo, notifier).CreateOrder(ctx, 7, 150, nil)

	require.Error(t, err)
	notifier.AssertNotCalled(t, "NotifyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrder_NilNotifierIsFine(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepo)
	repo.On("CreateWithOutbox", ctx, int64(7), 150.0, (*string)(nil)).
		Return(domain.Order{ID: 1, UserID: 7, Amount: 150, Status: domain.StatusNew}, nil).Once()

	_, err := service.New(repo, nil).CreateOrder(ctx, 7, 150, nil)
	require.NoError(t, err)
}

func TestApplyPaymentResult_PushesTransition(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepo)
	notifier := new(MockNotifier)

	finished := domain.Order{ID: 11, UserID: 7, Amount: 150, Status: domain.StatusFinished}
	repo.On("ApplyPaymentResult", ctx, "mid-1", int64(11), true, []byte(`{}`)).
		Return(domain.PaymentApplied{Order: &finished}, nil).Once()
	notifier.On("NotifyStatus", ctx, int64(11), int64(7), "FINISHED", amountOf(150)).Once()

	applied, err := service.New(repo, notifier).ApplyPaymentResult(ctx, "mid-1", 11, true, []byte(`{}`))

	require.NoError(t, err)
	require.NotNil(t, applied.Order)
	notifier.AssertExpectations(t)
}

func TestApplyPaymentResult_DuplicateIsSilent(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepo)
	notifier := new(MockNotifier)

	repo.On("ApplyPaymentResult", ctx, "mid-1", int64(11), true, []byte(`{}`)).
		Return(domain.PaymentApplied{Duplicate: true}, nil).Once()

	applied, err := service.New(repo, notifier).ApplyPaymentResult(ctx, "mid-1", 11, true, []byte(`{}`))

	require.NoError(t, err)
	assert.True(t, applied.Duplicate)
	notifier.AssertNotCalled(t, "NotifyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyPaymentResult_DroppedIsSilent(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepo)
	notifier := new(MockNotifier)

	repo.On("ApplyPaymentResult", ctx, "mid-9", int64(404), false, []byte(`{}`)).
		Return(domain.PaymentApplied{Dropped: true}, nil).Once()

	applied, err := service.New(repo, notifier).ApplyPaymentResult(ctx, "mid-9", 404, false, []byte(`{}`))

	require.NoError(t, err)
	assert.True(t, applied.Dropped)
	notifier.AssertNotCalled(t, "NotifyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrder_NotFoundPassesThrough(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepo)

	repo.On("GetByID", ctx, int64(99), int64(7)).
		Return(domain.Order{}, domain.ErrOrderNotFound).Once()

	_, err := service.New(repo, nil).GetOrder(ctx, 99, 7)

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
