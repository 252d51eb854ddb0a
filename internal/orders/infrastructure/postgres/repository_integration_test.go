//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/orders/domain"
	"github.com/webshop-labs/orderflow/internal/orders/infrastructure/postgres"
)

func setupRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.EnsureSchema(context.Background(), pool))

	_, err = pool.Exec(context.Background(),
		"TRUNCATE TABLE orders, outbox_messages, inbox_messages RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return postgres.New(pool), pool
}

func TestCreateWithOutbox_CommitsBothRows(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	desc := "book"
	o, err := repo.CreateWithOutbox(ctx, 7, 150.5, &desc)
	require.NoError(t, err)

	assert.Positive(t, o.ID)
	assert.Equal(t, domain.StatusNew, o.Status)

	var payload string
	var messageID string
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT message_id, event_data FROM outbox_messages
		WHERE event_type = 'order_created' AND processed = FALSE
	`).Scan(&messageID, &payload))

	var evt event.OrderCreated
	require.NoError(t, json.Unmarshal([]byte(payload), &evt))
	assert.Equal(t, o.ID, evt.OrderID)
	assert.Equal(t, int64(7), evt.UserID)
	assert.Equal(t, 150.5, evt.Amount)
	assert.NotEmpty(t, evt.Timestamp)

	// the stored message id must be derivable from the stored payload
	assert.Equal(t, evt.MessageID(), messageID)
}

func TestListByUser_NewestFirstAndScoped(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	first, err := repo.CreateWithOutbox(ctx, 7, 10, nil)
	require.NoError(t, err)
	second, err := repo.CreateWithOutbox(ctx, 7, 20, nil)
	require.NoError(t, err)
	_, err = repo.CreateWithOutbox(ctx, 8, 30, nil)
	require.NoError(t, err)

	orders, err := repo.ListByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
}

func TestGetByID_OtherUsersOrderIsNotFound(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	o, err := repo.CreateWithOutbox(ctx, 7, 10, nil)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, o.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = repo.GetByID(ctx, o.ID, 8)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.GetByID(ctx, 9999, 7)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestApplyPaymentResult_Transitions(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		success bool
		want    domain.OrderStatus
	}{
		{"success finishes", true, domain.StatusFinished},
		{"failure cancels", false, domain.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, err := repo.CreateWithOutbox(ctx, 7, 10, nil)
			require.NoError(t, err)

			applied, err := repo.ApplyPaymentResult(ctx, "mid-"+tc.name, o.ID, tc.success, []byte(`{}`))
			require.NoError(t, err)
			require.NotNil(t, applied.Order)
			assert.Equal(t, tc.want, applied.Order.Status)
			assert.NotNil(t, applied.Order.UpdatedAt)

			got, err := repo.GetByID(ctx, o.ID, 7)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
		})
	}
}

func TestApplyPaymentResult_DuplicateMessageIgnored(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	o, err := repo.CreateWithOutbox(ctx, 7, 10, nil)
	require.NoError(t, err)

	first, err := repo.ApplyPaymentResult(ctx, "mid-1", o.ID, true, []byte(`{}`))
	require.NoError(t, err)
	require.NotNil(t, first.Order)

	// same message id again, opposite verdict: fence wins, nothing moves
	second, err := repo.ApplyPaymentResult(ctx, "mid-1", o.ID, false, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	got, err := repo.GetByID(ctx, o.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, got.Status)
}

func TestApplyPaymentResult_TerminalOrderDropsNewMessage(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	o, err := repo.CreateWithOutbox(ctx, 7, 10, nil)
	require.NoError(t, err)

	_, err = repo.ApplyPaymentResult(ctx, "mid-1", o.ID, true, []byte(`{}`))
	require.NoError(t, err)

	// a different message for the same, already finished order
	applied, err := repo.ApplyPaymentResult(ctx, "mid-2", o.ID, false, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, applied.Dropped)

	got, err := repo.GetByID(ctx, o.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, got.Status)

	// the fence row for the dropped message is kept and settled
	var processed bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT processed FROM inbox_messages WHERE message_id = 'mid-2'").Scan(&processed))
	assert.True(t, processed)
}

func TestApplyPaymentResult_MissingOrderDropsMessage(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	applied, err := repo.ApplyPaymentResult(ctx, "mid-9", 424242, true, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, applied.Dropped)

	// fence row committed so a redelivery is a clean duplicate
	var exists bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM inbox_messages WHERE message_id = 'mid-9')").Scan(&exists))
	assert.True(t, exists)

	again, err := repo.ApplyPaymentResult(ctx, "mid-9", 424242, true, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}
