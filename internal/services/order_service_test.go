package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/events"
	"order-engine/internal/mocks"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOrderService_Transition(t *testing.T) {
	tests := []struct {
		name     string
		path     []string
		target   string
		wantErr  error
		expected domain.OrderStatus
	}{
		{name: "confirmed to preparing", target: "preparing", expected: domain.StatusPreparing},
		{name: "status matched ignoring case", target: "PrEpArInG", expected: domain.StatusPreparing},
		{name: "full forward path", path: []string{"preparing", "ready"}, target: "completed", expected: domain.StatusCompleted},
		{name: "skipping a step is rejected", target: "ready", wantErr: domain.ErrInvalidTransition},
		{name: "self move is rejected", target: "confirmed", wantErr: domain.ErrInvalidTransition},
		{name: "backwards move is rejected", path: []string{"preparing"}, target: "confirmed", wantErr: domain.ErrInvalidTransition},
		{name: "cancel from ready", path: []string{"preparing", "ready"}, target: "cancelled", expected: domain.StatusCancelled},
		{name: "completed is terminal", path: []string{"preparing", "ready", "completed"}, target: "cancelled", wantErr: domain.ErrInvalidTransition},
		{name: "cancelled is terminal", path: []string{"cancelled"}, target: "preparing", wantErr: domain.ErrInvalidTransition},
		{name: "unknown status", target: "served", wantErr: domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			o := placeOrder(t, env, "100")
			for _, step := range tt.path {
				_, err := env.orders.Transition(context.Background(), o.ID, step)
				require.NoError(t, err)
			}

			before, err := env.orders.Get(context.Background(), o.ID)
			require.NoError(t, err)

			result, err := env.orders.Transition(context.Background(), o.ID, tt.target)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				after, _ := env.orders.Get(context.Background(), o.ID)
				assert.Equal(t, before.Status, after.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Status)
			assert.NoError(t, result.CheckTotals())
		})
	}
}

func TestOrderService_TransitionMissingOrder(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.orders.Transition(context.Background(), "nope", "preparing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderService_CancelCompensatesPayment(t *testing.T) {
	tests := []struct {
		name     string
		payment  string
		expected domain.PaymentStatus
	}{
		{name: "pending payment fails", payment: "pending", expected: domain.PaymentFailed},
		{name: "successful payment is kept", payment: "Success", expected: domain.PaymentSuccess},
		{name: "completed upi payment is kept", payment: "upi-completed", expected: domain.PaymentUPICompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			o := placeOrder(t, env, "250")
			_, err := env.orders.AttachPayment(context.Background(), o.ID, PaymentInput{Method: "upi", Status: tt.payment})
			require.NoError(t, err)

			result, err := env.orders.Transition(context.Background(), o.ID, "cancelled")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCancelled, result.Status)
			require.NotNil(t, result.Payment)
			assert.Equal(t, tt.expected, result.Payment.Status)
		})
	}
}

func TestOrderService_AttachPayment(t *testing.T) {
	tests := []struct {
		name    string
		input   PaymentInput
		wantErr error
	}{
		{name: "zero amount means the total", input: PaymentInput{Method: "Cash", Status: "Pending"}},
		{name: "exact amount", input: PaymentInput{Method: "UPI", Status: "Success", Amount: dec("250"), TransactionID: "txn-9"}},
		{name: "amount mismatch", input: PaymentInput{Method: "UPI", Status: "Success", Amount: dec("200")}, wantErr: domain.ErrInvalidInput},
		{name: "unknown status", input: PaymentInput{Method: "UPI", Status: "refunded"}, wantErr: domain.ErrInvalidPaymentStatus},
		{name: "unknown method", input: PaymentInput{Method: "card", Status: "Pending"}, wantErr: domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			o := placeOrder(t, env, "250")

			result, err := env.orders.AttachPayment(context.Background(), o.ID, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				stored, _ := env.orders.Get(context.Background(), o.ID)
				assert.Nil(t, stored.Payment)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, result.Payment)
			assert.True(t, result.Payment.Amount.Equal(o.Total))
			assert.Equal(t, tt.input.TransactionID, result.Payment.TransactionID)
		})
	}

	t.Run("replaces the previous payment", func(t *testing.T) {
		env := newTestEnv(t, nil)
		o := placeOrder(t, env, "250")
		_, err := env.orders.AttachPayment(context.Background(), o.ID, PaymentInput{Method: "Cash", Status: "Pending"})
		require.NoError(t, err)

		result, err := env.orders.AttachPayment(context.Background(), o.ID, PaymentInput{Method: "UPI", Status: "UPI-completed", TransactionID: "t2"})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentMethodUPI, result.Payment.Method)
		assert.Equal(t, domain.PaymentUPICompleted, result.Payment.Status)
	})

	t.Run("missing order", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.orders.AttachPayment(context.Background(), "nope", PaymentInput{Method: "Cash", Status: "Pending"})
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestOrderService_UpdatePaymentStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	o := placeOrder(t, env, "80")

	_, err := env.orders.UpdatePaymentStatus(context.Background(), o.ID, "Success")
	assert.ErrorIs(t, err, domain.ErrNoPaymentFound)

	_, err = env.orders.AttachPayment(context.Background(), o.ID, PaymentInput{Method: "UPI", Status: "Pending", TransactionID: "t1"})
	require.NoError(t, err)

	_, err = env.orders.UpdatePaymentStatus(context.Background(), o.ID, "settled")
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentStatus)

	result, err := env.orders.UpdatePaymentStatus(context.Background(), o.ID, "success")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, result.Payment.Status)
	assert.Equal(t, "t1", result.Payment.TransactionID)
	assert.True(t, result.Payment.Amount.Equal(dec("80")))

	_, err = env.orders.UpdatePaymentStatus(context.Background(), "nope", "Success")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderService_SetEstimatedTime(t *testing.T) {
	env := newTestEnv(t, nil)
	o := placeOrder(t, env, "80")

	_, err := env.orders.SetEstimatedTime(context.Background(), o.ID, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	result, err := env.orders.SetEstimatedTime(context.Background(), o.ID, 35)
	require.NoError(t, err)
	assert.Equal(t, 35, result.EstimatedTime)

	_, err = env.orders.SetEstimatedTime(context.Background(), "nope", 10)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderService_CancelStale(t *testing.T) {
	env := newTestEnv(t, nil)
	stale := placeOrder(t, env, "100")
	paid := placeOrder(t, env, "120")
	moving := placeOrder(t, env, "140")

	_, err := env.orders.AttachPayment(context.Background(), paid.ID, PaymentInput{Method: "Cash", Status: "Success"})
	require.NoError(t, err)
	_, err = env.orders.Transition(context.Background(), moving.ID, "preparing")
	require.NoError(t, err)

	env.orders.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := env.orders.CancelStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := env.orders.Get(context.Background(), stale.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	got, _ = env.orders.Get(context.Background(), paid.ID)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	got, _ = env.orders.Get(context.Background(), moving.ID)
	assert.Equal(t, domain.StatusPreparing, got.Status)
}

func TestOrderService_RepositoryErrors(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*mocks.MockOrderRepository)
		call       func(*OrderService) error
		wantErr    error
	}{
		{
			name: "not found",
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("FindByID", mock.Anything, "o-1").Return(nil, nil)
			},
			call: func(s *OrderService) error {
				_, err := s.Get(context.Background(), "o-1")
				return err
			},
			wantErr: domain.ErrOrderNotFound,
		},
		{
			name: "deadline becomes storage timeout",
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("Update", mock.Anything, "o-1", mock.Anything).Return(nil, context.DeadlineExceeded)
			},
			call: func(s *OrderService) error {
				_, err := s.Transition(context.Background(), "o-1", "preparing")
				return err
			},
			wantErr: domain.ErrStorageTimeout,
		},
		{
			name: "storage conflict passes through",
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("Update", mock.Anything, "o-1", mock.Anything).Return(nil, domain.ErrConflict)
			},
			call: func(s *OrderService) error {
				_, err := s.SetEstimatedTime(context.Background(), "o-1", 10)
				return err
			},
			wantErr: domain.ErrConflict,
		},
		{
			name: "list error",
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("Find", mock.Anything, mock.Anything).Return(nil, errors.New("database connection error"))
			},
			call: func(s *OrderService) error {
				_, err := s.List(context.Background(), domain.OrderFilter{})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.MockOrderRepository)
			tt.setupMocks(repo)
			s := NewOrderService(repo, nil, zerolog.Nop(), time.Second)

			err := tt.call(s)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestOrderService_PublishesStatusChange(t *testing.T) {
	pub := new(mocks.MockPublisher)
	published := make(chan domain.OrderStatusChangedEvent, 1)
	pub.On("Publish", mock.Anything, domain.EventOrderStatusChanged, mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			published <- args.Get(2).(domain.OrderStatusChangedEvent)
		})

	env := newTestEnv(t, nil)
	s := NewOrderService(env.store.Orders, events.NewDispatcher(pub, time.Second, zerolog.Nop()), zerolog.Nop(), time.Second)
	o := placeOrder(t, env, "60")

	_, err := s.Transition(context.Background(), o.ID, "preparing")
	require.NoError(t, err)

	select {
	case evt := <-published:
		assert.Equal(t, o.ID, evt.OrderID)
		assert.Equal(t, domain.StatusConfirmed, evt.From)
		assert.Equal(t, domain.StatusPreparing, evt.To)
	case <-time.After(time.Second):
		t.Fatal("status change was not published")
	}
	pub.AssertExpectations(t)
}

func TestOrderService_TotalsHoldAfterEveryMutation(t *testing.T) {
	env := newTestEnv(t, nil)
	o := placeOrder(t, env, "99.99")
	ctx := context.Background()

	steps := []func() (*domain.Order, error){
		func() (*domain.Order, error) { return env.orders.SetEstimatedTime(ctx, o.ID, 15) },
		func() (*domain.Order, error) {
			return env.orders.AttachPayment(ctx, o.ID, PaymentInput{Method: "UPI", Status: "Pending", Amount: decimal.Zero})
		},
		func() (*domain.Order, error) { return env.orders.Transition(ctx, o.ID, "preparing") },
		func() (*domain.Order, error) { return env.orders.UpdatePaymentStatus(ctx, o.ID, "Success") },
		func() (*domain.Order, error) { return env.orders.Transition(ctx, o.ID, "ready") },
		func() (*domain.Order, error) { return env.orders.Transition(ctx, o.ID, "completed") },
	}
	for i, step := range steps {
		got, err := step()
		require.NoError(t, err, "step %d", i)
		assert.NoError(t, got.CheckTotals(), "step %d", i)
	}
}
