package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResourceRegistry_Create(t *testing.T) {
	tests := []struct {
		name       string
		number     int
		setupMocks func(*mocks.MockCodeGenerator)
		wantCode   bool
		wantErr    error
	}{
		{
			name:   "with generated code",
			number: 4,
			setupMocks: func(gen *mocks.MockCodeGenerator) {
				gen.On("Generate", mock.Anything, TestFrontend+"/?table=4").Return([]byte("png"), nil)
			},
			wantCode: true,
		},
		{
			name:   "generator down still creates",
			number: 5,
			setupMocks: func(gen *mocks.MockCodeGenerator) {
				gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
			},
		},
		{
			name:       "non-positive number",
			number:     0,
			setupMocks: func(gen *mocks.MockCodeGenerator) {},
			wantErr:    domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(mocks.MockCodeGenerator)
			tt.setupMocks(gen)
			env := newTestEnv(t, gen)

			res, err := env.resources.Create(context.Background(), tt.number)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.ResourceAvailable, res.Status)
			if tt.wantCode {
				assert.Equal(t, []byte("png"), res.Code)
				assert.Equal(t, TestFrontend+"/?table=4", res.AccessURL)
			} else {
				assert.Empty(t, res.Code)
			}
			gen.AssertExpectations(t)
		})
	}

	t.Run("duplicate number", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.resources.Create(context.Background(), 7)
		require.NoError(t, err)
		_, err = env.resources.Create(context.Background(), 7)
		assert.ErrorIs(t, err, domain.ErrDuplicateResource)
	})
}

func TestResourceRegistry_AssignUnknownNumberIsSkipped(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.resources.Assign(context.Background(), 42, "u-1")
	assert.NoError(t, err)
	assert.Nil(t, res)

	c, err := env.store.Customers.FindByID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResourceRegistry_AssignAndReassign(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	table, err := env.resources.Create(ctx, 3)
	require.NoError(t, err)

	res, err := env.resources.Assign(ctx, 3, "u-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceOccupied, res.Status)
	assert.Equal(t, "u-1", *res.AssignedUser)

	first, _ := env.store.Customers.FindByID(ctx, "u-1")
	require.NotNil(t, first)
	assert.Equal(t, 3, *first.TableNumber)

	res, err = env.resources.Assign(ctx, 3, "u-2")
	require.NoError(t, err)
	assert.Equal(t, "u-2", *res.AssignedUser)

	first, _ = env.store.Customers.FindByID(ctx, "u-1")
	assert.Nil(t, first.TableNumber)
	second, _ := env.store.Customers.FindByID(ctx, "u-2")
	assert.Equal(t, 3, *second.TableNumber)

	got, err := env.resources.Get(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-2", *got.AssignedUser)
}

func TestResourceRegistry_LinkOrder(t *testing.T) {
	tests := []struct {
		name         string
		assignTo     string
		customerID   string
		wantStatus   domain.ResourceStatus
		wantAssigned string
		wantOrder    bool
	}{
		{name: "free table is seated for the customer", customerID: "u-1", wantStatus: domain.ResourceOccupied, wantAssigned: "u-1", wantOrder: true},
		{name: "occupied table keeps its occupant", assignTo: "u-1", customerID: "u-2", wantStatus: domain.ResourceOccupied, wantAssigned: "u-1", wantOrder: true},
		{name: "free table without customer is left alone", wantStatus: domain.ResourceAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()
			table, err := env.resources.Create(ctx, 7)
			require.NoError(t, err)
			if tt.assignTo != "" {
				_, err = env.resources.Assign(ctx, 7, tt.assignTo)
				require.NoError(t, err)
			}

			require.NoError(t, env.resources.LinkOrder(ctx, 7, "o-1", tt.customerID))

			got, err := env.resources.Get(ctx, table.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			if tt.wantAssigned == "" {
				assert.Nil(t, got.AssignedUser)
			} else {
				require.NotNil(t, got.AssignedUser)
				assert.Equal(t, tt.wantAssigned, *got.AssignedUser)
				seated, _ := env.store.Customers.FindByID(ctx, tt.wantAssigned)
				require.NotNil(t, seated)
				assert.Equal(t, 7, *seated.TableNumber)
			}
			if !tt.wantOrder {
				assert.Nil(t, got.CurrentOrder)
				assert.Empty(t, got.OrderHistory)
				return
			}
			require.NotNil(t, got.CurrentOrder)
			assert.Equal(t, "o-1", *got.CurrentOrder)
		})
	}

	t.Run("unknown number is ignored", func(t *testing.T) {
		env := newTestEnv(t, nil)
		assert.NoError(t, env.resources.LinkOrder(context.Background(), 99, "o-1", "u-1"))
	})
}

func TestResourceRegistry_ReleaseClearsCustomers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	table, err := env.resources.Create(ctx, 5)
	require.NoError(t, err)
	_, err = env.resources.Create(ctx, 6)
	require.NoError(t, err)

	_, err = env.resources.Assign(ctx, 5, "u-1")
	require.NoError(t, err)
	require.NoError(t, env.store.Customers.SetTableNumber(ctx, "u-2", intPtr(5)))
	require.NoError(t, env.store.Customers.SetTableNumber(ctx, "u-3", intPtr(6)))
	require.NoError(t, env.resources.LinkOrder(ctx, 5, "o-1", "u-1"))

	res, err := env.resources.Release(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceAvailable, res.Status)
	assert.Nil(t, res.AssignedUser)
	assert.Nil(t, res.CurrentOrder)
	assert.Equal(t, []string{"o-1"}, res.OrderHistory)

	for _, id := range []string{"u-1", "u-2"} {
		c, _ := env.store.Customers.FindByID(ctx, id)
		assert.Nil(t, c.TableNumber, id)
	}
	other, _ := env.store.Customers.FindByID(ctx, "u-3")
	assert.Equal(t, 6, *other.TableNumber)

	_, err = env.resources.Release(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestResourceRegistry_ReleaseFanOutFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	table, err := env.resources.Create(ctx, 9)
	require.NoError(t, err)

	customers := new(mocks.MockCustomerRepository)
	customers.On("ClearTableNumber", mock.Anything, 9).Return(int64(0), errors.New("lock wait timeout"))
	registry := NewResourceRegistry(env.store.Resources, customers, env.store.Tx, nil, nil, zerolog.Nop(), ResourceRegistryConfig{
		FrontendURL:      TestFrontend,
		OperationTimeout: time.Second,
		ExternalTimeout:  time.Second,
	})

	res, err := registry.Release(ctx, table.ID)
	require.Error(t, err)
	var fanOut *domain.FanOutError
	require.ErrorAs(t, err, &fanOut)
	assert.Equal(t, 9, fanOut.ResourceNumber)
	assert.ErrorIs(t, err, domain.ErrExternalFailure)

	require.NotNil(t, res)
	assert.Equal(t, domain.ResourceAvailable, res.Status)
	stored, _ := env.resources.Get(ctx, table.ID)
	assert.Equal(t, domain.ResourceAvailable, stored.Status)
	customers.AssertExpectations(t)
}

func TestResourceRegistry_RegenerateCode(t *testing.T) {
	t.Run("failure leaves record unchanged", func(t *testing.T) {
		gen := new(mocks.MockCodeGenerator)
		gen.On("Generate", mock.Anything, TestFrontend+"/?table=2").Return([]byte("v1"), nil).Once()
		gen.On("Generate", mock.Anything, TestFrontend+"/?table=2").Return(nil, errors.New("503")).Once()
		env := newTestEnv(t, gen)

		table, err := env.resources.Create(context.Background(), 2)
		require.NoError(t, err)

		res, err := env.resources.RegenerateCode(context.Background(), table.ID)
		assert.ErrorIs(t, err, domain.ErrCodeGenerationFailed)
		assert.ErrorIs(t, err, domain.ErrExternalFailure)
		assert.Nil(t, res)

		stored, _ := env.resources.Get(context.Background(), table.ID)
		assert.Equal(t, []byte("v1"), stored.Code)
		assert.Equal(t, table.UpdatedAt, stored.UpdatedAt)
		gen.AssertExpectations(t)
	})

	t.Run("success replaces url and code together", func(t *testing.T) {
		gen := new(mocks.MockCodeGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()
		gen.On("Generate", mock.Anything, TestFrontend+"/?table=8").Return([]byte("v2"), nil).Once()
		env := newTestEnv(t, gen)

		table, err := env.resources.Create(context.Background(), 8)
		require.NoError(t, err)
		assert.Empty(t, table.AccessURL)

		res, err := env.resources.RegenerateCode(context.Background(), table.ID)
		require.NoError(t, err)
		assert.Equal(t, TestFrontend+"/?table=8", res.AccessURL)
		assert.Equal(t, []byte("v2"), res.Code)
	})

	t.Run("missing resource", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.resources.RegenerateCode(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	})
}
