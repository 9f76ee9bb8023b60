package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"order-engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCoupon(t *testing.T, s *Store, limit int) *domain.Coupon {
	t.Helper()
	c := &domain.Coupon{
		ID:           "c-1",
		Code:         "SAVE",
		DiscountType: domain.DiscountFixed,
		Value:        decimal.NewFromInt(5),
		ExpiryDate:   time.Now().Add(time.Hour),
		IsActive:     true,
		UsageLimit:   &limit,
	}
	require.NoError(t, s.Coupons.Create(context.Background(), c))
	return c
}

func TestTxManager_RollbackUndoesEveryWrite(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c := seedCoupon(t, s, 5)
	boom := errors.New("boom")

	err := s.Tx.Do(ctx, func(ctx context.Context) error {
		ok, err := s.Coupons.IncrementUsage(ctx, c.ID, domain.CouponUsage{UserID: "u-1"}, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.Orders.Create(ctx, &domain.Order{ID: "o-1", Status: domain.StatusConfirmed}))
		require.NoError(t, s.Customers.SetTableNumber(ctx, "u-1", new(int)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Coupons.FindByID(ctx, c.ID, true)
	assert.Zero(t, got.UsedCount)
	assert.Empty(t, got.UsageHistory)
	o, _ := s.Orders.FindByID(ctx, "o-1")
	assert.Nil(t, o)
	cust, _ := s.Customers.FindByID(ctx, "u-1")
	assert.Nil(t, cust)
}

func TestTxManager_NestedDoJoinsOuter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Tx.Do(ctx, func(ctx context.Context) error {
		inner := s.Tx.Do(ctx, func(ctx context.Context) error {
			return s.Orders.Create(ctx, &domain.Order{ID: "o-1"})
		})
		require.NoError(t, inner)
		return errors.New("outer fails")
	})
	require.Error(t, err)

	o, _ := s.Orders.FindByID(ctx, "o-1")
	assert.Nil(t, o, "inner write must roll back with the outer transaction")
}

func TestTxManager_CancelledContextAbortsCommit(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Tx.Do(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Orders.Create(ctx, &domain.Order{ID: "o-1"}))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	o, _ := s.Orders.FindByID(context.Background(), "o-1")
	assert.Nil(t, o)
}

func TestCouponRepo_IncrementUsageNeverExceedsLimit(t *testing.T) {
	s := NewStore()
	c := seedCoupon(t, s, 3)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Coupons.IncrementUsage(context.Background(), c.ID, domain.CouponUsage{UserID: "u"}, time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, won)
	got, _ := s.Coupons.FindByID(context.Background(), c.ID, true)
	assert.Equal(t, 3, got.UsedCount)
	assert.Len(t, got.UsageHistory, 3)
}

func TestCouponRepo_CodeIndex(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c := seedCoupon(t, s, 1)

	dup := *c
	dup.ID = "c-2"
	assert.ErrorIs(t, s.Coupons.Create(ctx, &dup), domain.ErrDuplicateCoupon)

	renamed := c.Clone()
	renamed.Code = "FRESH"
	require.NoError(t, s.Coupons.UpdateTerms(ctx, renamed))

	old, _ := s.Coupons.FindByCode(ctx, "SAVE")
	assert.Nil(t, old)
	got, _ := s.Coupons.FindByCode(ctx, "FRESH")
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
}

func TestTable_ReadsAreCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Orders.Create(ctx, &domain.Order{ID: "o-1", Status: domain.StatusConfirmed}))

	o, _ := s.Orders.FindByID(ctx, "o-1")
	o.Status = domain.StatusCancelled

	again, _ := s.Orders.FindByID(ctx, "o-1")
	assert.Equal(t, domain.StatusConfirmed, again.Status)

	missing, err := s.Orders.Update(ctx, "nope", func(*domain.Order) error { return nil })
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCustomerRepo_ClearTableNumber(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	five, six := 5, 6
	require.NoError(t, s.Customers.SetTableNumber(ctx, "a", &five))
	require.NoError(t, s.Customers.SetTableNumber(ctx, "b", &five))
	require.NoError(t, s.Customers.SetTableNumber(ctx, "c", &six))

	n, err := s.Customers.ClearTableNumber(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	c, _ := s.Customers.FindByID(ctx, "c")
	assert.Equal(t, 6, *c.TableNumber)
}

func TestCouponRepo_IncrementWaitsForRolledBackTransaction(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c := seedCoupon(t, s, 1)
	boom := errors.New("boom")

	held := make(chan struct{})
	abort := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- s.Tx.Do(ctx, func(ctx context.Context) error {
			ok, err := s.Coupons.IncrementUsage(ctx, c.ID, domain.CouponUsage{UserID: "u-1"}, time.Now())
			if err != nil || !ok {
				return fmt.Errorf("first increment: ok=%v err=%v", ok, err)
			}
			close(held)
			<-abort
			return boom
		})
	}()
	select {
	case <-held:
	case err := <-first:
		t.Fatal(err)
	}

	uncommitted, _ := s.Coupons.FindByID(ctx, c.ID, true)
	assert.Zero(t, uncommitted.UsedCount, "uncommitted usage must stay invisible")

	second := make(chan bool, 1)
	go func() {
		ok, err := s.Coupons.IncrementUsage(ctx, c.ID, domain.CouponUsage{UserID: "u-2"}, time.Now())
		assert.NoError(t, err)
		second <- ok
	}()
	select {
	case <-second:
		t.Fatal("second increment ran against an uncommitted one")
	case <-time.After(50 * time.Millisecond):
	}

	close(abort)
	require.ErrorIs(t, <-first, boom)
	assert.True(t, <-second)

	got, _ := s.Coupons.FindByID(ctx, c.ID, true)
	assert.Equal(t, 1, got.UsedCount)
	require.Len(t, got.UsageHistory, 1)
	assert.Equal(t, "u-2", got.UsageHistory[0].UserID)
}

func TestTable_RollbackKeepsLaterCommittedWrite(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Orders.Create(ctx, &domain.Order{ID: "o-1", Status: domain.StatusConfirmed}))

	held := make(chan struct{})
	abort := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- s.Tx.Do(ctx, func(ctx context.Context) error {
			_, err := s.Orders.Update(ctx, "o-1", func(o *domain.Order) error {
				o.EstimatedTime = 10
				return nil
			})
			if err != nil {
				return err
			}
			close(held)
			<-abort
			return errors.New("abort")
		})
	}()
	<-held

	second := make(chan error, 1)
	go func() {
		_, err := s.Orders.Update(ctx, "o-1", func(o *domain.Order) error {
			o.Status = domain.StatusPreparing
			return nil
		})
		second <- err
	}()

	close(abort)
	require.Error(t, <-first)
	require.NoError(t, <-second)

	o, _ := s.Orders.FindByID(ctx, "o-1")
	assert.Equal(t, domain.StatusPreparing, o.Status)
	assert.Zero(t, o.EstimatedTime)
}

func TestTable_LockWaitGivesUpWithContext(t *testing.T) {
	s := NewStore()
	c := seedCoupon(t, s, 5)

	held := make(chan struct{})
	abort := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Tx.Do(context.Background(), func(ctx context.Context) error {
			if _, err := s.Coupons.LockByID(ctx, c.ID); err != nil {
				return err
			}
			close(held)
			<-abort
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Coupons.IncrementUsage(ctx, c.ID, domain.CouponUsage{UserID: "u"}, time.Now())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(abort)
	require.NoError(t, <-done)
}

func TestTxManager_InsertInvisibleUntilCommit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Tx.Do(ctx, func(txCtx context.Context) error {
		require.NoError(t, s.Orders.Create(txCtx, &domain.Order{ID: "o-1"}))

		mine, _ := s.Orders.FindByID(txCtx, "o-1")
		assert.NotNil(t, mine)
		other, _ := s.Orders.FindByID(ctx, "o-1")
		assert.Nil(t, other)
		all, _ := s.Orders.Find(ctx, domain.OrderFilter{})
		assert.Empty(t, all)
		return nil
	})
	require.NoError(t, err)

	o, _ := s.Orders.FindByID(ctx, "o-1")
	assert.NotNil(t, o)
}
