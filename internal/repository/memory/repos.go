package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/repository"
)

var (
	_ repository.TxManager          = (*TxManager)(nil)
	_ repository.OrderRepository    = (*OrderRepo)(nil)
	_ repository.CouponRepository   = (*CouponRepo)(nil)
	_ repository.ResourceRepository = (*ResourceRepo)(nil)
	_ repository.CustomerRepository = (*CustomerRepo)(nil)
)

// upsertAttempts bounds insert-or-update loops racing a transaction that
// inserts the same row and then rolls back.
const upsertAttempts = 3

type OrderRepo struct {
	rows *table[domain.Order]
}

func NewOrderRepo() *OrderRepo {
	return &OrderRepo{rows: newTable((*domain.Order).Clone)}
}

func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	if !r.rows.insert(ctx, o.ID, o) {
		return fmt.Errorf("create order %s: %w", o.ID, domain.ErrConflict)
	}
	return nil
}

func (r *OrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.rows.read(ctx, id), nil
}

func (r *OrderRepo) Find(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range r.rows.snapshot(ctx) {
		if f.Match(&o) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *OrderRepo) Update(ctx context.Context, id string, fn repository.OrderMutator) (*domain.Order, error) {
	return r.rows.update(ctx, id, func(o *domain.Order) error { return fn(o) })
}

type CouponRepo struct {
	rows    *table[domain.Coupon]
	mu      sync.Mutex
	byCode  map[string]string
	usageID atomic.Uint64
}

func NewCouponRepo() *CouponRepo {
	return &CouponRepo{rows: newTable((*domain.Coupon).Clone), byCode: make(map[string]string)}
}

func (r *CouponRepo) Create(ctx context.Context, c *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[c.Code]; ok {
		return fmt.Errorf("create coupon %s: %w", c.Code, domain.ErrDuplicateCoupon)
	}
	if !r.rows.insert(ctx, c.ID, c) {
		return fmt.Errorf("create coupon %s: %w", c.ID, domain.ErrConflict)
	}
	r.byCode[c.Code] = c.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.byCode, c.Code)
		r.mu.Unlock()
	})
	return nil
}

func (r *CouponRepo) FindByID(ctx context.Context, id string, withHistory bool) (*domain.Coupon, error) {
	c := r.rows.read(ctx, id)
	if c != nil && !withHistory {
		c.UsageHistory = nil
	}
	return c, nil
}

func (r *CouponRepo) LockByID(ctx context.Context, id string) (*domain.Coupon, error) {
	c, err := r.rows.lockRead(ctx, id)
	if c != nil {
		c.UsageHistory = nil
	}
	return c, err
}

func (r *CouponRepo) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	r.mu.Lock()
	id, ok := r.byCode[code]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, id, false)
}

func (r *CouponRepo) List(ctx context.Context) ([]domain.Coupon, error) {
	out := r.rows.snapshot(ctx)
	for i := range out {
		out[i].UsageHistory = nil
	}
	slices.SortFunc(out, func(a, b domain.Coupon) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *CouponRepo) UpdateTerms(ctx context.Context, c *domain.Coupon) error {
	_, err := r.rows.update(ctx, c.ID, func(cur *domain.Coupon) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if owner, ok := r.byCode[c.Code]; ok && owner != c.ID {
			return fmt.Errorf("update coupon %s: %w", c.ID, domain.ErrDuplicateCoupon)
		}

		oldCode := cur.Code
		cur.Code = c.Code
		cur.DiscountType = c.DiscountType
		cur.Value = c.Value
		cur.ExpiryDate = c.ExpiryDate
		cur.IsActive = c.IsActive
		cur.UsageLimit = c.UsageLimit
		cur.MinimumOrderAmount = c.MinimumOrderAmount
		cur.UpdatedAt = c.UpdatedAt

		if oldCode != c.Code {
			delete(r.byCode, oldCode)
			r.byCode[c.Code] = c.ID
			onRollback(ctx, func() {
				r.mu.Lock()
				delete(r.byCode, c.Code)
				r.byCode[oldCode] = c.ID
				r.mu.Unlock()
			})
		}
		return nil
	})
	return err
}

var errNotRedeemable = errors.New("coupon not redeemable")

// IncrementUsage waits for any transaction holding the coupon, as InnoDB
// does for the conditional UPDATE, then checks the condition against the
// committed row.
func (r *CouponRepo) IncrementUsage(ctx context.Context, couponID string, usage domain.CouponUsage, now time.Time) (bool, error) {
	res, err := r.rows.update(ctx, couponID, func(c *domain.Coupon) error {
		if !c.IsActive || !c.ExpiryDate.After(now) || c.Exhausted() {
			return errNotRedeemable
		}
		usage.ID = r.usageID.Add(1)
		usage.CouponID = couponID
		c.UsedCount++
		c.UsageHistory = append(c.UsageHistory, usage)
		c.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNotRedeemable) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("increment coupon %s usage: %w", couponID, err)
	}
	return res != nil, nil
}

type ResourceRepo struct {
	rows     *table[domain.Resource]
	mu       sync.Mutex
	byNumber map[int]string
}

func NewResourceRepo() *ResourceRepo {
	return &ResourceRepo{rows: newTable((*domain.Resource).Clone), byNumber: make(map[int]string)}
}

func (r *ResourceRepo) Create(ctx context.Context, res *domain.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byNumber[res.Number]; ok {
		return fmt.Errorf("create resource %d: %w", res.Number, domain.ErrDuplicateResource)
	}
	if !r.rows.insert(ctx, res.ID, res) {
		return fmt.Errorf("create resource %s: %w", res.ID, domain.ErrConflict)
	}
	r.byNumber[res.Number] = res.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.byNumber, res.Number)
		r.mu.Unlock()
	})
	return nil
}

func (r *ResourceRepo) FindByID(ctx context.Context, id string) (*domain.Resource, error) {
	return r.rows.read(ctx, id), nil
}

func (r *ResourceRepo) FindByNumber(ctx context.Context, number int) (*domain.Resource, error) {
	r.mu.Lock()
	id, ok := r.byNumber[number]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

func (r *ResourceRepo) List(ctx context.Context) ([]domain.Resource, error) {
	out := r.rows.snapshot(ctx)
	slices.SortFunc(out, func(a, b domain.Resource) int { return a.Number - b.Number })
	return out, nil
}

func (r *ResourceRepo) Update(ctx context.Context, id string, fn repository.ResourceMutator) (*domain.Resource, error) {
	return r.rows.update(ctx, id, func(res *domain.Resource) error { return fn(res) })
}

type CustomerRepo struct {
	rows *table[domain.Customer]
}

func NewCustomerRepo() *CustomerRepo {
	return &CustomerRepo{rows: newTable((*domain.Customer).Clone)}
}

func (r *CustomerRepo) Upsert(ctx context.Context, c *domain.Customer) error {
	fresh := &domain.Customer{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Email:     c.Email,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	return r.insertOrUpdate(ctx, fresh, func(cur *domain.Customer) {
		cur.Name = c.Name
		cur.Phone = c.Phone
		cur.Email = c.Email
		cur.UpdatedAt = c.UpdatedAt
	})
}

func (r *CustomerRepo) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	return r.rows.read(ctx, id), nil
}

func (r *CustomerRepo) SetTableNumber(ctx context.Context, customerID string, number *int) error {
	now := time.Now()
	set := func(c *domain.Customer) {
		c.TableNumber = number
		c.UpdatedAt = now
	}
	if number == nil {
		_, err := r.rows.update(ctx, customerID, func(c *domain.Customer) error {
			set(c)
			return nil
		})
		return err
	}
	return r.insertOrUpdate(ctx, &domain.Customer{ID: customerID, TableNumber: number, CreatedAt: now, UpdatedAt: now}, set)
}

func (r *CustomerRepo) insertOrUpdate(ctx context.Context, fresh *domain.Customer, fn func(*domain.Customer)) error {
	for i := 0; i < upsertAttempts; i++ {
		if r.rows.insert(ctx, fresh.ID, fresh) {
			return nil
		}
		got, err := r.rows.update(ctx, fresh.ID, func(c *domain.Customer) error {
			fn(c)
			return nil
		})
		if err != nil || got != nil {
			return err
		}
	}
	return fmt.Errorf("write customer %s: %w", fresh.ID, domain.ErrConflict)
}

func (r *CustomerRepo) ClearTableNumber(ctx context.Context, number int) (int64, error) {
	now := time.Now()
	return r.rows.updateWhere(ctx,
		func(c *domain.Customer) bool { return c.TableNumber != nil && *c.TableNumber == number },
		func(c *domain.Customer) {
			c.TableNumber = nil
			c.UpdatedAt = now
		})
}
