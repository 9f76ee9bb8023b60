package repository

import (
	"context"
	"time"

	"order-engine/internal/domain"
)

// TxManager runs fn in a storage transaction. Repositories called with the
// context passed to fn join that transaction; a nested Do joins the outer
// one instead of opening its own.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderMutator changes an order in place inside Update. Returning an error
// aborts the update.
type OrderMutator func(o *domain.Order) error

// Lookups and updates return (nil, nil) when the row does not exist.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	Find(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	// Update locks the order row, applies fn and writes the result back.
	Update(ctx context.Context, id string, fn OrderMutator) (*domain.Order, error)
}

type CouponRepository interface {
	Create(ctx context.Context, coupon *domain.Coupon) error
	FindByID(ctx context.Context, id string, withHistory bool) (*domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)
	// LockByID reads the latest committed row and locks it for the rest of
	// the transaction, so it sees writes a plain snapshot read would miss.
	LockByID(ctx context.Context, id string) (*domain.Coupon, error)
	List(ctx context.Context) ([]domain.Coupon, error)
	// UpdateTerms writes the administrative fields only; usage counters are
	// never touched.
	UpdateTerms(ctx context.Context, coupon *domain.Coupon) error
	// IncrementUsage bumps used_count and appends usage in one atomic step,
	// only while the coupon is active, unexpired at now and below its
	// usage limit. It reports false when that condition did not hold.
	IncrementUsage(ctx context.Context, couponID string, usage domain.CouponUsage, now time.Time) (bool, error)
}

type ResourceMutator func(r *domain.Resource) error

type ResourceRepository interface {
	Create(ctx context.Context, resource *domain.Resource) error
	FindByID(ctx context.Context, id string) (*domain.Resource, error)
	FindByNumber(ctx context.Context, number int) (*domain.Resource, error)
	List(ctx context.Context) ([]domain.Resource, error)
	Update(ctx context.Context, id string, fn ResourceMutator) (*domain.Resource, error)
}

type CustomerRepository interface {
	Upsert(ctx context.Context, customer *domain.Customer) error
	FindByID(ctx context.Context, id string) (*domain.Customer, error)
	SetTableNumber(ctx context.Context, customerID string, number *int) error
	// ClearTableNumber clears the cached number on every customer holding it
	// and returns how many records changed.
	ClearTableNumber(ctx context.Context, number int) (int64, error)
}
