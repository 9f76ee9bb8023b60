package services

import (
	"context"
	"fmt"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/events"
	"order-engine/internal/infra"
	"order-engine/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// CouponLedger owns coupon terms and the redemption counter. Redemption is
// one conditional increment in storage; the cache only serves validation.
type CouponLedger struct {
	repo    repository.CouponRepository
	tx      repository.TxManager
	cache   infra.CouponCacheInterface
	loads   singleflight.Group
	events  *events.Dispatcher
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewCouponLedger(repo repository.CouponRepository, tx repository.TxManager, ev *events.Dispatcher, log zerolog.Logger, timeout time.Duration) *CouponLedger {
	return &CouponLedger{
		repo:    repo,
		tx:      tx,
		events:  ev,
		log:     log.With().Str("component", "coupons").Logger(),
		timeout: timeout,
		now:     time.Now,
	}
}

// SetCache enables cache-aside reads for Validate.
func (l *CouponLedger) SetCache(c infra.CouponCacheInterface) {
	l.cache = c
}

// Redemption is a committed usage together with the coupon terms it was
// redeemed under.
type Redemption struct {
	Coupon *domain.Coupon
	Usage  domain.CouponUsage
}

type CouponInput struct {
	Code               string
	DiscountType       string
	Value              decimal.Decimal
	ExpiryDate         time.Time
	IsActive           *bool
	UsageLimit         *int
	MinimumOrderAmount *decimal.Decimal
}

// Validate returns the coupon when it may be applied to amount at now.
func (l *CouponLedger) Validate(ctx context.Context, code string, amount decimal.Decimal, now time.Time) (*domain.Coupon, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()

	code = domain.NormalizeCouponCode(code)
	c, err := l.lookup(ctx, code)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if c == nil {
		return nil, domain.NewCouponInvalid(code, domain.ReasonNotFound)
	}
	if err := c.Check(amount, now); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *CouponLedger) lookup(ctx context.Context, code string) (*domain.Coupon, error) {
	if l.cache == nil {
		return l.repo.FindByCode(ctx, code)
	}
	if c, err := l.cache.Get(ctx, code); err != nil {
		l.log.Warn().Err(err).Str("code", code).Msg("coupon cache read failed")
	} else if c != nil {
		return c, nil
	}

	v, err, _ := l.loads.Do(code, func() (any, error) {
		// shared by every waiter, so one caller going away must not fail the rest
		ctx, cancel := bound(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		c, err := l.repo.FindByCode(ctx, code)
		if err != nil || c == nil {
			return c, err
		}
		if err := l.cache.Set(ctx, c); err != nil {
			l.log.Warn().Err(err).Str("code", code).Msg("coupon cache write failed")
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	c, _ := v.(*domain.Coupon)
	return c.Clone(), nil
}

// Redeem records one usage of code by userID for orderID. It joins the
// transaction carried by ctx; on its own it commits immediately. The
// caller must call Announce once the surrounding transaction commits.
func (l *CouponLedger) Redeem(ctx context.Context, code, userID, orderID string) (*Redemption, error) {
	code = domain.NormalizeCouponCode(code)
	var red *Redemption
	err := l.tx.Do(ctx, func(ctx context.Context) error {
		c, err := l.repo.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		if c == nil {
			return domain.NewCouponInvalid(code, domain.ReasonNotFound)
		}

		now := l.now()
		usage := domain.CouponUsage{UserID: userID, OrderID: orderID, RedeemedAt: now}
		ok, err := l.repo.IncrementUsage(ctx, c.ID, usage, now)
		if err != nil {
			return err
		}
		if !ok {
			return l.classify(ctx, c.ID, code, now)
		}

		c.UsedCount++
		usage.CouponID = c.ID
		red = &Redemption{Coupon: c, Usage: usage}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return red, nil
}

// classify explains why the conditional increment matched no row. The read
// locks the row so it sees the redemption that beat us, not the snapshot
// taken when the transaction started.
func (l *CouponLedger) classify(ctx context.Context, id, code string, now time.Time) error {
	c, err := l.repo.LockByID(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case c == nil:
		return domain.NewCouponInvalid(code, domain.ReasonNotFound)
	case !c.IsActive:
		return domain.NewCouponInvalid(code, domain.ReasonInactive)
	case !c.ExpiryDate.After(now):
		return domain.NewCouponInvalid(code, domain.ReasonExpired)
	case c.Exhausted():
		return fmt.Errorf("coupon %s used %d of %d: %w", code, c.UsedCount, *c.UsageLimit, domain.ErrCouponExhausted)
	}
	// the row changed between the update and this read
	return fmt.Errorf("redeem coupon %s: %w", code, domain.ErrConflict)
}

// Announce runs the post-commit side effects of a redemption.
func (l *CouponLedger) Announce(red *Redemption) {
	if red == nil {
		return
	}
	l.invalidate(red.Coupon.Code)
	l.log.Info().Str("code", red.Coupon.Code).Str("user_id", red.Usage.UserID).
		Str("order_id", red.Usage.OrderID).Int("used_count", red.Coupon.UsedCount).Msg("coupon redeemed")
	l.events.Emit(domain.EventCouponRedeemed, domain.CouponRedeemedEvent{
		CouponID:   red.Coupon.ID,
		Code:       red.Coupon.Code,
		UserID:     red.Usage.UserID,
		OrderID:    red.Usage.OrderID,
		RedeemedAt: red.Usage.RedeemedAt,
	})
}

func (l *CouponLedger) invalidate(codes ...string) {
	if l.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	for _, code := range codes {
		if err := l.cache.Invalidate(ctx, code); err != nil {
			l.log.Warn().Err(err).Str("code", code).Msg("coupon cache invalidation failed")
		}
	}
}

func (l *CouponLedger) Create(ctx context.Context, in CouponInput) (*domain.Coupon, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()

	now := l.now()
	c := &domain.Coupon{
		ID:         uuid.NewString(),
		Code:       domain.NormalizeCouponCode(in.Code),
		Value:      in.Value,
		ExpiryDate: in.ExpiryDate,
		IsActive:   true,
		UsageLimit: in.UsageLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	dt, err := domain.ParseDiscountType(in.DiscountType)
	if err != nil {
		return nil, err
	}
	c.DiscountType = dt
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.MinimumOrderAmount != nil {
		c.MinimumOrderAmount = decimal.NewNullDecimal(*in.MinimumOrderAmount)
	}
	if err := c.ValidateTerms(now); err != nil {
		return nil, err
	}

	if err := l.repo.Create(ctx, c); err != nil {
		return nil, mapTimeout(err)
	}
	l.log.Info().Str("coupon_id", c.ID).Str("code", c.Code).Msg("coupon created")
	return c, nil
}

// Update changes the terms of a coupon. Empty fields keep their current
// value; the usage counter and history are never touched.
func (l *CouponLedger) Update(ctx context.Context, id string, in CouponInput) (*domain.Coupon, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()

	c, err := l.repo.FindByID(ctx, id, false)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if c == nil {
		return nil, domain.ErrCouponNotFound
	}

	oldCode := c.Code
	if in.Code != "" {
		c.Code = domain.NormalizeCouponCode(in.Code)
	}
	if in.DiscountType != "" {
		dt, err := domain.ParseDiscountType(in.DiscountType)
		if err != nil {
			return nil, err
		}
		c.DiscountType = dt
	}
	if !in.Value.IsZero() {
		c.Value = in.Value
	}
	if !in.ExpiryDate.IsZero() {
		c.ExpiryDate = in.ExpiryDate
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.UsageLimit != nil {
		c.UsageLimit = in.UsageLimit
	}
	if in.MinimumOrderAmount != nil {
		c.MinimumOrderAmount = decimal.NewNullDecimal(*in.MinimumOrderAmount)
	}

	now := l.now()
	if err := c.ValidateTerms(now); err != nil {
		return nil, err
	}
	c.UpdatedAt = now
	if err := l.repo.UpdateTerms(ctx, c); err != nil {
		return nil, mapTimeout(err)
	}
	l.invalidate(oldCode, c.Code)
	return c, nil
}

func (l *CouponLedger) Deactivate(ctx context.Context, id string) (*domain.Coupon, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()

	c, err := l.repo.FindByID(ctx, id, false)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if c == nil {
		return nil, domain.ErrCouponNotFound
	}
	c.IsActive = false
	c.UpdatedAt = l.now()
	if err := l.repo.UpdateTerms(ctx, c); err != nil {
		return nil, mapTimeout(err)
	}
	l.invalidate(c.Code)
	l.log.Info().Str("coupon_id", id).Str("code", c.Code).Msg("coupon deactivated")
	return c, nil
}

// Get returns the coupon with its full usage history.
func (l *CouponLedger) Get(ctx context.Context, id string) (*domain.Coupon, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()

	c, err := l.repo.FindByID(ctx, id, true)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if c == nil {
		return nil, domain.ErrCouponNotFound
	}
	return c, nil
}

func (l *CouponLedger) List(ctx context.Context) ([]domain.Coupon, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()

	out, err := l.repo.List(ctx)
	return out, mapTimeout(err)
}
