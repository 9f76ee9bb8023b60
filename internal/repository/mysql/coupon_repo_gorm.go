package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type couponRepo struct {
	db *gorm.DB
	tx *TxManager
}

func NewCouponRepository(db *gorm.DB) repository.CouponRepository {
	return &couponRepo{db: db, tx: NewTxManager(db)}
}

func (r *couponRepo) Create(ctx context.Context, c *domain.Coupon) error {
	if err := conn(ctx, r.db).Omit("UsageHistory").Create(c).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("create coupon %s: %w", c.Code, domain.ErrDuplicateCoupon)
		}
		return fmt.Errorf("create coupon %s: %w", c.Code, mapError(err))
	}
	return nil
}

func (r *couponRepo) FindByID(ctx context.Context, id string, withHistory bool) (*domain.Coupon, error) {
	q := conn(ctx, r.db)
	if withHistory {
		q = q.Preload("UsageHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		})
	}

	var c domain.Coupon
	if err := q.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find coupon %s: %w", id, mapError(err))
	}
	return &c, nil
}

// LockByID uses FOR UPDATE, which InnoDB serves from the latest committed
// version rather than the transaction's snapshot.
func (r *couponRepo) LockByID(ctx context.Context, id string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock coupon %s: %w", id, mapError(err))
	}
	return &c, nil
}

func (r *couponRepo) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	if err := conn(ctx, r.db).First(&c, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find coupon %s: %w", code, mapError(err))
	}
	return &c, nil
}

func (r *couponRepo) List(ctx context.Context) ([]domain.Coupon, error) {
	var out []domain.Coupon
	if err := conn(ctx, r.db).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list coupons: %w", mapError(err))
	}
	return out, nil
}

func (r *couponRepo) UpdateTerms(ctx context.Context, c *domain.Coupon) error {
	err := conn(ctx, r.db).Model(&domain.Coupon{}).Where("id = ?", c.ID).Updates(map[string]any{
		"code":                 c.Code,
		"discount_type":        c.DiscountType,
		"value":                c.Value,
		"expiry_date":          c.ExpiryDate,
		"is_active":            c.IsActive,
		"usage_limit":          c.UsageLimit,
		"minimum_order_amount": c.MinimumOrderAmount,
		"updated_at":           c.UpdatedAt,
	}).Error
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("update coupon %s: %w", c.ID, domain.ErrDuplicateCoupon)
		}
		return fmt.Errorf("update coupon %s: %w", c.ID, mapError(err))
	}
	return nil
}

// IncrementUsage relies on a single conditional UPDATE: InnoDB re-evaluates
// the WHERE clause against the latest committed row under its row lock, so
// two racing redemptions cannot both pass the usage_limit check.
func (r *couponRepo) IncrementUsage(ctx context.Context, couponID string, usage domain.CouponUsage, now time.Time) (bool, error) {
	var ok bool
	err := r.tx.Do(ctx, func(ctx context.Context) error {
		db := conn(ctx, r.db)

		res := db.Model(&domain.Coupon{}).
			Where("id = ? AND is_active = ? AND expiry_date > ?", couponID, true, now).
			Where("(usage_limit IS NULL OR used_count < usage_limit)").
			Updates(map[string]any{
				"used_count": gorm.Expr("used_count + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		usage.CouponID = couponID
		if err := db.Create(&usage).Error; err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("increment coupon %s usage: %w", couponID, mapError(err))
	}
	return ok, nil
}
