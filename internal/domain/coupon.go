package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

func ParseDiscountType(s string) (DiscountType, error) {
	switch t := DiscountType(strings.ToLower(strings.TrimSpace(s))); t {
	case DiscountPercentage, DiscountFixed:
		return t, nil
	}
	return "", InvalidInputf("unknown discount type %q", s)
}

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	ID                 string              `json:"id" gorm:"primaryKey;type:char(36)"`
	Code               string              `json:"code" gorm:"type:varchar(64);uniqueIndex;not null"`
	DiscountType       DiscountType        `json:"discountType" gorm:"type:varchar(16);not null"`
	Value              decimal.Decimal     `json:"value" gorm:"type:decimal(12,2);not null"`
	ExpiryDate         time.Time           `json:"expiryDate" gorm:"not null"`
	IsActive           bool                `json:"isActive" gorm:"not null"`
	UsageLimit         *int                `json:"usageLimit,omitempty"`
	MinimumOrderAmount decimal.NullDecimal `json:"minimumOrderAmount" gorm:"type:decimal(12,2)"`
	UsedCount          int                 `json:"usedCount" gorm:"not null"`
	UsageHistory       []CouponUsage       `json:"usageHistory,omitempty" gorm:"foreignKey:CouponID"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// CouponUsage is one redemption. Rows are only ever appended.
type CouponUsage struct {
	ID         uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	CouponID   string    `json:"-" gorm:"type:char(36);not null;index"`
	UserID     string    `json:"userId" gorm:"type:varchar(64);not null"`
	OrderID    string    `json:"orderId,omitempty" gorm:"type:char(36);index"`
	RedeemedAt time.Time `json:"redeemedAt" gorm:"not null"`
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

func (c *Coupon) MeetsMinimum(amount decimal.Decimal) bool {
	return !c.MinimumOrderAmount.Valid || !c.MinimumOrderAmount.Decimal.GreaterThan(amount)
}

// Check applies the validation rules in a fixed order so the first failing
// rule names the reason.
func (c *Coupon) Check(amount decimal.Decimal, now time.Time) error {
	switch {
	case !c.IsActive:
		return NewCouponInvalid(c.Code, ReasonInactive)
	case !c.ExpiryDate.After(now):
		return NewCouponInvalid(c.Code, ReasonExpired)
	case !c.MeetsMinimum(amount):
		return NewCouponInvalid(c.Code, ReasonBelowMinimum)
	case c.Exhausted():
		return NewCouponInvalid(c.Code, ReasonExhausted)
	}
	return nil
}

// DiscountFor returns the discount on a pre-discount total, never more than
// the total itself.
func (c *Coupon) DiscountFor(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		d = c.Value.Div(hundred).Mul(amount)
	case DiscountFixed:
		d = decimal.Min(c.Value, amount)
	}
	d = Round(d)
	if d.GreaterThan(amount) {
		return amount
	}
	return d
}

func (c *Coupon) Snapshot() AppliedCoupon {
	return AppliedCoupon{ID: c.ID, Code: c.Code, DiscountType: c.DiscountType, Value: c.Value}
}

// ValidateTerms checks the administrative fields. Expiry must lie after now.
func (c *Coupon) ValidateTerms(now time.Time) error {
	if c.Code == "" {
		return InvalidInputf("coupon code required")
	}
	switch c.DiscountType {
	case DiscountPercentage:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return InvalidInputf("percentage value must be in (0, 100]")
		}
	case DiscountFixed:
		if !c.Value.IsPositive() {
			return InvalidInputf("fixed value must be positive")
		}
	default:
		return InvalidInputf("unknown discount type %q", c.DiscountType)
	}
	if !c.ExpiryDate.After(now) {
		return InvalidInputf("expiry date must be in the future")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 1 {
		return InvalidInputf("usage limit must be a positive integer")
	}
	if c.MinimumOrderAmount.Valid && c.MinimumOrderAmount.Decimal.IsNegative() {
		return InvalidInputf("minimum order amount must not be negative")
	}
	return nil
}

func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	cp := *c
	if c.UsageLimit != nil {
		n := *c.UsageLimit
		cp.UsageLimit = &n
	}
	cp.UsageHistory = append([]CouponUsage(nil), c.UsageHistory...)
	return &cp
}
