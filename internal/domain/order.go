package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine-in"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDelivery OrderType = "delivery"
)

func ParseOrderType(s string) (OrderType, error) {
	switch t := OrderType(strings.ToLower(strings.TrimSpace(s))); t {
	case OrderTypeDineIn, OrderTypeTakeaway, OrderTypeDelivery:
		return t, nil
	}
	return "", InvalidInputf("unknown order type %q", s)
}

type OrderStatus string

const (
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// next holds the single forward move allowed from each non-terminal status.
var next = map[OrderStatus]OrderStatus{
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusCompleted,
}

// ParseOrderStatus matches s against the known statuses ignoring case.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", InvalidInputf("unknown order status %q", s)
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether target is the next linear status or a
// cancellation from a non-terminal status.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StatusCancelled {
		return true
	}
	return next[s] == target
}

type LineItem struct {
	ProductRef string          `json:"productRef"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
}

func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func (li LineItem) Validate() error {
	if strings.TrimSpace(li.ProductRef) == "" {
		return InvalidInputf("line item product reference required")
	}
	if strings.TrimSpace(li.Name) == "" {
		return InvalidInputf("line item %s: name required", li.ProductRef)
	}
	if li.Quantity < 1 {
		return InvalidInputf("line item %s: quantity must be at least 1", li.ProductRef)
	}
	if li.UnitPrice.IsNegative() {
		return InvalidInputf("line item %s: unit price must not be negative", li.ProductRef)
	}
	return nil
}

// AppliedCoupon is the coupon snapshot taken at redemption time.
type AppliedCoupon struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	DiscountType DiscountType    `json:"discountType"`
	Value        decimal.Decimal `json:"value"`
}

type Order struct {
	ID             string          `json:"id" gorm:"primaryKey;type:char(36)"`
	CustomerID     string          `json:"customerId" gorm:"type:varchar(64);not null;index"`
	CustomerName   string          `json:"customerName" gorm:"type:varchar(255);not null"`
	CustomerPhone  string          `json:"customerPhone" gorm:"type:varchar(32);not null"`
	CustomerEmail  string          `json:"customerEmail,omitempty" gorm:"type:varchar(255)"`
	OrderType      OrderType       `json:"orderType" gorm:"type:varchar(16);not null"`
	TableNumber    *int            `json:"tableNumber,omitempty"`
	Items          []LineItem      `json:"items" gorm:"serializer:json;type:json;not null"`
	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:decimal(12,2);not null"`
	GST            decimal.Decimal `json:"gst" gorm:"column:gst;type:decimal(12,2);not null"`
	DiscountAmount decimal.Decimal `json:"discountAmount" gorm:"type:decimal(12,2);not null"`
	Total          decimal.Decimal `json:"total" gorm:"type:decimal(12,2);not null"`
	Coupon         *AppliedCoupon  `json:"coupon,omitempty" gorm:"serializer:json;type:json"`
	Status         OrderStatus     `json:"status" gorm:"type:varchar(16);not null;index"`
	Payment        *Payment        `json:"payment,omitempty" gorm:"serializer:json;type:json"`
	EstimatedTime  int             `json:"estimatedTime" gorm:"not null"`
	CreatedAt      time.Time       `json:"createdAt" gorm:"index"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CheckTotals verifies total = subtotal + gst - discount with nothing negative.
func (o *Order) CheckTotals() error {
	if o.DiscountAmount.IsNegative() || o.Total.IsNegative() || o.Subtotal.IsNegative() || o.GST.IsNegative() {
		return fmt.Errorf("order %s: negative monetary value", o.ID)
	}
	if !o.Subtotal.Add(o.GST).Sub(o.DiscountAmount).Equal(o.Total) {
		return fmt.Errorf("order %s: total %s does not match %s + %s - %s",
			o.ID, o.Total, o.Subtotal, o.GST, o.DiscountAmount)
	}
	return nil
}

// Transition moves the order to target. Cancelling fails a pending payment
// in the same step.
func (o *Order) Transition(target OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}
	o.Status = target
	if target == StatusCancelled && o.Payment != nil && o.Payment.Status == PaymentPending {
		o.Payment.Status = PaymentFailed
		o.Payment.UpdatedAt = now
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) SetEstimatedTime(minutes int, now time.Time) error {
	if minutes < 0 {
		return InvalidInputf("estimated time must not be negative")
	}
	o.EstimatedTime = minutes
	o.UpdatedAt = now
	return nil
}

// AttachPayment replaces any existing payment. A zero amount means the
// order total.
func (o *Order) AttachPayment(p Payment, now time.Time) error {
	if p.Amount.IsZero() {
		p.Amount = o.Total
	}
	if !p.Amount.Equal(o.Total) {
		return InvalidInputf("payment amount %s does not match order total %s", p.Amount, o.Total)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	o.Payment = &p
	o.UpdatedAt = now
	return nil
}

func (o *Order) SetPaymentStatus(status PaymentStatus, now time.Time) error {
	if o.Payment == nil {
		return fmt.Errorf("order %s: %w", o.ID, ErrNoPaymentFound)
	}
	o.Payment.Status = status
	o.Payment.UpdatedAt = now
	o.UpdatedAt = now
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.TableNumber != nil {
		n := *o.TableNumber
		c.TableNumber = &n
	}
	if o.Coupon != nil {
		cp := *o.Coupon
		c.Coupon = &cp
	}
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	return &c
}

type OrderFilter struct {
	Status        OrderStatus
	CustomerID    string
	CreatedBefore time.Time
	Limit         int
}

func (f OrderFilter) Match(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}
