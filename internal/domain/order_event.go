package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated        = "order.created"
	EventOrderStatusChanged  = "order.status_changed"
	EventOrderPaymentUpdated = "order.payment_updated"
	EventOrderEstimatedTime  = "order.estimated_time_set"
	EventCouponRedeemed      = "coupon.redeemed"
	EventResourceAssigned    = "resource.assigned"
	EventResourceReleased    = "resource.released"
)

type OrderCreatedEvent struct {
	OrderID        string          `json:"orderId"`
	CustomerID     string          `json:"customerId"`
	OrderType      OrderType       `json:"orderType"`
	TableNumber    *int            `json:"tableNumber,omitempty"`
	Total          decimal.Decimal `json:"total"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	CouponCode     string          `json:"couponCode,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type OrderStatusChangedEvent struct {
	OrderID       string         `json:"orderId"`
	From          OrderStatus    `json:"from"`
	To            OrderStatus    `json:"to"`
	PaymentStatus *PaymentStatus `json:"paymentStatus,omitempty"`
	ChangedAt     time.Time      `json:"changedAt"`
}

type OrderPaymentEvent struct {
	OrderID   string        `json:"orderId"`
	Method    PaymentMethod `json:"method"`
	Status    PaymentStatus `json:"status"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type OrderEstimatedTimeEvent struct {
	OrderID       string    `json:"orderId"`
	EstimatedTime int       `json:"estimatedTime"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type CouponRedeemedEvent struct {
	CouponID   string    `json:"couponId"`
	Code       string    `json:"code"`
	UserID     string    `json:"userId"`
	OrderID    string    `json:"orderId,omitempty"`
	RedeemedAt time.Time `json:"redeemedAt"`
}

type ResourceEvent struct {
	ResourceID string    `json:"resourceId"`
	Number     int       `json:"number"`
	UserID     string    `json:"userId,omitempty"`
	At         time.Time `json:"at"`
}

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	evt := OrderCreatedEvent{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		OrderType:      o.OrderType,
		TableNumber:    o.TableNumber,
		Total:          o.Total,
		DiscountAmount: o.DiscountAmount,
		CreatedAt:      o.CreatedAt,
	}
	if o.Coupon != nil {
		evt.CouponCode = o.Coupon.Code
	}
	return evt
}

func (e OrderCreatedEvent) AggregateID() string       { return e.OrderID }
func (e OrderStatusChangedEvent) AggregateID() string { return e.OrderID }
func (e OrderPaymentEvent) AggregateID() string       { return e.OrderID }
func (e OrderEstimatedTimeEvent) AggregateID() string { return e.OrderID }
func (e CouponRedeemedEvent) AggregateID() string     { return e.CouponID }
func (e ResourceEvent) AggregateID() string           { return e.ResourceID }
