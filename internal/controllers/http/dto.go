package http

import (
	"time"

	"order-engine/internal/domain"

	"github.com/shopspring/decimal"
)

type LineItemRequest struct {
	ProductRef string          `json:"productRef" binding:"required"`
	Name       string          `json:"name" binding:"required"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity" binding:"required,min=1"`
}

type CheckoutRequest struct {
	OrderType   string            `json:"orderType" binding:"required"`
	TableNumber *int              `json:"tableNumber"`
	Items       []LineItemRequest `json:"items" binding:"required,min=1,dive"`
	CouponCode  string            `json:"couponCode"`
}

func (r CheckoutRequest) lineItems() []domain.LineItem {
	out := make([]domain.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, domain.LineItem{
			ProductRef: it.ProductRef,
			Name:       it.Name,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
		})
	}
	return out
}

type CheckoutResponse struct {
	OrderID         string          `json:"orderId"`
	Total           decimal.Decimal `json:"total"`
	AppliedDiscount decimal.Decimal `json:"appliedDiscount"`
	EstimatedTime   int             `json:"estimatedTime"`
	CouponError     *ErrorResponse  `json:"couponError,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type EstimatedTimeRequest struct {
	EstimatedTime *int `json:"estimatedTime" binding:"required"`
}

type PaymentRequest struct {
	Method        string          `json:"method" binding:"required"`
	Status        string          `json:"status" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId"`
}

type CouponRequest struct {
	Code               string           `json:"code"`
	DiscountType       string           `json:"discountType"`
	Value              decimal.Decimal  `json:"value"`
	ExpiryDate         time.Time        `json:"expiryDate"`
	IsActive           *bool            `json:"isActive"`
	UsageLimit         *int             `json:"usageLimit"`
	MinimumOrderAmount *decimal.Decimal `json:"minimumOrderAmount"`
}

type ValidateCouponResponse struct {
	Valid          bool                `json:"valid"`
	Code           string              `json:"code"`
	DiscountType   domain.DiscountType `json:"discountType"`
	Value          decimal.Decimal     `json:"value"`
	DiscountAmount decimal.Decimal     `json:"discountAmount"`
}

type CreateResourceRequest struct {
	Number int `json:"number" binding:"required,min=1"`
}

type AssignRequest struct {
	UserID string `json:"userId"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}
