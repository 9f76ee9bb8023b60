package services

import (
	"context"
	"testing"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/events"
	"order-engine/internal/infra"
	"order-engine/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	TestCustomerID = "cust-1"
	TestFrontend   = "http://menu.local"
)

var testGST = decimal.RequireFromString("0.05")

type testEnv struct {
	store     *memory.Store
	orders    *OrderService
	coupons   *CouponLedger
	resources *ResourceRegistry
	checkout  *CheckoutService
}

type envOption func(*CheckoutConfig)

func withGST(rate string) envOption {
	return func(c *CheckoutConfig) { c.GSTRate = decimal.RequireFromString(rate) }
}

func withPolicy(p string) envOption {
	return func(c *CheckoutConfig) { c.ExhaustedPolicy = p }
}

func newTestEnv(t *testing.T, codegen infra.CodeGeneratorInterface, opts ...envOption) *testEnv {
	t.Helper()
	store := memory.NewStore()
	log := zerolog.Nop()
	ev := events.NewDispatcher(events.Nop{}, time.Second, log)

	cfg := CheckoutConfig{
		GSTRate:              testGST,
		DefaultEstimatedTime: 20,
		OperationTimeout:     5 * time.Second,
		ExternalTimeout:      time.Second,
		MaxAttempts:          5,
		ExhaustedPolicy:      ExhaustedFallback,
	}
	for _, o := range opts {
		o(&cfg)
	}

	orders := NewOrderService(store.Orders, ev, log, cfg.OperationTimeout)
	coupons := NewCouponLedger(store.Coupons, store.Tx, ev, log, cfg.OperationTimeout)
	resources := NewResourceRegistry(store.Resources, store.Customers, store.Tx, codegen, ev, log, ResourceRegistryConfig{
		FrontendURL:      TestFrontend,
		OperationTimeout: cfg.OperationTimeout,
		ExternalTimeout:  cfg.ExternalTimeout,
	})
	checkout := NewCheckoutService(orders, coupons, resources, store.Customers, store.Tx, ev, log, cfg)

	return &testEnv{store: store, orders: orders, coupons: coupons, resources: resources, checkout: checkout}
}

func intPtr(n int) *int { return &n }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func createCoupon(t *testing.T, l *CouponLedger, code, discountType, value string, limit *int) *domain.Coupon {
	t.Helper()
	c, err := l.Create(context.Background(), CouponInput{
		Code:         code,
		DiscountType: discountType,
		Value:        dec(value),
		ExpiryDate:   time.Now().Add(24 * time.Hour),
		UsageLimit:   limit,
	})
	require.NoError(t, err)
	return c
}

func sampleItems(price string, qty int) []domain.LineItem {
	return []domain.LineItem{{ProductRef: "p-1", Name: "Paneer Tikka", UnitPrice: dec(price), Quantity: qty}}
}

func sampleRequest(items []domain.LineItem, coupon string) CheckoutRequest {
	return CheckoutRequest{
		Customer:   CustomerInfo{ID: TestCustomerID, Name: "Asha", Phone: "9000000001"},
		OrderType:  "takeaway",
		Items:      items,
		CouponCode: coupon,
	}
}

// placeOrder creates a confirmed order directly, bypassing checkout.
func placeOrder(t *testing.T, env *testEnv, total string) *domain.Order {
	t.Helper()
	now := time.Now()
	o := &domain.Order{
		ID:             uuid.NewString(),
		CustomerID:     TestCustomerID,
		CustomerName:   "Asha",
		CustomerPhone:  "9000000001",
		OrderType:      domain.OrderTypeTakeaway,
		Items:          sampleItems(total, 1),
		Subtotal:       dec(total),
		GST:            decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          dec(total),
		EstimatedTime:  20,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, env.orders.Create(context.Background(), o))
	return o
}
