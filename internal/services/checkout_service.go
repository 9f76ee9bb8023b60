package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/events"
	"order-engine/internal/infra"
	"order-engine/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const catalogConcurrency = 8

const (
	ExhaustedFallback = "fallback"
	ExhaustedFail     = "fail"
)

type CheckoutConfig struct {
	GSTRate              decimal.Decimal
	DefaultEstimatedTime int
	OperationTimeout     time.Duration
	ExternalTimeout      time.Duration
	MaxAttempts          int
	// ExhaustedPolicy decides what happens when the coupon runs out between
	// validation and redemption: ExhaustedFallback places the order at full
	// price, ExhaustedFail rejects the checkout.
	ExhaustedPolicy string
}

type CustomerInfo struct {
	ID    string
	Name  string
	Phone string
	Email string
}

type CheckoutRequest struct {
	Customer    CustomerInfo
	OrderType   string
	TableNumber *int
	Items       []domain.LineItem
	CouponCode  string
}

type CheckoutResult struct {
	Order           *domain.Order
	AppliedDiscount decimal.Decimal
	EstimatedTime   int
	// CouponError is set when the order was placed without the requested
	// coupon.
	CouponError error
}

// CheckoutService turns a cart into a confirmed order, redeeming the coupon
// and inserting the order in one transaction.
type CheckoutService struct {
	orders    *OrderService
	coupons   *CouponLedger
	resources *ResourceRegistry
	customers repository.CustomerRepository
	tx        repository.TxManager
	catalog   infra.CatalogClientInterface
	events    *events.Dispatcher
	log       zerolog.Logger
	cfg       CheckoutConfig
	now       func() time.Time
}

func NewCheckoutService(
	orders *OrderService,
	coupons *CouponLedger,
	resources *ResourceRegistry,
	customers repository.CustomerRepository,
	tx repository.TxManager,
	ev *events.Dispatcher,
	log zerolog.Logger,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ExhaustedPolicy == "" {
		cfg.ExhaustedPolicy = ExhaustedFallback
	}
	return &CheckoutService{
		orders:    orders,
		coupons:   coupons,
		resources: resources,
		customers: customers,
		tx:        tx,
		events:    ev,
		log:       log.With().Str("component", "checkout").Logger(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetCatalog enables canonical price checks against the catalog.
func (s *CheckoutService) SetCatalog(c infra.CatalogClientInterface) {
	s.catalog = c
}

func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	orderType, err := validateCheckout(req)
	if err != nil {
		return nil, err
	}
	req.CouponCode = domain.NormalizeCouponCode(req.CouponCode)

	ctx, cancel := bound(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if s.catalog != nil {
		if err := s.verifyCatalog(ctx, req.Items); err != nil {
			return nil, err
		}
	}

	quote := domain.PriceItems(req.Items, s.cfg.GSTRate)
	res := &CheckoutResult{}
	code := req.CouponCode
	if code != "" {
		_, err := s.coupons.Validate(ctx, code, quote.PreDiscount(), s.now())
		switch {
		case isExhausted(err):
			// lost the race before redeeming; same outcome as losing it during
			if err := s.dropCoupon(res, req, fmt.Errorf("coupon %s: %w", code, domain.ErrCouponExhausted)); err != nil {
				return nil, err
			}
			code = ""
		case err != nil:
			return nil, err
		}
	}

	order, red, err := s.place(ctx, req, orderType, quote, code)
	if code != "" && errors.Is(err, domain.ErrCouponExhausted) {
		if err := s.dropCoupon(res, req, err); err != nil {
			return nil, err
		}
		order, red, err = s.place(ctx, req, orderType, quote, "")
	}
	if err != nil {
		s.log.Error().Err(err).Str("customer_id", req.Customer.ID).Msg("checkout failed")
		return nil, mapTimeout(err)
	}

	s.afterCommit(ctx, req, order, red)

	res.Order = order
	res.AppliedDiscount = order.DiscountAmount
	res.EstimatedTime = order.EstimatedTime
	return res, nil
}

// dropCoupon applies the exhausted policy: under ExhaustedFallback the
// order goes ahead without the coupon and cause is reported on res.
func (s *CheckoutService) dropCoupon(res *CheckoutResult, req CheckoutRequest, cause error) error {
	if s.cfg.ExhaustedPolicy != ExhaustedFallback {
		return cause
	}
	s.log.Warn().Err(cause).Str("customer_id", req.Customer.ID).Msg("coupon ran out, placing order without it")
	res.CouponError = cause
	return nil
}

func isExhausted(err error) bool {
	var invalid *domain.CouponInvalidError
	return errors.As(err, &invalid) && invalid.Reason == domain.ReasonExhausted
}

// place redeems couponCode, if any, and inserts the order in one
// transaction, retrying the whole unit on storage conflicts.
func (s *CheckoutService) place(ctx context.Context, req CheckoutRequest, orderType domain.OrderType, quote domain.Quote, couponCode string) (*domain.Order, *Redemption, error) {
	var (
		order *domain.Order
		red   *Redemption
	)
	err := retryOnConflict(ctx, s.cfg.MaxAttempts, func() error {
		order, red = nil, nil
		return s.tx.Do(ctx, func(ctx context.Context) error {
			now := s.now()
			o := &domain.Order{
				ID:            uuid.NewString(),
				CustomerID:    req.Customer.ID,
				CustomerName:  req.Customer.Name,
				CustomerPhone: req.Customer.Phone,
				CustomerEmail: req.Customer.Email,
				OrderType:     orderType,
				TableNumber:   req.TableNumber,
				Items:         req.Items,
				EstimatedTime: s.cfg.DefaultEstimatedTime,
				CreatedAt:     now,
				UpdatedAt:     now,
			}

			q := quote
			if couponCode != "" {
				r, err := s.coupons.Redeem(ctx, couponCode, req.Customer.ID, o.ID)
				if err != nil {
					return err
				}
				// terms may have changed since validation
				if !r.Coupon.MeetsMinimum(q.PreDiscount()) {
					return domain.NewCouponInvalid(couponCode, domain.ReasonBelowMinimum)
				}
				q = q.WithDiscount(r.Coupon)
				snap := r.Coupon.Snapshot()
				o.Coupon = &snap
				red = r
			}
			o.Subtotal = q.Subtotal
			o.GST = q.GST
			o.DiscountAmount = q.DiscountAmount
			o.Total = q.Total

			if err := s.orders.Create(ctx, o); err != nil {
				return err
			}
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return order, red, nil
}

// afterCommit runs the best-effort follow-ups of a placed order. Failures
// are logged; the order stands.
func (s *CheckoutService) afterCommit(ctx context.Context, req CheckoutRequest, o *domain.Order, red *Redemption) {
	s.coupons.Announce(red)

	now := s.now()
	err := s.customers.Upsert(ctx, &domain.Customer{
		ID:        req.Customer.ID,
		Name:      req.Customer.Name,
		Phone:     req.Customer.Phone,
		Email:     req.Customer.Email,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("customer_id", req.Customer.ID).Msg("customer upsert failed")
	}

	if o.OrderType == domain.OrderTypeDineIn && o.TableNumber != nil && s.resources != nil {
		if err := s.resources.LinkOrder(ctx, *o.TableNumber, o.ID, o.CustomerID); err != nil {
			s.log.Warn().Err(err).Str("order_id", o.ID).Int("table", *o.TableNumber).Msg("link order to table failed")
		}
	}

	s.log.Info().Str("order_id", o.ID).Str("customer_id", o.CustomerID).
		Str("total", o.Total.StringFixed(2)).Str("discount", o.DiscountAmount.StringFixed(2)).Msg("order placed")
	s.events.Emit(domain.EventOrderCreated, domain.NewOrderCreatedEvent(o))
}

func (s *CheckoutService) verifyCatalog(ctx context.Context, items []domain.LineItem) error {
	ctx, cancel := bound(ctx, s.cfg.ExternalTimeout)
	defer cancel()

	refs := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		if price, ok := refs[it.ProductRef]; ok && !price.Equal(it.UnitPrice) {
			return domain.InvalidInputf("product %s listed with two prices", it.ProductRef)
		}
		refs[it.ProductRef] = it.UnitPrice
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogConcurrency)
	for ref, price := range refs {
		ref, price := ref, price
		g.Go(func() error {
			p, err := s.catalog.GetProduct(ctx, ref)
			if err != nil {
				return fmt.Errorf("%w: catalog: %v", domain.ErrExternalFailure, err)
			}
			if p == nil {
				return domain.InvalidInputf("unknown product %s", ref)
			}
			if !p.Price.Equal(price) {
				return domain.InvalidInputf("product %s costs %s, cart says %s", ref, p.Price, price)
			}
			return nil
		})
	}
	return g.Wait()
}

func validateCheckout(req CheckoutRequest) (domain.OrderType, error) {
	c := req.Customer
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
		return "", domain.InvalidInputf("customer id, name and phone are required")
	}
	orderType, err := domain.ParseOrderType(req.OrderType)
	if err != nil {
		return "", err
	}
	if len(req.Items) == 0 {
		return "", domain.InvalidInputf("order needs at least one item")
	}
	for _, it := range req.Items {
		if err := it.Validate(); err != nil {
			return "", err
		}
	}
	if req.TableNumber != nil && *req.TableNumber < 1 {
		return "", domain.InvalidInputf("table number must be positive")
	}
	return orderType, nil
}
