package http

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/infra"
	"order-engine/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type Handler struct {
	checkout  *services.CheckoutService
	orders    *services.OrderService
	coupons   *services.CouponLedger
	resources *services.ResourceRegistry
	log       zerolog.Logger

	// set at startup or at runtime; checkout middleware reads them per request
	mu      sync.RWMutex
	idem    infra.IdempotencyStoreInterface
	limiter *rate.Limiter
}

func NewHandler(
	checkout *services.CheckoutService,
	orders *services.OrderService,
	coupons *services.CouponLedger,
	resources *services.ResourceRegistry,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		checkout:  checkout,
		orders:    orders,
		coupons:   coupons,
		resources: resources,
		log:       log,
	}
}

// SetIdempotencyStore enables Idempotency-Key handling on checkout.
func (h *Handler) SetIdempotencyStore(s infra.IdempotencyStoreInterface) {
	h.mu.Lock()
	h.idem = s
	h.mu.Unlock()
}

// SetCheckoutLimit caps checkout submissions per second across all clients.
func (h *Handler) SetCheckoutLimit(perSecond float64, burst int) {
	var l *rate.Limiter
	if perSecond > 0 {
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	h.mu.Lock()
	h.limiter = l
	h.mu.Unlock()
}

func (h *Handler) checkoutLimiter() *rate.Limiter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.limiter
}

func (h *Handler) idempotencyStore() infra.IdempotencyStoreInterface {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idem
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.POST("/checkout", rateLimit(h.checkoutLimiter), idempotent(h.idempotencyStore, h.log), h.Checkout)

	orders := r.Group("/orders")
	orders.GET("", h.ListOrders)
	orders.GET("/:id", h.GetOrder)
	orders.PATCH("/:id/status", h.UpdateStatus)
	orders.PATCH("/:id/estimated-time", h.SetEstimatedTime)
	orders.PUT("/:id/payment", h.AttachPayment)
	orders.PATCH("/:id/payment/status", h.UpdatePaymentStatus)

	r.GET("/coupons/validate", h.ValidateCoupon)

	admin := r.Group("/admin/coupons")
	admin.POST("", h.CreateCoupon)
	admin.GET("", h.ListCoupons)
	admin.GET("/:id", h.GetCoupon)
	admin.PUT("/:id", h.UpdateCoupon)
	admin.DELETE("/:id", h.DeactivateCoupon)

	res := r.Group("/resources")
	res.POST("", h.CreateResource)
	res.GET("", h.ListResources)
	res.GET("/:id", h.GetResource)
	res.POST("/:id/release", h.ReleaseResource)
	res.POST("/:id/regenerate", h.RegenerateCode)

	r.POST("/tables/:number/assign", h.AssignResource)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.checkout.Checkout(c.Request.Context(), services.CheckoutRequest{
		Customer:    currentUser(c),
		OrderType:   req.OrderType,
		TableNumber: req.TableNumber,
		Items:       req.lineItems(),
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	out := CheckoutResponse{
		OrderID:         res.Order.ID,
		Total:           res.Order.Total,
		AppliedDiscount: res.AppliedDiscount,
		EstimatedTime:   res.EstimatedTime,
	}
	if res.CouponError != nil {
		_, body := errorResponse(res.CouponError)
		out.CouponError = &body
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c *gin.Context) {
	f := domain.OrderFilter{CustomerID: c.Query("customerId"), Limit: 50}
	if s := c.Query("status"); s != "" {
		st, err := domain.ParseOrderStatus(s)
		if err != nil {
			writeError(c, err)
			return
		}
		f.Status = st
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(c, domain.InvalidInputf("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}

	out, err := h.orders.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []domain.Order{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.orders.Transition(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) SetEstimatedTime(c *gin.Context) {
	var req EstimatedTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.orders.SetEstimatedTime(c.Request.Context(), c.Param("id"), *req.EstimatedTime)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) AttachPayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.orders.AttachPayment(c.Request.Context(), c.Param("id"), services.PaymentInput{
		Method:        req.Method,
		Status:        req.Status,
		Amount:        req.Amount,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdatePaymentStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.orders.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) ValidateCoupon(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		writeError(c, domain.InvalidInputf("code required"))
		return
	}
	amount, err := decimal.NewFromString(c.DefaultQuery("amount", "0"))
	if err != nil || amount.IsNegative() {
		writeError(c, domain.InvalidInputf("amount must be a non-negative number"))
		return
	}

	cp, err := h.coupons.Validate(c.Request.Context(), code, amount, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ValidateCouponResponse{
		Valid:          true,
		Code:           cp.Code,
		DiscountType:   cp.DiscountType,
		Value:          cp.Value,
		DiscountAmount: cp.DiscountFor(amount),
	})
}

func (h *Handler) CreateCoupon(c *gin.Context) {
	var req CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cp, err := h.coupons.Create(c.Request.Context(), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h *Handler) UpdateCoupon(c *gin.Context) {
	var req CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cp, err := h.coupons.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) DeactivateCoupon(c *gin.Context) {
	cp, err := h.coupons.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) GetCoupon(c *gin.Context) {
	cp, err := h.coupons.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) ListCoupons(c *gin.Context) {
	out, err := h.coupons.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []domain.Coupon{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateResource(c *gin.Context) {
	var req CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.resources.Create(c.Request.Context(), req.Number)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListResources(c *gin.Context) {
	out, err := h.resources.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []domain.Resource{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetResource(c *gin.Context) {
	res, err := h.resources.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AssignResource seats a user at the table numbered :number. The user comes
// from the body or, failing that, the caller's identity.
func (h *Handler) AssignResource(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		writeError(c, domain.InvalidInputf("resource number must be an integer"))
		return
	}
	var req AssignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.UserID == "" {
		req.UserID = c.GetHeader(HeaderUserID)
	}

	res, err := h.resources.Assign(c.Request.Context(), number, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if res == nil {
		c.JSON(http.StatusAccepted, gin.H{"assigned": false})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ReleaseResource(c *gin.Context) {
	res, err := h.resources.Release(c.Request.Context(), c.Param("id"))
	var fanOut *domain.FanOutError
	if errors.As(err, &fanOut) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    err.Error(),
			"code":     "fan-out-failed",
			"resource": res,
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RegenerateCode(c *gin.Context) {
	res, err := h.resources.RegenerateCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r CouponRequest) input() services.CouponInput {
	return services.CouponInput{
		Code:               r.Code,
		DiscountType:       r.DiscountType,
		Value:              r.Value,
		ExpiryDate:         r.ExpiryDate,
		IsActive:           r.IsActive,
		UsageLimit:         r.UsageLimit,
		MinimumOrderAmount: r.MinimumOrderAmount,
	}
}
