package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/events"
	"order-engine/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const staleBatchSize = 100

var errSkip = errors.New("skip")

// OrderService owns the order status machine and the payment embedded in
// each order. Every mutation is a locked read-modify-write of one order.
type OrderService struct {
	repo    repository.OrderRepository
	events  *events.Dispatcher
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewOrderService(repo repository.OrderRepository, ev *events.Dispatcher, log zerolog.Logger, timeout time.Duration) *OrderService {
	return &OrderService{
		repo:    repo,
		events:  ev,
		log:     log.With().Str("component", "orders").Logger(),
		timeout: timeout,
		now:     time.Now,
	}
}

type PaymentInput struct {
	Method        string
	Status        string
	Amount        decimal.Decimal
	TransactionID string
}

// Create stores a freshly priced order in the confirmed state. It joins the
// transaction carried by ctx, if any.
func (s *OrderService) Create(ctx context.Context, o *domain.Order) error {
	o.Status = domain.StatusConfirmed
	if err := o.CheckTotals(); err != nil {
		return err
	}
	return s.repo.Create(ctx, o)
}

func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if o == nil {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *OrderService) List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	out, err := s.repo.Find(ctx, f)
	return out, mapTimeout(err)
}

// Transition moves an order to target, matched case-insensitively.
func (s *OrderService) Transition(ctx context.Context, id, target string) (*domain.Order, error) {
	status, err := domain.ParseOrderStatus(target)
	if err != nil {
		return nil, err
	}

	var from domain.OrderStatus
	o, err := s.update(ctx, id, func(o *domain.Order) error {
		from = o.Status
		return o.Transition(status, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_id", id).Str("from", string(from)).Str("to", string(status)).Msg("order status changed")
	evt := domain.OrderStatusChangedEvent{OrderID: id, From: from, To: status, ChangedAt: o.UpdatedAt}
	if o.Payment != nil {
		evt.PaymentStatus = &o.Payment.Status
	}
	s.events.Emit(domain.EventOrderStatusChanged, evt)
	return o, nil
}

func (s *OrderService) SetEstimatedTime(ctx context.Context, id string, minutes int) (*domain.Order, error) {
	if minutes < 0 {
		return nil, domain.InvalidInputf("estimated time must not be negative")
	}
	o, err := s.update(ctx, id, func(o *domain.Order) error {
		return o.SetEstimatedTime(minutes, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.events.Emit(domain.EventOrderEstimatedTime, domain.OrderEstimatedTimeEvent{
		OrderID: id, EstimatedTime: minutes, UpdatedAt: o.UpdatedAt,
	})
	return o, nil
}

// AttachPayment replaces the order's payment; there is no payment history.
func (s *OrderService) AttachPayment(ctx context.Context, id string, in PaymentInput) (*domain.Order, error) {
	status, err := domain.ParsePaymentStatus(in.Status)
	if err != nil {
		return nil, err
	}
	method, err := domain.ParsePaymentMethod(in.Method)
	if err != nil {
		return nil, err
	}
	if in.Amount.IsNegative() {
		return nil, domain.InvalidInputf("payment amount must not be negative")
	}

	p := domain.Payment{Method: method, Status: status, Amount: in.Amount, TransactionID: in.TransactionID}
	o, err := s.update(ctx, id, func(o *domain.Order) error {
		return o.AttachPayment(p, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.emitPayment(o)
	return o, nil
}

// UpdatePaymentStatus changes only the payment status; amount, method and
// transaction id are left as they are.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, id, status string) (*domain.Order, error) {
	st, err := domain.ParsePaymentStatus(status)
	if err != nil {
		return nil, err
	}
	o, err := s.update(ctx, id, func(o *domain.Order) error {
		return o.SetPaymentStatus(st, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.emitPayment(o)
	return o, nil
}

// CancelStale cancels confirmed orders created before now-olderThan that
// have no settled payment. It returns how many orders it cancelled.
func (s *OrderService) CancelStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	candidates, err := s.List(ctx, domain.OrderFilter{
		Status:        domain.StatusConfirmed,
		CreatedBefore: cutoff,
		Limit:         staleBatchSize,
	})
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, c := range candidates {
		_, err := s.update(ctx, c.ID, func(o *domain.Order) error {
			// re-checked under the row lock: staff may have moved it on
			if o.Status != domain.StatusConfirmed {
				return errSkip
			}
			if o.Payment != nil && o.Payment.Status != domain.PaymentPending {
				return errSkip
			}
			return o.Transition(domain.StatusCancelled, s.now())
		})
		switch {
		case errors.Is(err, errSkip), errors.Is(err, domain.ErrOrderNotFound):
			continue
		case err != nil:
			return cancelled, fmt.Errorf("cancel stale order %s: %w", c.ID, err)
		}
		cancelled++
		s.events.Emit(domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
			OrderID: c.ID, From: domain.StatusConfirmed, To: domain.StatusCancelled, ChangedAt: s.now(),
		})
	}
	if cancelled > 0 {
		s.log.Info().Int("count", cancelled).Dur("older_than", olderThan).Msg("cancelled stale orders")
	}
	return cancelled, nil
}

func (s *OrderService) update(ctx context.Context, id string, fn repository.OrderMutator) (*domain.Order, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	o, err := s.repo.Update(ctx, id, fn)
	if err != nil {
		if !errors.Is(err, errSkip) {
			s.log.Warn().Err(err).Str("order_id", id).Msg("order update rejected")
		}
		return nil, mapTimeout(err)
	}
	if o == nil {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *OrderService) emitPayment(o *domain.Order) {
	s.events.Emit(domain.EventOrderPaymentUpdated, domain.OrderPaymentEvent{
		OrderID:   o.ID,
		Method:    o.Payment.Method,
		Status:    o.Payment.Status,
		UpdatedAt: o.Payment.UpdatedAt,
	})
}
