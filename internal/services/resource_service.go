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
)

var errNoOccupant = errors.New("no occupant")

// ResourceRegistry tracks which customer occupies which table and keeps the
// customer's cached table number in step with it.
type ResourceRegistry struct {
	resources   repository.ResourceRepository
	customers   repository.CustomerRepository
	tx          repository.TxManager
	codegen     infra.CodeGeneratorInterface
	events      *events.Dispatcher
	log         zerolog.Logger
	frontendURL string
	timeout     time.Duration
	extTimeout  time.Duration
	now         func() time.Time
}

type ResourceRegistryConfig struct {
	FrontendURL      string
	OperationTimeout time.Duration
	ExternalTimeout  time.Duration
}

func NewResourceRegistry(
	resources repository.ResourceRepository,
	customers repository.CustomerRepository,
	tx repository.TxManager,
	codegen infra.CodeGeneratorInterface,
	ev *events.Dispatcher,
	log zerolog.Logger,
	cfg ResourceRegistryConfig,
) *ResourceRegistry {
	return &ResourceRegistry{
		resources:   resources,
		customers:   customers,
		tx:          tx,
		codegen:     codegen,
		events:      ev,
		log:         log.With().Str("component", "resources").Logger(),
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		timeout:     cfg.OperationTimeout,
		extTimeout:  cfg.ExternalTimeout,
		now:         time.Now,
	}
}

func (r *ResourceRegistry) accessURL(number int) string {
	return fmt.Sprintf("%s/?table=%d", r.frontendURL, number)
}

// Create registers a new table. A failing code generator does not block
// creation; the code can be regenerated later.
func (r *ResourceRegistry) Create(ctx context.Context, number int) (*domain.Resource, error) {
	if number < 1 {
		return nil, domain.InvalidInputf("resource number must be positive")
	}
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	now := r.now()
	res := &domain.Resource{
		ID:           uuid.NewString(),
		Number:       number,
		Status:       domain.ResourceAvailable,
		OrderHistory: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	url := r.accessURL(number)
	code, err := r.generate(ctx, url)
	if err != nil {
		r.log.Warn().Err(err).Int("number", number).Msg("resource created without code")
	} else {
		res.SetCode(url, code, now)
	}

	if err := r.resources.Create(ctx, res); err != nil {
		return nil, mapTimeout(err)
	}
	return res, nil
}

func (r *ResourceRegistry) Get(ctx context.Context, id string) (*domain.Resource, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	res, err := r.resources.FindByID(ctx, id)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if res == nil {
		return nil, domain.ErrResourceNotFound
	}
	return res, nil
}

func (r *ResourceRegistry) List(ctx context.Context) ([]domain.Resource, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	out, err := r.resources.List(ctx)
	return out, mapTimeout(err)
}

// Assign seats userID at the table with the given number. An unknown number
// is skipped and yields (nil, nil). A previous assignee loses its cached
// number.
func (r *ResourceRegistry) Assign(ctx context.Context, number int, userID string) (*domain.Resource, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.InvalidInputf("user id required")
	}
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	found, err := r.resources.FindByNumber(ctx, number)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if found == nil {
		r.log.Warn().Int("number", number).Str("user_id", userID).Msg("assign skipped: no resource with that number")
		return nil, nil
	}

	var res *domain.Resource
	err = r.tx.Do(ctx, func(ctx context.Context) error {
		var prev *string
		updated, err := r.resources.Update(ctx, found.ID, func(res *domain.Resource) error {
			prev = res.AssignedUser
			res.Occupy(userID, r.now())
			return nil
		})
		if err != nil {
			return err
		}
		if updated == nil {
			return domain.ErrResourceNotFound
		}
		if prev != nil && *prev != userID {
			if err := r.customers.SetTableNumber(ctx, *prev, nil); err != nil {
				return err
			}
		}
		res = updated
		return r.customers.SetTableNumber(ctx, userID, &number)
	})
	if err != nil {
		return nil, mapTimeout(err)
	}

	r.log.Info().Int("number", number).Str("user_id", userID).Msg("resource assigned")
	r.events.Emit(domain.EventResourceAssigned, domain.ResourceEvent{
		ResourceID: res.ID, Number: res.Number, UserID: userID, At: res.UpdatedAt,
	})
	return res, nil
}

// Release frees the resource, then clears the number from every customer
// still caching it. If that second step fails the released resource is
// returned along with a *domain.FanOutError.
func (r *ResourceRegistry) Release(ctx context.Context, id string) (*domain.Resource, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	var prev *string
	res, err := r.resources.Update(ctx, id, func(res *domain.Resource) error {
		prev = res.AssignedUser
		res.Release(r.now())
		return nil
	})
	if err != nil {
		return nil, mapTimeout(err)
	}
	if res == nil {
		return nil, domain.ErrResourceNotFound
	}

	evt := domain.ResourceEvent{ResourceID: res.ID, Number: res.Number, At: res.UpdatedAt}
	if prev != nil {
		evt.UserID = *prev
	}
	r.events.Emit(domain.EventResourceReleased, evt)

	n, err := r.customers.ClearTableNumber(ctx, res.Number)
	if err != nil {
		r.log.Error().Err(err).Str("resource_id", id).Int("number", res.Number).Msg("release fan-out failed")
		return res, &domain.FanOutError{ResourceNumber: res.Number, Err: mapTimeout(err)}
	}
	r.log.Info().Str("resource_id", id).Int("number", res.Number).Int64("customers_cleared", n).Msg("resource released")
	return res, nil
}

// RegenerateCode rebuilds the access url and its code. On generator failure
// the stored record is left unchanged.
func (r *ResourceRegistry) RegenerateCode(ctx context.Context, id string) (*domain.Resource, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	res, err := r.resources.FindByID(ctx, id)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if res == nil {
		return nil, domain.ErrResourceNotFound
	}

	url := r.accessURL(res.Number)
	code, err := r.generate(ctx, url)
	if err != nil {
		r.log.Error().Err(err).Str("resource_id", id).Msg("code generation failed")
		return nil, err
	}

	updated, err := r.resources.Update(ctx, id, func(res *domain.Resource) error {
		res.SetCode(url, code, r.now())
		return nil
	})
	if err != nil {
		return nil, mapTimeout(err)
	}
	if updated == nil {
		return nil, domain.ErrResourceNotFound
	}
	return updated, nil
}

// LinkOrder records orderID as the current order at table number. An
// available table is first seated for customerID, so a linked order always
// sits on an occupied table. Unknown numbers are ignored.
func (r *ResourceRegistry) LinkOrder(ctx context.Context, number int, orderID, customerID string) error {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	found, err := r.resources.FindByNumber(ctx, number)
	if err != nil {
		return mapTimeout(err)
	}
	if found == nil {
		r.log.Warn().Int("number", number).Str("order_id", orderID).Msg("link skipped: no resource with that number")
		return nil
	}

	var seated bool
	err = r.tx.Do(ctx, func(ctx context.Context) error {
		seated = false
		updated, err := r.resources.Update(ctx, found.ID, func(res *domain.Resource) error {
			if res.Status == domain.ResourceAvailable {
				if customerID == "" {
					return errNoOccupant
				}
				res.Occupy(customerID, r.now())
				seated = true
			}
			res.LinkOrder(orderID, r.now())
			return nil
		})
		if err != nil || updated == nil || !seated {
			return err
		}
		return r.customers.SetTableNumber(ctx, customerID, &number)
	})
	if errors.Is(err, errNoOccupant) {
		r.log.Warn().Int("number", number).Str("order_id", orderID).Msg("link skipped: table is free and the order has no customer")
		return nil
	}
	if err != nil {
		return mapTimeout(err)
	}
	if seated {
		r.log.Info().Int("number", number).Str("user_id", customerID).Str("order_id", orderID).Msg("resource occupied by order")
		r.events.Emit(domain.EventResourceAssigned, domain.ResourceEvent{
			ResourceID: found.ID, Number: number, UserID: customerID, At: r.now(),
		})
	}
	return nil
}

func (r *ResourceRegistry) generate(ctx context.Context, url string) ([]byte, error) {
	if r.codegen == nil {
		return nil, fmt.Errorf("%w: no code generator configured", domain.ErrCodeGenerationFailed)
	}
	ctx, cancel := bound(ctx, r.extTimeout)
	defer cancel()

	code, err := r.codegen.Generate(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCodeGenerationFailed, err)
	}
	return code, nil
}
