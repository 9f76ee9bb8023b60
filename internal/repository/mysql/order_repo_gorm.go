package mysql

import (
	"context"
	"errors"
	"fmt"

	"order-engine/internal/domain"
	"order-engine/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepo struct {
	db *gorm.DB
	tx *TxManager
}

func NewOrderRepository(db *gorm.DB) repository.OrderRepository {
	return &orderRepo{db: db, tx: NewTxManager(db)}
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	if err := conn(ctx, r.db).Create(order).Error; err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, mapError(err))
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	if err := conn(ctx, r.db).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order %s: %w", id, mapError(err))
	}
	return &o, nil
}

func (r *orderRepo) Find(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	q := conn(ctx, r.db).Model(&domain.Order{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", f.CreatedBefore)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []domain.Order
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find orders: %w", mapError(err))
	}
	return out, nil
}

func (r *orderRepo) Update(ctx context.Context, id string, fn repository.OrderMutator) (*domain.Order, error) {
	var out *domain.Order
	err := r.tx.Do(ctx, func(ctx context.Context) error {
		db := conn(ctx, r.db)

		var o domain.Order
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&o, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(&o); err != nil {
			return err
		}
		if err := db.Save(&o).Error; err != nil {
			return err
		}
		out = &o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, mapError(err))
	}
	return out, nil
}
