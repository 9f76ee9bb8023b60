package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-engine/internal/domain"
	"order-engine/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type resourceRepo struct {
	db *gorm.DB
	tx *TxManager
}

func NewResourceRepository(db *gorm.DB) repository.ResourceRepository {
	return &resourceRepo{db: db, tx: NewTxManager(db)}
}

func (r *resourceRepo) Create(ctx context.Context, res *domain.Resource) error {
	if err := conn(ctx, r.db).Create(res).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("create resource %d: %w", res.Number, domain.ErrDuplicateResource)
		}
		return fmt.Errorf("create resource %d: %w", res.Number, mapError(err))
	}
	return nil
}

func (r *resourceRepo) FindByID(ctx context.Context, id string) (*domain.Resource, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *resourceRepo) FindByNumber(ctx context.Context, number int) (*domain.Resource, error) {
	return r.first(ctx, "number = ?", number)
}

func (r *resourceRepo) first(ctx context.Context, query string, arg any) (*domain.Resource, error) {
	var res domain.Resource
	if err := conn(ctx, r.db).First(&res, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find resource %v: %w", arg, mapError(err))
	}
	return &res, nil
}

func (r *resourceRepo) List(ctx context.Context) ([]domain.Resource, error) {
	var out []domain.Resource
	if err := conn(ctx, r.db).Order("number ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list resources: %w", mapError(err))
	}
	return out, nil
}

func (r *resourceRepo) Update(ctx context.Context, id string, fn repository.ResourceMutator) (*domain.Resource, error) {
	var out *domain.Resource
	err := r.tx.Do(ctx, func(ctx context.Context) error {
		db := conn(ctx, r.db)

		var res domain.Resource
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&res, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(&res); err != nil {
			return err
		}
		if err := db.Save(&res).Error; err != nil {
			return err
		}
		out = &res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update resource %s: %w", id, mapError(err))
	}
	return out, nil
}

type customerRepo struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) repository.CustomerRepository {
	return &customerRepo{db: db}
}

// Upsert refreshes contact details and leaves table_number alone.
func (r *customerRepo) Upsert(ctx context.Context, c *domain.Customer) error {
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "email", "updated_at"}),
	}).Omit("table_number").Create(c).Error
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", c.ID, mapError(err))
	}
	return nil
}

func (r *customerRepo) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	if err := conn(ctx, r.db).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find customer %s: %w", id, mapError(err))
	}
	return &c, nil
}

func (r *customerRepo) SetTableNumber(ctx context.Context, customerID string, number *int) error {
	now := time.Now()
	db := conn(ctx, r.db)

	var err error
	if number == nil {
		err = db.Model(&domain.Customer{}).Where("id = ?", customerID).
			Updates(map[string]any{"table_number": nil, "updated_at": now}).Error
	} else {
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"table_number", "updated_at"}),
		}).Create(&domain.Customer{ID: customerID, TableNumber: number, CreatedAt: now, UpdatedAt: now}).Error
	}
	if err != nil {
		return fmt.Errorf("set table for customer %s: %w", customerID, mapError(err))
	}
	return nil
}

func (r *customerRepo) ClearTableNumber(ctx context.Context, number int) (int64, error) {
	res := conn(ctx, r.db).Model(&domain.Customer{}).Where("table_number = ?", number).
		Updates(map[string]any{"table_number": nil, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("clear table %d on customers: %w", number, mapError(res.Error))
	}
	return res.RowsAffected, nil
}
