package infra

import (
	"context"

	"order-engine/internal/domain"
)

type CatalogClientInterface interface {
	GetProduct(ctx context.Context, ref string) (*ProductInfo, error)
}

type CodeGeneratorInterface interface {
	Generate(ctx context.Context, url string) ([]byte, error)
}

type CouponCacheInterface interface {
	Get(ctx context.Context, code string) (*domain.Coupon, error)
	Set(ctx context.Context, coupon *domain.Coupon) error
	Invalidate(ctx context.Context, code string) error
}

type IdempotencyStoreInterface interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

var (
	_ CatalogClientInterface = (*CatalogClient)(nil)
	_ CodeGeneratorInterface = (*CodeGeneratorClient)(nil)
)
