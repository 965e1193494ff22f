package port

import (
	"context"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

type ProductCache interface {
	// GetProducts returns ok=false on a miss
	GetProducts(ctx context.Context) (products []domain.Product, ok bool, err error)

	// SetProducts stores the full listing with the configured TTL
	SetProducts(ctx context.Context, products []domain.Product) error

	// InvalidateProducts deletes the listing; it is never patched in place
	InvalidateProducts(ctx context.Context) error
}
