package port

import (
	"context"
	"time"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)

	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// FindProducts resolves many ids in one query; missing ids are simply absent from the result
	FindProducts(ctx context.Context, ids []string) ([]domain.Product, error)

	CreateProduct(ctx context.Context, product *domain.Product) error

	UpdateProduct(ctx context.Context, id string, update domain.ProductUpdate) (*domain.Product, error)

	DeleteProduct(ctx context.Context, id string) error

	// RestockProduct increments stock under a row lock
	RestockProduct(ctx context.Context, id string, quantity int) (*domain.StockChange, error)

	// AdjustStock sets stock to an absolute value under a row lock
	AdjustStock(ctx context.Context, id string, quantity int) (*domain.StockChange, error)
}

type SaleRepository interface {
	// CreateSale inserts the sale and all its items in one transaction
	CreateSale(ctx context.Context, sale *domain.Sale) error

	// DeleteSale removes a sale and its items (compensation for a failed enqueue)
	DeleteSale(ctx context.Context, id string) error

	// GetSale returns nil, nil when the sale does not exist
	GetSale(ctx context.Context, id string) (*domain.Sale, error)

	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	// SettleSale locks the sale, checks it is still PENDING, decrements stock for every
	// item with a conditional update and marks the sale COMPLETED, all in one transaction
	SettleSale(ctx context.Context, saleID string, items []domain.JobItem) error

	// MarkSaleFailed moves a PENDING sale to FAILED; false when nothing changed
	MarkSaleFailed(ctx context.Context, id string) (bool, error)

	// ListStalePendingSales returns PENDING sales created before the cutoff, with items
	ListStalePendingSales(ctx context.Context, before time.Time, limit int) ([]domain.Sale, error)
}
