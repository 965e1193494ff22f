package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description *string         `json:"description" db:"description"`
	SKU         string          `json:"sku" db:"sku"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock"`
	Category    *string         `json:"category" db:"category"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ProductUpdate carries a partial update; nil fields are left untouched.
type ProductUpdate struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	SKU         *string          `json:"sku"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Category    *string          `json:"category"`
	IsActive    *bool            `json:"is_active"`
}

func (u ProductUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.SKU == nil && u.Price == nil &&
		u.Stock == nil && u.Category == nil && u.IsActive == nil
}

// ProductListing is the payload served by the read cache.
type ProductListing struct {
	Products []Product `json:"products"`
	Count    int       `json:"count"`
	Cached   bool      `json:"cached"`
}

// StockChange describes a restock or adjustment applied to one product.
type StockChange struct {
	ProductID     string    `json:"id"`
	Name          string    `json:"name"`
	SKU           string    `json:"sku"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	Operation     string    `json:"operation"`
	Timestamp     time.Time `json:"timestamp"`
}
