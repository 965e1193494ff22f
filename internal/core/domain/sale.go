package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "PENDING"
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusFailed    SaleStatus = "FAILED"
)

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusPending, SaleStatusCompleted, SaleStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the worker is done with a sale in this status.
func (s SaleStatus) Terminal() bool {
	return s == SaleStatusCompleted || s == SaleStatusFailed
}

type Sale struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Total         decimal.Decimal `json:"total" db:"total"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	Status        SaleStatus      `json:"status" db:"status"`
	Items         []SaleItem      `json:"items"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// SaleItem is immutable once written; PriceAtSale is a snapshot.
type SaleItem struct {
	ID          string          `json:"id" db:"id"`
	SaleID      string          `json:"sale_id" db:"sale_id"`
	ProductID   string          `json:"product_id" db:"product_id"`
	Quantity    int             `json:"quantity" db:"quantity"`
	PriceAtSale decimal.Decimal `json:"price_at_sale" db:"price_at_sale"`
}

// Extension is price_at_sale × quantity.
func (i SaleItem) Extension() decimal.Decimal {
	return i.PriceAtSale.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SaleRequest is what a cashier submits at checkout.
type SaleRequest struct {
	UserID        string
	PaymentMethod string
	Items         []SaleLine
}

type SaleLine struct {
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	PriceAtSale decimal.Decimal `json:"priceAtSale"`
}

type SaleFilter struct {
	UserID string
	Status SaleStatus
	Limit  int
	Offset int
}

// SaleTotal sums the line extensions.
func SaleTotal(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Extension())
	}
	return total
}
