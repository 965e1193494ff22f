package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/pos-settlement/internal/config"
	"github.com/rl1809/pos-settlement/internal/core/domain"
)

const mysqlErrDuplicateEntry = 1062

const productColumns = `id, name, description, sku, price, stock, category, is_active, created_at, updated_at`

type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// OpenMySQL opens and pings a pooled connection.
func OpenMySQL(ctx context.Context, cfg config.MySQLConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := []domain.Product{}
	err := m.db.SelectContext(ctx, &products,
		`SELECT `+productColumns+` FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return products, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := m.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) FindProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build product lookup: %w", err)
	}

	products := []domain.Product{}
	if err := m.db.SelectContext(ctx, &products, m.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return products, nil
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := m.db.NamedExecContext(ctx, `
		INSERT INTO products (id, name, description, sku, price, stock, category, is_active, created_at, updated_at)
		VALUES (:id, :name, :description, :sku, :price, :stock, :category, :is_active, :created_at, :updated_at)`, p)
	if err != nil {
		return translateMySQLError("insert product", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateProduct(ctx context.Context, id string, u domain.ProductUpdate) (*domain.Product, error) {
	var (
		sets []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.SKU != nil {
		add("sku", *u.SKU)
	}
	if u.Price != nil {
		add("price", *u.Price)
	}
	if u.Stock != nil {
		add("stock", *u.Stock)
	}
	if u.Category != nil {
		add("category", *u.Category)
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}

	if len(sets) > 0 {
		add("updated_at", time.Now().UTC())
		args = append(args, id)
		_, err := m.db.ExecContext(ctx,
			`UPDATE products SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, translateMySQLError("update product", err)
		}
	}

	p, err := m.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	return p, nil
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return translateMySQLError("delete product", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	return nil
}

func (m *MySQLAdapter) RestockProduct(ctx context.Context, id string, quantity int) (*domain.StockChange, error) {
	return m.changeStock(ctx, id, "restock", func(current int) int { return current + quantity })
}

func (m *MySQLAdapter) AdjustStock(ctx context.Context, id string, quantity int) (*domain.StockChange, error) {
	return m.changeStock(ctx, id, "adjustment", func(int) int { return quantity })
}

func (m *MySQLAdapter) changeStock(ctx context.Context, id, operation string, next func(current int) int) (*domain.StockChange, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		Name  string `db:"name"`
		SKU   string `db:"sku"`
		Stock int    `db:"stock"`
	}
	err = tx.GetContext(ctx, &row, `SELECT name, sku, stock FROM products WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	if err != nil {
		return nil, fmt.Errorf("lock product: %w", err)
	}

	newStock := next(row.Stock)
	if newStock < 0 {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "stock cannot go negative"}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`, newStock, now, id); err != nil {
		return nil, fmt.Errorf("update stock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &domain.StockChange{
		ProductID:     id,
		Name:          row.Name,
		SKU:           row.SKU,
		PreviousStock: row.Stock,
		NewStock:      newStock,
		Operation:     operation,
		Timestamp:     now,
	}, nil
}

func translateMySQLError(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
		return fmt.Errorf("%s: %w: %s", op, domain.ErrConflict, myErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
