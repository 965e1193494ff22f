package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

const saleColumns = `id, user_id, total, payment_method, status, created_at, updated_at`

func (m *MySQLAdapter) CreateSale(ctx context.Context, sale *domain.Sale) error {
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sale.CreatedAt, sale.UpdatedAt = now, now

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, user_id, total, payment_method, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.UserID, sale.Total, sale.PaymentMethod, sale.Status, sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.SaleID = sale.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, price_at_sale)
			VALUES (?, ?, ?, ?, ?)`,
			item.ID, item.SaleID, item.ProductID, item.Quantity, item.PriceAtSale,
		)
		if err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) DeleteSale(ctx context.Context, id string) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = ?`, id); err != nil {
		return fmt.Errorf("delete sale items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	return tx.Commit()
}

func (m *MySQLAdapter) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := m.db.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}

	sales := []domain.Sale{sale}
	if err := m.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (m *MySQLAdapter) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	sales := []domain.Sale{}
	if err := m.db.SelectContext(ctx, &sales, query, args...); err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	if err := m.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (m *MySQLAdapter) ListStalePendingSales(ctx context.Context, before time.Time, limit int) ([]domain.Sale, error) {
	sales := []domain.Sale{}
	err := m.db.SelectContext(ctx, &sales, `
		SELECT `+saleColumns+` FROM sales
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?`, domain.SaleStatusPending, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale sales: %w", err)
	}
	if err := m.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

// SettleSale is the only place stock is decremented for a sale. The sale row lock
// serializes redeliveries of the same job; the conditional UPDATE keeps stock >= 0
// across concurrent jobs touching the same product.
func (m *MySQLAdapter) SettleSale(ctx context.Context, saleID string, items []domain.JobItem) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status domain.SaleStatus
	err = tx.GetContext(ctx, &status, `SELECT status FROM sales WHERE id = ? FOR UPDATE`, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Resource: domain.ResourceSale, IDs: []string{saleID}}
	}
	if err != nil {
		return fmt.Errorf("lock sale: %w", err)
	}
	if status != domain.SaleStatusPending {
		return fmt.Errorf("%w: %s is %s", domain.ErrSaleNotPending, saleID, status)
	}

	for _, item := range lockOrder(items) {
		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - ?, updated_at = NOW()
			WHERE id = ? AND stock >= ?`,
			item.Quantity, item.ProductID, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		rows, _ := result.RowsAffected()
		if rows == 0 {
			return m.explainFailedDecrement(ctx, tx, item)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sales SET status = ?, updated_at = NOW() WHERE id = ?`,
		domain.SaleStatusCompleted, saleID,
	); err != nil {
		return fmt.Errorf("complete sale: %w", err)
	}

	return tx.Commit()
}

// lockOrder returns items sorted by product id so that concurrent settlements
// take product row locks in the same order.
func lockOrder(items []domain.JobItem) []domain.JobItem {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b domain.JobItem) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}

func (m *MySQLAdapter) explainFailedDecrement(ctx context.Context, tx *sqlx.Tx, item domain.JobItem) error {
	var p struct {
		Name  string `db:"name"`
		Stock int    `db:"stock"`
	}
	err := tx.GetContext(ctx, &p, `SELECT name, stock FROM products WHERE id = ?`, item.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{item.ProductID}}
	}
	if err != nil {
		return fmt.Errorf("query product: %w", err)
	}
	return &domain.InsufficientStockError{
		ProductID:   item.ProductID,
		ProductName: p.Name,
		Available:   p.Stock,
		Requested:   item.Quantity,
	}
}

func (m *MySQLAdapter) MarkSaleFailed(ctx context.Context, id string) (bool, error) {
	result, err := m.db.ExecContext(ctx,
		`UPDATE sales SET status = ?, updated_at = NOW() WHERE id = ? AND status = ?`,
		domain.SaleStatusFailed, id, domain.SaleStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("fail sale: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) attachItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}

	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
		index[s.ID] = i
		sales[i].Items = []domain.SaleItem{}
	}

	query, args, err := sqlx.In(`
		SELECT id, sale_id, product_id, quantity, price_at_sale
		FROM sale_items WHERE sale_id IN (?) ORDER BY sale_id, id`, ids)
	if err != nil {
		return fmt.Errorf("build item lookup: %w", err)
	}

	var items []domain.SaleItem
	if err := m.db.SelectContext(ctx, &items, m.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("query sale items: %w", err)
	}
	for _, item := range items {
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return nil
}
