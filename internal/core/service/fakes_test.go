package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

// memStore is an in-memory ProductRepository and SaleRepository. SettleSale holds
// the store mutex for its whole run, which gives it the same all-or-nothing
// behaviour as the MySQL transaction.
type memStore struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	sales    map[string]*domain.Sale

	createSaleErr error
	deleteSaleErr error
	settleErr     error
	settleCalls   int
	markFailedErr error
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]*domain.Product),
		sales:    make(map[string]*domain.Sale),
	}
}

func (m *memStore) addProduct(id, name string, price string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = &domain.Product{
		ID: id, Name: name, SKU: "SKU-" + id, Price: decimal.RequireFromString(price),
		Stock: stock, IsActive: true,
	}
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) saleStatus(id string) domain.SaleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sales[id]; ok {
		return s.Status
	}
	return ""
}

func (m *memStore) saleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales)
}

func (m *memStore) putSale(s domain.Sale) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[s.ID] = &s
}

func (m *memStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) FindProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.products {
		if existing.SKU == p.SKU {
			return fmt.Errorf("insert product: %w", domain.ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) UpdateProduct(ctx context.Context, id string, u domain.ProductUpdate) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Stock != nil {
		p.Stock = *u.Stock
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	delete(m.products, id)
	return nil
}

func (m *memStore) RestockProduct(ctx context.Context, id string, quantity int) (*domain.StockChange, error) {
	return m.changeStock(id, "restock", func(cur int) int { return cur + quantity })
}

func (m *memStore) AdjustStock(ctx context.Context, id string, quantity int) (*domain.StockChange, error) {
	return m.changeStock(id, "adjustment", func(int) int { return quantity })
}

func (m *memStore) changeStock(id, op string, next func(int) int) (*domain.StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	prev := p.Stock
	p.Stock = next(prev)
	return &domain.StockChange{
		ProductID: id, Name: p.Name, SKU: p.SKU,
		PreviousStock: prev, NewStock: p.Stock, Operation: op, Timestamp: time.Now(),
	}, nil
}

func (m *memStore) CreateSale(ctx context.Context, sale *domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createSaleErr != nil {
		return m.createSaleErr
	}
	sale.ID = uuid.NewString()
	sale.CreatedAt = time.Now()
	for i := range sale.Items {
		sale.Items[i].ID = uuid.NewString()
		sale.Items[i].SaleID = sale.ID
	}
	cp := *sale
	cp.Items = append([]domain.SaleItem(nil), sale.Items...)
	m.sales[sale.ID] = &cp
	return nil
}

func (m *memStore) DeleteSale(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteSaleErr != nil {
		return m.deleteSaleErr
	}
	delete(m.sales, id)
	return nil
}

func (m *memStore) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSales(ctx context.Context, f domain.SaleFilter) ([]domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sale
	for _, s := range m.sales {
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) SettleSale(ctx context.Context, saleID string, items []domain.JobItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++
	if m.settleErr != nil {
		return m.settleErr
	}

	sale, ok := m.sales[saleID]
	if !ok {
		return &domain.NotFoundError{Resource: domain.ResourceSale, IDs: []string{saleID}}
	}
	if sale.Status != domain.SaleStatusPending {
		return fmt.Errorf("%w: %s", domain.ErrSaleNotPending, saleID)
	}

	next := make(map[string]int)
	for _, item := range items {
		p, ok := m.products[item.ProductID]
		if !ok {
			return &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{item.ProductID}}
		}
		cur, seen := next[p.ID]
		if !seen {
			cur = p.Stock
		}
		if cur < item.Quantity {
			return &domain.InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Available: cur, Requested: item.Quantity}
		}
		next[p.ID] = cur - item.Quantity
	}
	for id, stock := range next {
		m.products[id].Stock = stock
	}
	sale.Status = domain.SaleStatusCompleted
	return nil
}

func (m *memStore) MarkSaleFailed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markFailedErr != nil {
		return false, m.markFailedErr
	}
	s, ok := m.sales[id]
	if !ok || s.Status != domain.SaleStatusPending {
		return false, nil
	}
	s.Status = domain.SaleStatusFailed
	return true, nil
}

func (m *memStore) ListStalePendingSales(ctx context.Context, before time.Time, limit int) ([]domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sale
	for _, s := range m.sales {
		if s.Status == domain.SaleStatusPending && s.CreatedAt.Before(before) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memCache struct {
	mu          sync.Mutex
	products    []domain.Product
	present     bool
	getErr      error
	delErr      error
	sets        int
	invalidated int
}

func (c *memCache) GetProducts(ctx context.Context) ([]domain.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.products, c.present, nil
}

func (c *memCache) SetProducts(ctx context.Context, products []domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products, c.present = products, true
	c.sets++
	return nil
}

func (c *memCache) InvalidateProducts(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	if c.delErr != nil {
		return c.delErr
	}
	c.products, c.present = nil, false
	return nil
}

func (c *memCache) isPresent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.present
}

type queuedJob struct {
	job      domain.StockDeductionJob
	attempts int
	due      time.Time
	failed   bool
	reason   string
}

// memQueue mimics the Redis queue: jobs live from enqueue until ack, keyed by id.
type memQueue struct {
	mu      sync.Mutex
	jobs    map[string]*queuedJob
	ready   []string
	active  map[string]time.Time
	retries []time.Duration

	enqueueErr error
	ackErr     error
	enqueued   int
}

func newMemQueue() *memQueue {
	return &memQueue{jobs: make(map[string]*queuedJob), active: make(map[string]time.Time)}
}

func (q *memQueue) Enqueue(ctx context.Context, job domain.StockDeductionJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return false, q.enqueueErr
	}
	id := job.Key()
	if _, ok := q.jobs[id]; ok {
		return false, nil
	}
	q.jobs[id] = &queuedJob{job: job}
	q.ready = append(q.ready, id)
	q.enqueued++
	return true, nil
}

func (q *memQueue) Dequeue(ctx context.Context) (*domain.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, nil
	}
	id := q.ready[0]
	q.ready = q.ready[1:]
	j := q.jobs[id]
	j.attempts++
	q.active[id] = time.Now()
	return &domain.Delivery{ID: id, Job: j.job, Attempt: j.attempts}, nil
}

func (q *memQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ackErr != nil {
		err := q.ackErr
		q.ackErr = nil
		return err
	}
	delete(q.active, id)
	delete(q.jobs, id)
	return nil
}

// Retry makes the job ready again at once; the requested delay is recorded.
func (q *memQueue) Retry(ctx context.Context, id string, delay time.Duration, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, id)
	q.jobs[id].reason = reason
	q.retries = append(q.retries, delay)
	q.ready = append(q.ready, id)
	return nil
}

func (q *memQueue) Fail(ctx context.Context, id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, id)
	q.jobs[id].failed = true
	q.jobs[id].reason = reason
	return nil
}

func (q *memQueue) State(ctx context.Context, id string) (domain.JobState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	switch {
	case !ok:
		return domain.JobStateMissing, nil
	case j.failed:
		return domain.JobStateFailed, nil
	}
	return domain.JobStateLive, nil
}

func (q *memQueue) FailedJobs(ctx context.Context, limit int) ([]domain.FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.FailedJob
	for id, j := range q.jobs {
		if j.failed {
			out = append(out, domain.FailedJob{ID: id, Job: j.job, Attempts: j.attempts, Error: j.reason})
		}
	}
	return out, nil
}

func (q *memQueue) RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, claimed := range q.active {
		if time.Since(claimed) < olderThan {
			continue
		}
		q.ready = append(q.ready, id)
		delete(q.active, id)
		n++
	}
	return n, nil
}

func (q *memQueue) has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[id]
	return ok
}

func (q *memQueue) isFailed(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	return ok && j.failed
}

func (q *memQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.active)
}

var errTransient = errors.New("connection reset by peer")
