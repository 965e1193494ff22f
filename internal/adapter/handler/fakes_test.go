package handler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

// stubStore serves products and sales from maps; it does not settle anything.
type stubStore struct {
	mu       sync.Mutex
	products map[string]domain.Product
	sales    map[string]domain.Sale
}

func newStubStore(products ...domain.Product) *stubStore {
	s := &stubStore{products: map[string]domain.Product{}, sales: map[string]domain.Sale{}}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *stubStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *stubStore) FindProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if existing.SKU == p.SKU {
			return domain.ErrConflict
		}
	}
	p.ID = uuid.NewString()
	s.products[p.ID] = *p
	return nil
}

func (s *stubStore) UpdateProduct(ctx context.Context, id string, u domain.ProductUpdate) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	s.products[id] = p
	return &p, nil
}

func (s *stubStore) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	delete(s.products, id)
	return nil
}

func (s *stubStore) RestockProduct(ctx context.Context, id string, quantity int) (*domain.StockChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	prev := p.Stock
	p.Stock += quantity
	s.products[id] = p
	return &domain.StockChange{ProductID: id, Name: p.Name, SKU: p.SKU, PreviousStock: prev, NewStock: p.Stock, Operation: "restock"}, nil
}

func (s *stubStore) AdjustStock(ctx context.Context, id string, quantity int) (*domain.StockChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: domain.ResourceProduct, IDs: []string{id}}
	}
	prev := p.Stock
	p.Stock = quantity
	s.products[id] = p
	return &domain.StockChange{ProductID: id, Name: p.Name, SKU: p.SKU, PreviousStock: prev, NewStock: p.Stock, Operation: "adjustment"}, nil
}

func (s *stubStore) CreateSale(ctx context.Context, sale *domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale.ID = uuid.NewString()
	for i := range sale.Items {
		sale.Items[i].SaleID = sale.ID
	}
	s.sales[sale.ID] = *sale
	return nil
}

func (s *stubStore) DeleteSale(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sales, id)
	return nil
}

func (s *stubStore) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, nil
	}
	return &sale, nil
}

func (s *stubStore) ListSales(ctx context.Context, f domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Sale{}
	for _, sale := range s.sales {
		if f.UserID != "" && sale.UserID != f.UserID {
			continue
		}
		if f.Status != "" && sale.Status != f.Status {
			continue
		}
		out = append(out, sale)
	}
	return out, nil
}

func (s *stubStore) SettleSale(ctx context.Context, saleID string, items []domain.JobItem) error {
	return nil
}

func (s *stubStore) MarkSaleFailed(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (s *stubStore) ListStalePendingSales(ctx context.Context, before time.Time, limit int) ([]domain.Sale, error) {
	return nil, nil
}

func (s *stubStore) saleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sales)
}

type nopCache struct{}

func (nopCache) GetProducts(context.Context) ([]domain.Product, bool, error) { return nil, false, nil }
func (nopCache) SetProducts(context.Context, []domain.Product) error         { return nil }
func (nopCache) InvalidateProducts(context.Context) error                    { return nil }

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, job domain.StockDeductionJob) (bool, error) {
	args := m.Called(ctx, job)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueue) Dequeue(ctx context.Context) (*domain.Delivery, error) {
	return nil, nil
}

func (m *mockQueue) Ack(ctx context.Context, id string) error { return nil }

func (m *mockQueue) Retry(ctx context.Context, id string, delay time.Duration, reason string) error {
	return nil
}

func (m *mockQueue) Fail(ctx context.Context, id string, reason string) error { return nil }

func (m *mockQueue) State(ctx context.Context, id string) (domain.JobState, error) {
	return domain.JobStateMissing, nil
}

func (m *mockQueue) FailedJobs(ctx context.Context, limit int) ([]domain.FailedJob, error) {
	args := m.Called(ctx, limit)
	jobs, _ := args.Get(0).([]domain.FailedJob)
	return jobs, args.Error(1)
}

func (m *mockQueue) RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}
