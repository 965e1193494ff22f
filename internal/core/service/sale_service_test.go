package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

func newSaleFixture() (*SaleService, *memStore, *memQueue) {
	store := newMemStore()
	store.addProduct("p1", "Coffee", "3.50", 10)
	store.addProduct("p2", "Bagel", "2.25", 5)
	queue := newMemQueue()
	return NewSaleService(store, store, queue, zap.NewNop()), store, queue
}

func line(productID string, qty int, price string) domain.SaleLine {
	return domain.SaleLine{ProductID: productID, Quantity: qty, PriceAtSale: decimal.RequireFromString(price)}
}

func TestCreateSale_Success(t *testing.T) {
	svc, store, queue := newSaleFixture()

	sale, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "cashier-1",
		Items:  []domain.SaleLine{line("p1", 2, "3.50"), line("p2", 3, "2.25")},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.Equal(t, "cash", sale.PaymentMethod)
	assert.True(t, decimal.RequireFromString("13.75").Equal(sale.Total), "total was %s", sale.Total)
	require.Len(t, sale.Items, 2)
	for _, item := range sale.Items {
		assert.Equal(t, sale.ID, item.SaleID)
	}

	// Intake never touches stock.
	assert.Equal(t, 10, store.stock("p1"))
	assert.Equal(t, 5, store.stock("p2"))

	assert.True(t, queue.has("sale-"+sale.ID))
	d, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.JobItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 3}}, d.Job.Items)
}

func TestCreateSale_TotalIsExact(t *testing.T) {
	svc, _, _ := newSaleFixture()

	sale, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("p1", 3, "0.10"), line("p2", 1, "0.20")},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.50", sale.Total.StringFixed(2))
	assert.True(t, decimal.RequireFromString("0.5").Equal(sale.Total))
}

func TestCreateSale_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   domain.SaleRequest
		field string
	}{
		{"missing user", domain.SaleRequest{Items: []domain.SaleLine{line("p1", 1, "1")}}, "userId"},
		{"no items", domain.SaleRequest{UserID: "u"}, "items"},
		{"zero quantity", domain.SaleRequest{UserID: "u", Items: []domain.SaleLine{line("p1", 0, "1")}}, "items[0].quantity"},
		{"negative quantity", domain.SaleRequest{UserID: "u", Items: []domain.SaleLine{line("p1", -2, "1")}}, "items[0].quantity"},
		{"zero price", domain.SaleRequest{UserID: "u", Items: []domain.SaleLine{line("p1", 1, "0")}}, "items[0].priceAtSale"},
		{"three decimals", domain.SaleRequest{UserID: "u", Items: []domain.SaleLine{line("p1", 1, "1.005")}}, "items[0].priceAtSale"},
		{"empty product", domain.SaleRequest{UserID: "u", Items: []domain.SaleLine{line("p1", 1, "1"), line(" ", 1, "1")}}, "items[1].productId"},
		{"long payment method", domain.SaleRequest{UserID: "u", PaymentMethod: "a-very-long-payment-method-name-over-limit", Items: []domain.SaleLine{line("p1", 1, "1")}}, "paymentMethod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, queue := newSaleFixture()

			_, err := svc.CreateSale(context.Background(), tt.req)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Zero(t, store.saleCount())
			assert.Zero(t, queue.enqueued)
		})
	}
}

func TestCreateSale_TrailingZeroPriceAccepted(t *testing.T) {
	svc, _, _ := newSaleFixture()

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("p1", 1, "3.500")},
	})
	assert.NoError(t, err)
}

func TestCreateSale_UnknownProducts(t *testing.T) {
	svc, store, queue := newSaleFixture()

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("ghost-a", 1, "1"), line("p1", 1, "1"), line("ghost-b", 1, "1")},
	})

	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.ResourceProduct, nf.Resource)
	assert.Equal(t, []string{"ghost-a", "ghost-b"}, nf.IDs)
	assert.Zero(t, store.saleCount())
	assert.Zero(t, queue.enqueued)
}

func TestCreateSale_InsufficientStockSumsRepeatedLines(t *testing.T) {
	svc, store, queue := newSaleFixture()

	// 3 + 3 of a product with 5 in stock: each line fits, together they do not.
	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("p2", 3, "2.25"), line("p2", 3, "2.25")},
	})

	var ise *domain.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "p2", ise.ProductID)
	assert.Equal(t, "Bagel", ise.ProductName)
	assert.Equal(t, 5, ise.Available)
	assert.Equal(t, 6, ise.Requested)
	assert.Zero(t, store.saleCount())
	assert.Zero(t, queue.enqueued)
}

func TestCreateSale_EnqueueFailureRemovesSale(t *testing.T) {
	svc, store, queue := newSaleFixture()
	queue.enqueueErr = errors.New("redis: connection refused")

	sale, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("p1", 1, "3.50")},
	})

	assert.Nil(t, sale)
	assert.ErrorIs(t, err, domain.ErrServiceBusy)
	assert.Zero(t, store.saleCount())
	assert.Equal(t, 10, store.stock("p1"))
}

func TestCreateSale_FailedCompensationFailsSale(t *testing.T) {
	svc, store, queue := newSaleFixture()
	queue.enqueueErr = errors.New("redis down")
	store.deleteSaleErr = errors.New("lock wait timeout exceeded")

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("p1", 4, "3.50")},
	})
	require.ErrorIs(t, err, domain.ErrServiceBusy)

	require.Equal(t, 1, store.saleCount())
	var saleID string
	for id := range store.sales {
		saleID = id
	}
	assert.Equal(t, domain.SaleStatusFailed, store.saleStatus(saleID))

	// Once the queue is back, the sweep must leave the rejected sale alone.
	queue.enqueueErr = nil
	r := NewReconciler(store, queue, ReconcilerConfig{StaleAfter: time.Minute}, zap.NewNop())
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Zero(t, queue.enqueued)
	assert.Equal(t, 10, store.stock("p1"))
}

func TestCreateSale_StoreFailureSkipsEnqueue(t *testing.T) {
	svc, store, queue := newSaleFixture()
	store.createSaleErr = errors.New("deadlock found")

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("p1", 1, "3.50")},
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrServiceBusy)
	assert.Zero(t, queue.enqueued)
}

func TestGetSale(t *testing.T) {
	svc, _, _ := newSaleFixture()
	created, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		UserID: "u",
		Items:  []domain.SaleLine{line("p1", 1, "3.50")},
	})
	require.NoError(t, err)

	got, err := svc.GetSale(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.GetSale(context.Background(), "nope")
	assert.True(t, domain.IsNotFound(err, domain.ResourceSale))
}

func TestListSales_RejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newSaleFixture()

	_, err := svc.ListSales(context.Background(), domain.SaleFilter{Status: "SHIPPED"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListSales_FiltersByUser(t *testing.T) {
	svc, _, _ := newSaleFixture()
	for _, user := range []string{"alice", "bob", "alice"} {
		_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
			UserID: user,
			Items:  []domain.SaleLine{line("p1", 1, "3.50")},
		})
		require.NoError(t, err)
	}

	sales, err := svc.ListSales(context.Background(), domain.SaleFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, sales, 2)
}
