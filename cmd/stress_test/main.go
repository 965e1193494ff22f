package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/adapter/storage"
	"github.com/rl1809/pos-settlement/internal/config"
	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/core/service"
)

func main() {
	initialStock := flag.Int("stock", 20, "stock of the seeded product")
	totalRequests := flag.Int("requests", 50, "concurrent sales to submit")
	quantity := flag.Int("quantity", 1, "units per sale")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx := context.Background()

	db, err := storage.OpenMySQL(ctx, cfg.MySQL)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()

	rdb, err := storage.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	lg := zap.NewNop()
	mysqlAdapter := storage.NewMySQLAdapter(db)
	cache := storage.NewRedisAdapter(rdb, cfg.Cache.ProductsTTL)
	queue := storage.NewRedisQueue(rdb, "stress-"+uuid.NewString()[:8], cfg.Queue.KeepFailed)

	products := service.NewProductService(mysqlAdapter, cache, lg)
	sales := service.NewSaleService(mysqlAdapter, mysqlAdapter, queue, lg)

	product := &domain.Product{
		Name:     "Stress item",
		SKU:      "STRESS-" + uuid.NewString()[:8],
		Price:    decimal.RequireFromString("1.00"),
		Stock:    *initialStock,
		IsActive: true,
	}
	if err := products.CreateProduct(ctx, product); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	// Intake never decrements, so every sale passes the advisory check.
	// Workers start only afterwards and must resolve the oversubscription.
	var (
		accepted atomic.Int32
		rejected atomic.Int32
		wg       sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := sales.CreateSale(ctx, domain.SaleRequest{
				UserID: fmt.Sprintf("cashier-%d", n%5),
				Items:  []domain.SaleLine{{ProductID: product.ID, Quantity: *quantity, PriceAtSale: product.Price}},
			})
			if err == nil {
				accepted.Add(1)
			} else {
				rejected.Add(1)
			}
		}(i)
	}
	wg.Wait()
	intake := time.Since(start)

	pool := service.NewPool(queue, service.NewSettler(mysqlAdapter, cache, lg), service.PoolConfig{
		Concurrency:  cfg.Queue.Concurrency,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		JobTimeout:   cfg.Queue.JobTimeout,
		PollInterval: 10 * time.Millisecond,
		StalledAfter: cfg.Queue.StalledAfter,
	}, lg)
	outcomes := make(chan domain.JobOutcome, *totalRequests)
	pool.NotifyOutcomes(outcomes)

	workerCtx, stop := context.WithCancel(ctx)
	if err := pool.Start(workerCtx); err != nil {
		log.Fatalf("failed to start workers: %v", err)
	}

	var completed, failed int
	deadline := time.After(2 * time.Minute)
	for completed+failed < int(accepted.Load()) {
		select {
		case o := <-outcomes:
			switch {
			case o.Result.Kind == domain.JobSucceeded:
				completed++
			case o.DeadLettered:
				failed++
			}
		case <-deadline:
			stop()
			log.Fatalf("timed out: %d completed, %d failed of %d", completed, failed, accepted.Load())
		}
	}
	stop()
	pool.Wait()
	settle := time.Since(start)

	final, err := products.GetProduct(ctx, product.ID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Accepted:         %d\n", accepted.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Completed:        %d\n", completed)
	fmt.Printf("Failed:           %d\n", failed)
	fmt.Printf("Intake Duration:  %v\n", intake)
	fmt.Printf("Total Duration:   %v\n", settle)
	fmt.Printf("Final Stock:      %d\n", final.Stock)
	fmt.Println("==========================================")

	ok := true
	if final.Stock < 0 {
		fmt.Printf("FAIL: stock went negative: %d\n", final.Stock)
		ok = false
	}
	if want := *initialStock - completed*(*quantity); final.Stock != want {
		fmt.Printf("FAIL: expected stock %d, got %d\n", want, final.Stock)
		ok = false
	}
	if maxSales := *initialStock / *quantity; completed > maxSales {
		fmt.Printf("FAIL: %d sales completed, at most %d possible\n", completed, maxSales)
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("PASS: no oversell, stock matches completed sales")
}
