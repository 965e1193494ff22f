package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/pos-settlement/internal/adapter/handler"
	"github.com/rl1809/pos-settlement/internal/adapter/storage"
	"github.com/rl1809/pos-settlement/internal/config"
	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/core/service"
	"github.com/rl1809/pos-settlement/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Logger, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := storage.OpenMySQL(ctx, cfg.MySQL)
	if err != nil {
		return err
	}
	defer db.Close()
	lg.Info("connected to mysql")

	// Initialize Redis
	rdb, err := storage.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	lg.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db)
	productCache := storage.NewRedisAdapter(rdb, cfg.Cache.ProductsTTL)
	queue := storage.NewRedisQueue(rdb, cfg.Queue.Name, cfg.Queue.KeepFailed)

	// Initialize services
	saleService := service.NewSaleService(mysqlAdapter, mysqlAdapter, queue, lg)
	productService := service.NewProductService(mysqlAdapter, productCache, lg)
	settler := service.NewSettler(mysqlAdapter, productCache, lg)

	// Start worker pool
	pool := service.NewPool(queue, settler, service.PoolConfig{
		Concurrency:  cfg.Queue.Concurrency,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		JobTimeout:   cfg.Queue.JobTimeout,
		PollInterval: cfg.Queue.PollInterval,
		StalledAfter: cfg.Queue.StalledAfter,
	}, lg.Named("worker"))

	outcomes := make(chan domain.JobOutcome, cfg.Queue.Concurrency*4)
	pool.NotifyOutcomes(outcomes)
	go logOutcomes(outcomes, lg.Named("jobs"))

	if err := pool.Start(ctx); err != nil {
		return err
	}

	var reconciler *service.Reconciler
	if cfg.Reconciler.Enabled {
		reconciler = service.NewReconciler(mysqlAdapter, queue, service.ReconcilerConfig{
			Schedule:   cfg.Reconciler.Schedule,
			StaleAfter: cfg.Reconciler.StaleAfter,
			BatchSize:  cfg.Reconciler.BatchSize,
		}, lg.Named("reconciler"))
		if err := reconciler.Start(ctx); err != nil {
			return err
		}
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterSaleServiceServer(grpcServer, handler.NewGRPCHandler(saleService, lg))

	lis, err := net.Listen("tcp", cfg.Server.GRPCPort)
	if err != nil {
		return err
	}

	go func() {
		lg.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			lg.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(saleService, productService, queue, lg)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPPort,
		Handler: httpHandler.Router(),
	}

	go func() {
		lg.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			lg.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("HTTP shutdown", zap.Error(err))
	}
	lg.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	lg.Info("gRPC server stopped")

	if reconciler != nil {
		reconciler.Stop()
	}

	// Stop claiming jobs and let in-flight ones finish
	cancel()
	pool.Wait()
	close(outcomes)
	lg.Info("workers stopped")

	return nil
}

// logOutcomes is the lifecycle observer for settled and failed sales.
func logOutcomes(outcomes <-chan domain.JobOutcome, lg *zap.Logger) {
	for o := range outcomes {
		fields := []zap.Field{
			zap.String("job_id", o.JobID),
			zap.String("sale_id", o.SaleID),
			zap.Int("attempt", o.Attempt),
		}
		if o.Result.Err != nil {
			fields = append(fields, zap.Error(o.Result.Err))
		}

		switch {
		case o.Result.Kind == domain.JobSucceeded:
			lg.Info("job completed", fields...)
		case o.Result.Kind == domain.JobSkipped:
			lg.Debug("job skipped", fields...)
		case o.DeadLettered:
			lg.Error("job failed", fields...)
		default:
			lg.Warn("job will be retried", append(fields, zap.Duration("retry_in", o.RetryIn))...)
		}
	}
}
