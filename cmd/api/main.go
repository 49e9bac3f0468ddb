package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/catalog"
	"github.com/ariefcatur/lavanda-orders/internal/config"
	"github.com/ariefcatur/lavanda-orders/internal/events"
	"github.com/ariefcatur/lavanda-orders/internal/freshness"
	"github.com/ariefcatur/lavanda-orders/internal/fulfillment"
	"github.com/ariefcatur/lavanda-orders/internal/httpx"
	kafkax "github.com/ariefcatur/lavanda-orders/internal/kafka"
	"github.com/ariefcatur/lavanda-orders/internal/orders"
	"github.com/ariefcatur/lavanda-orders/internal/postgres"
	"github.com/ariefcatur/lavanda-orders/internal/redisx"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/ariefcatur/lavanda-orders/internal/telemetry"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Stores
	var (
		stockStore stock.Store
		orderStore orders.Store
		batchStore freshness.Store
	)
	switch cfg.StoreDriver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("db migrate: %v", err)
		}
		stockStore = &stock.PostgresStore{DB: db}
		orderStore = &orders.PostgresStore{DB: db}
		batchStore = &freshness.PostgresStore{DB: db}
	default:
		logger.Warn("using in-memory stores; data is lost on restart")
		stockStore = stock.NewMemoryStore()
		orderStore = orders.NewMemoryStore()
		batchStore = freshness.NewMemoryStore()
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer outlives the HTTP server so late publishes still flush.
	prodCtx, prodCancel := context.WithCancel(context.Background())
	defer prodCancel()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(prodCtx)

	// Services
	stockSvc := stock.NewService(stockStore, logger)
	cat := &catalog.Catalog{Source: stockSvc, Redis: rdb, Logger: logger.With("component", "catalog")}
	orderSvc := &orders.Service{
		Store:       orderStore,
		Catalog:     cat,
		Producer:    prod,
		Cache:       &orders.Cache{Redis: rdb},
		ServiceName: cfg.ServiceName,
		Logger:      logger.With("component", "orders"),
		Now:         time.Now,
	}
	freshSvc := &freshness.Service{Store: batchStore, Items: stockSvc, Logger: logger.With("component", "freshness")}
	sweeper := &freshness.Sweeper{
		Service:     freshSvc,
		Interval:    cfg.SweepInterval,
		Publisher:   prod,
		ServiceName: cfg.ServiceName,
		Logger:      logger.With("component", "sweeper"),
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpx.NewHandler(cfg.ServiceName,
			&httpx.OrdersHandler{Service: orderSvc},
			&httpx.StockHandler{Service: stockSvc, Catalog: cat, Batches: freshSvc},
			&httpx.FreshnessHandler{Service: freshSvc, RetentionDays: cfg.RetentionDays},
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.OrdersGroup, events.TopicStockRejected, 2)
		return cons.Start(gctx, orderSvc.HandleStockRejected)
	})
	if cfg.StoreDriver == "memory" {
		// Single-process mode: the ledger lives here, so follow the order lifecycle in-process.
		ful := &fulfillment.Service{
			Ledger:      stockSvc,
			Redis:       rdb,
			Producer:    prod,
			ServiceName: cfg.ServiceName + "-inventory",
			Logger:      logger.With("component", "fulfillment"),
		}
		g.Go(func() error {
			cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, events.TopicOrderStatusChanged, cfg.InventoryWorkers)
			return cons.Start(gctx, ful.HandleStatusChanged)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("exit", "err", err)
	}
	prod.Close()      // stop accepting; the loop flushes and closes the writer
	prod.WaitClosed() // drain
}
