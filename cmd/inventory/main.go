package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/lavanda-orders/internal/config"
	"github.com/ariefcatur/lavanda-orders/internal/events"
	"github.com/ariefcatur/lavanda-orders/internal/fulfillment"
	kafkax "github.com/ariefcatur/lavanda-orders/internal/kafka"
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
	if cfg.StoreDriver != "postgres" {
		log.Fatalf("inventory worker needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
	}
	service := cfg.ServiceName + "-inventory"
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", service)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: service,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// One producer for stock.reserved and stock.rejected; the topic rides on each message.
	prodCtx, prodCancel := context.WithCancel(context.Background())
	defer prodCancel()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(prodCtx)

	svc := &fulfillment.Service{
		Ledger:      stock.NewService(&stock.PostgresStore{DB: db}, logger),
		Redis:       rdb,
		Producer:    prod,
		ServiceName: service,
		Logger:      logger.With("component", "fulfillment"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, events.TopicOrderStatusChanged, cfg.InventoryWorkers)
		logger.Info("inventory consumer started", "group", cfg.InventoryGroup,
			"topic", events.TopicOrderStatusChanged, "workers", cfg.InventoryWorkers)
		return cons.Start(gctx, svc.HandleStatusChanged)
	})
	if err := g.Wait(); err != nil {
		logger.Error("consumer exit", "err", err)
	}
	logger.Info("shutting down consumer...")
	prod.Close()
	prod.WaitClosed()
}
