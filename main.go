package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"concert-tickets/internal/admin"
	"concert-tickets/internal/cache"
	"concert-tickets/internal/catalog"
	catalogdb "concert-tickets/internal/catalog/db"
	"concert-tickets/internal/config"
	"concert-tickets/internal/database/migrations"
	"concert-tickets/internal/issuance"
	"concert-tickets/internal/kafka"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/notify"
	"concert-tickets/internal/order"
	orderdb "concert-tickets/internal/order/db"
	"concert-tickets/internal/order/order_api"
	"concert-tickets/internal/payment"
	ticketdb "concert-tickets/internal/tickets/db"
	tickets "concert-tickets/internal/tickets/service"
)

const dbConnectRetries = 5

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error

	for i := 0; i < dbConnectRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, dbConnectRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < dbConnectRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", dbConnectRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Addr))
	return client
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting ticket shop initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx := context.Background()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.Options{
			MigrationsDir: cfg.Database.MigrationsDir,
			SeedData:      cfg.Database.SeedData,
		}, log)
		if err := runner.Run(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	var orderEvents order.EventPublisher
	var issuanceEvents issuance.EventPublisher
	var redeemEvents tickets.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		defer producer.Close()

		required := []string{cfg.Kafka.Topics.OrderCreated, cfg.Kafka.Topics.OrderPaid, cfg.Kafka.Topics.TicketRedeemed}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, required); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		orderEvents, issuanceEvents, redeemEvents = producer, producer, producer
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	stripeGateway, err := payment.NewStripe(cfg.Stripe, cfg.AppURL, log)
	if err != nil {
		log.Fatal("PAYMENT", fmt.Sprintf("Stripe init failed: %v", err))
	}

	catalogStore := &catalogdb.DB{Bun: bunDB}
	orderStore := &orderdb.DB{Bun: bunDB}
	ticketStore := &ticketdb.DB{Bun: bunDB}

	snapshotCache := cache.NewCache(redisClient, cfg.Redis.CacheTTL, log)
	mailer := notify.NewMailer(cfg.Email, cfg.AppURL, log)

	catalogService := catalog.NewService(catalogStore, snapshotCache, log)
	ticketService := tickets.NewService(ticketStore, redeemEvents, log)
	orderService := order.NewService(orderStore, catalogStore, stripeGateway, orderEvents, ticketStore, log)
	issuanceService := issuance.NewService(bunDB, orderStore, catalogStore, ticketStore,
		mailer, issuanceEvents, catalogService, log)

	apiHandler := &order_api.Handler{
		Orders:   orderService,
		Issuance: issuanceService,
		Catalog:  catalogService,
		Payments: stripeGateway,
		Tickets:  ticketService,
		Logger:   log,
	}

	adminHandler := admin.NewHandler(cfg.Admin, issuanceService, ticketService, catalogService, orderStore, log)

	log.Info("HTTP", "Setting up router")
	r := chi.NewRouter()

	r.Get("/api/tickets", apiHandler.GetCategories)
	r.Get("/api/tickets/{code}/qr", apiHandler.TicketQR)
	r.Post("/api/orders", apiHandler.CreateOrder)
	r.Get("/api/orders/{orderId}", apiHandler.GetOrder)
	r.Post("/api/orders/confirm", apiHandler.ConfirmOrder)
	r.Post("/api/webhook", apiHandler.StripeWebhook)
	log.Info("ROUTER", "Public storefront routes registered under /api")

	// The admin surface is a gin engine registered with its full path, so
	// chi passes requests through unmodified.
	r.Handle("/api/admin/*", adminHandler.Engine())
	log.Info("ROUTER", "Admin routes registered under /api/admin")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticket shop running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	}
	log.Info("APP", "Shutdown complete")
}
