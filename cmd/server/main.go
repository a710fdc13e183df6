package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/breaker"
	"github.com/veribits/webhook-delivery/internal/config"
	"github.com/veribits/webhook-delivery/internal/database"
	"github.com/veribits/webhook-delivery/internal/dispatcher"
	"github.com/veribits/webhook-delivery/internal/fanout"
	"github.com/veribits/webhook-delivery/internal/handlers"
	"github.com/veribits/webhook-delivery/internal/ingest"
	"github.com/veribits/webhook-delivery/internal/logger"
	"github.com/veribits/webhook-delivery/internal/rabbitmq"
	"github.com/veribits/webhook-delivery/internal/registry"
	"github.com/veribits/webhook-delivery/internal/retry"
	"github.com/veribits/webhook-delivery/internal/routes"
	pgstore "github.com/veribits/webhook-delivery/internal/store/postgres"
	redisstore "github.com/veribits/webhook-delivery/internal/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis
	redisClient, err := redisstore.Connect(ctx, &cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// RabbitMQ
	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	// Wiring: stores, registry, fan-out, retry chain, dispatcher, ingestion
	pg := pgstore.New(db)
	counters := redisstore.NewCounters(redisClient)

	reg := registry.New(pg, log)
	publisher := fanout.New(reg, pg, log)
	brk := breaker.New(counters, reg, log)
	scheduler := retry.NewScheduler(pg, counters, brk, log)
	client := dispatcher.NewClient(cfg.Dispatcher.HTTPTimeout)

	disp := dispatcher.New(&cfg.Dispatcher, pg, scheduler, client, log)
	if err := disp.Start(ctx); err != nil {
		log.Fatal("Failed to start dispatcher", zap.Error(err))
	}
	defer disp.Stop()

	ingestor := ingest.New(&cfg.RabbitMQ, rmq, publisher, log)
	if err := ingestor.Start(); err != nil {
		log.Fatal("Failed to start event ingestor", zap.Error(err))
	}
	defer ingestor.Stop()

	// HTTP API
	app := fiber.New(fiber.Config{
		AppName:      "VeriBits Webhook Delivery",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	webhookHandler := handlers.NewWebhookHandler(reg, publisher, pg, log)
	healthHandler := handlers.NewHealthHandler(db, redisClient, rmq)
	routes.SetupRoutes(app, webhookHandler, healthHandler)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
