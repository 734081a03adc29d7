package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"fleetwatch/internal/alerting"
	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/handlers"
	"fleetwatch/internal/hub"
	"fleetwatch/internal/registry"
	"fleetwatch/internal/routes"
	"fleetwatch/internal/services"
	"fleetwatch/internal/store"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting FleetWatch", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg); err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	db := database.DB

	if err := database.SeedDefaultRules(db); err != nil {
		slog.Error("Default rule seeding failed", "error", err)
		os.Exit(1)
	}

	// ─── Core pipeline ──────────────────────────────────────────────────
	metrics := store.NewMetrics(db)
	broadcastHub := hub.New()
	connRegistry := registry.New(cfg.LogRingCapacity, cfg.DetailsMaxBytes)

	var notifier alerting.Notifier = alerting.NopNotifier{}
	if cfg.SMTPHost != "" || cfg.WebhookURL != "" {
		notifier = alerting.NewDispatcher(cfg)
	}
	evaluator := alerting.NewEvaluator(db, broadcastHub, notifier)

	// ─── Background services ────────────────────────────────────────────
	heartbeat := services.NewHeartbeatMonitor(db, broadcastHub,
		time.Duration(cfg.HeartbeatInterval)*time.Second,
		time.Duration(cfg.HeartbeatTimeout)*time.Second)
	heartbeat.Start()

	pruner := services.NewRetentionPruner(metrics, cfg.RetentionDays)
	pruner.Start()

	// ─── Handlers ───────────────────────────────────────────────────────
	authHandler := handlers.NewAuthHandler(cfg)
	hostHandler := handlers.NewHostHandler(db, metrics, connRegistry)
	alertHandler := handlers.NewAlertHandler(db, evaluator)
	systemHandler := handlers.NewSystemHandler(db, metrics, connRegistry, broadcastHub)
	gatewayHandler := handlers.NewGatewayHandler(db, metrics, connRegistry, broadcastHub, evaluator)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "fleetwatch v" + handlers.Version,
		ServerHeader: "fleetwatch",
		BodyLimit:    2 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, hostHandler, alertHandler, systemHandler, gatewayHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down FleetWatch...")

		heartbeat.Stop()
		pruner.Stop()

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("FleetWatch listening", "addr", listenAddr, "ws", "/ws")

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
