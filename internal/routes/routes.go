package routes

import (
	"github.com/gofiber/fiber/v2"

	"fleetwatch/internal/config"
	"fleetwatch/internal/handlers"
	"fleetwatch/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	hostHandler *handlers.HostHandler,
	alertHandler *handlers.AlertHandler,
	systemHandler *handlers.SystemHandler,
	gatewayHandler *handlers.GatewayHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// Ingestion gateway: agents and viewers both connect here.
	app.Use("/ws", gatewayHandler.UpgradeCheck())
	app.Get("/ws", gatewayHandler.Handle())

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	api.Get("/auth/me", authHandler.Me)
	api.Put("/auth/password", authHandler.ChangePassword)

	// Dashboard
	api.Get("/dashboard", systemHandler.Dashboard)

	// Hosts
	api.Get("/hosts", hostHandler.ListHosts)
	api.Get("/hosts/:id", hostHandler.GetHost)
	api.Delete("/hosts/:id", hostHandler.DeleteHost)
	api.Get("/hosts/:id/metrics", hostHandler.GetMetrics)
	api.Get("/hosts/:id/latest", hostHandler.GetLatestMetric)
	api.Get("/hosts/:id/details", hostHandler.GetDetails)
	api.Get("/hosts/:id/logs", hostHandler.GetLogs)

	// Alert Rules
	api.Get("/rules", alertHandler.ListAlertRules)
	api.Post("/rules", alertHandler.CreateAlertRule)
	api.Put("/rules/:id", alertHandler.UpdateAlertRule)
	api.Delete("/rules/:id", alertHandler.DeleteAlertRule)

	// Alerts
	api.Get("/alerts", alertHandler.ListAlerts)
	api.Get("/alerts/active", alertHandler.ListActiveAlerts)
	api.Post("/alerts/:id/acknowledge", alertHandler.AcknowledgeAlert)
	api.Post("/alerts/:id/resolve", alertHandler.ResolveAlert)
}
