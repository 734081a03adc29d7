package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"fleetwatch/internal/hub"
	"fleetwatch/internal/models"
	"fleetwatch/internal/registry"
	"fleetwatch/internal/store"
)

var startTime = time.Now()
var Version = "2.0.0"

type SystemHandler struct {
	db       *gorm.DB
	metrics  *store.Metrics
	registry *registry.Registry
	hub      *hub.Hub
}

func NewSystemHandler(db *gorm.DB, metrics *store.Metrics, reg *registry.Registry, h *hub.Hub) *SystemHandler {
	return &SystemHandler{db: db, metrics: metrics, registry: reg, hub: h}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "fleetwatch",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
		"agents":  h.registry.AgentCount(),
		"viewers": h.hub.Count(),
	})
}

type hostWithLatest struct {
	models.Host
	LatestMetric *models.MetricSample `json:"latest_metric"`
}

// Dashboard returns the fleet summary: host counts by status, active alert
// counts, and each host with its latest sample. Viewers poll this to recover
// anything the best-effort live stream dropped.
func (h *SystemHandler) Dashboard(c *fiber.Ctx) error {
	var hosts []models.Host
	if err := h.db.Order("name").Find(&hosts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load hosts",
		})
	}

	var activeAlerts []models.Alert
	if err := h.db.Where("status = ?", models.AlertActive).Find(&activeAlerts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load active alerts",
		})
	}

	counts := map[string]int{}
	enriched := make([]hostWithLatest, 0, len(hosts))
	for _, host := range hosts {
		counts[host.Status]++
		entry := hostWithLatest{Host: host}
		if sample, ok := h.metrics.Latest(host.ID); ok {
			entry.LatestMetric = sample
		}
		enriched = append(enriched, entry)
	}

	criticalAlerts := 0
	for _, a := range activeAlerts {
		if a.Severity == models.SeverityCritical {
			criticalAlerts++
		}
	}

	return c.JSON(fiber.Map{
		"total_hosts":     len(hosts),
		"online":          counts[models.HostOnline],
		"warning":         counts[models.HostWarning],
		"critical":        counts[models.HostCritical],
		"offline":         counts[models.HostOffline],
		"active_alerts":   len(activeAlerts),
		"critical_alerts": criticalAlerts,
		"hosts":           enriched,
	})
}
