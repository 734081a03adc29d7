package handlers

import (
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"fleetwatch/internal/models"
	"fleetwatch/internal/registry"
	"fleetwatch/internal/store"
)

type HostHandler struct {
	db       *gorm.DB
	metrics  *store.Metrics
	registry *registry.Registry
}

func NewHostHandler(db *gorm.DB, metrics *store.Metrics, reg *registry.Registry) *HostHandler {
	return &HostHandler{db: db, metrics: metrics, registry: reg}
}

// ListHosts returns all known hosts ordered by name.
func (h *HostHandler) ListHosts(c *fiber.Ctx) error {
	var hosts []models.Host
	if err := h.db.Order("name").Find(&hosts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list hosts",
		})
	}
	return c.JSON(hosts)
}

func (h *HostHandler) GetHost(c *fiber.Ctx) error {
	var host models.Host
	if err := h.db.First(&host, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Host not found",
		})
	}
	return c.JSON(host)
}

// DeleteHost removes a host by explicit operator action. Metric rows for it
// age out through retention.
func (h *HostHandler) DeleteHost(c *fiber.Ctx) error {
	if err := h.db.Delete(&models.Host{}, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete host",
		})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// GetMetrics returns samples within ?from/?to (unix seconds), defaulting to
// the last hour.
func (h *HostHandler) GetMetrics(c *fiber.Ctx) error {
	now := time.Now().Unix()
	from := int64(c.QueryInt("from", int(now-3600)))
	to := int64(c.QueryInt("to", int(now)))

	samples, err := h.metrics.Range(c.Params("id"), from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to query metrics",
		})
	}
	return c.JSON(samples)
}

func (h *HostHandler) GetLatestMetric(c *fiber.Ctx) error {
	sample, ok := h.metrics.Latest(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "No metrics yet",
		})
	}
	return c.JSON(sample)
}

// GetDetails serves the cached live detail snapshot; an unknown host gets an
// empty object rather than an error.
func (h *HostHandler) GetDetails(c *fiber.Ctx) error {
	raw, ok := h.registry.Details(c.Params("id"))
	if !ok {
		return c.JSON(fiber.Map{})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}

// GetLogs serves the in-memory log ring, optionally filtered by level.
func (h *HostHandler) GetLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 200)
	level := c.Query("level")

	entries := h.registry.LogTail(c.Params("id"), math.MaxInt)
	if level != "" {
		filtered := make([]models.LogEntry, 0, len(entries))
		for _, e := range entries {
			if e.Level == level {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return c.JSON(entries)
}
