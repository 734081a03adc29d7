package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"fleetwatch/internal/alerting"
	"fleetwatch/internal/models"
)

// AlertHandler is the management surface for rules and alerts. Rule CRUD is
// plain persistence; acknowledge/resolve go through the evaluator so host
// status stays consistent with the active-alert set.
type AlertHandler struct {
	db        *gorm.DB
	evaluator *alerting.Evaluator
}

func NewAlertHandler(db *gorm.DB, ev *alerting.Evaluator) *AlertHandler {
	return &AlertHandler{db: db, evaluator: ev}
}

// ListAlertRules returns all alert rules.
func (h *AlertHandler) ListAlertRules(c *fiber.Ctx) error {
	var rules []models.AlertRule
	if err := h.db.Order("created_at DESC").Find(&rules).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list alert rules",
		})
	}
	return c.JSON(fiber.Map{"rules": rules})
}

type ruleRequest struct {
	HostID          *string  `json:"host_id"`
	Metric          string   `json:"metric"`
	Operator        string   `json:"operator"`
	Threshold       *float64 `json:"threshold"`
	DurationSeconds int      `json:"duration_s"`
	Severity        string   `json:"severity"`
	Enabled         *bool    `json:"enabled"`
	CooldownSeconds int      `json:"cooldown_s"`
}

// CreateAlertRule creates a new alert rule.
func (h *AlertHandler) CreateAlertRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if req.Metric == "" || req.Operator == "" || req.Threshold == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "metric, operator, and threshold are required",
		})
	}
	if !models.ValidOperator(req.Operator) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid operator. Must be: gt, lt, gte, lte, eq",
		})
	}

	rule := models.AlertRule{
		HostID:          req.HostID,
		Metric:          req.Metric,
		Operator:        req.Operator,
		Threshold:       *req.Threshold,
		DurationSeconds: req.DurationSeconds,
		Severity:        models.SeverityWarning,
		Enabled:         true,
		CooldownSeconds: 300,
	}
	if req.Severity != "" {
		rule.Severity = req.Severity
	}
	if req.CooldownSeconds > 0 {
		rule.CooldownSeconds = req.CooldownSeconds
	}

	if err := h.db.Create(&rule).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create alert rule",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

// UpdateAlertRule replaces the tunable fields of a rule.
func (h *AlertHandler) UpdateAlertRule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid rule ID",
		})
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if req.Operator != "" && !models.ValidOperator(req.Operator) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid operator. Must be: gt, lt, gte, lte, eq",
		})
	}

	var rule models.AlertRule
	if err := h.db.First(&rule, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Alert rule not found",
		})
	}

	if req.Metric != "" {
		rule.Metric = req.Metric
	}
	if req.Operator != "" {
		rule.Operator = req.Operator
	}
	if req.Threshold != nil {
		rule.Threshold = *req.Threshold
	}
	if req.Severity != "" {
		rule.Severity = req.Severity
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	rule.DurationSeconds = req.DurationSeconds
	if req.CooldownSeconds > 0 {
		rule.CooldownSeconds = req.CooldownSeconds
	}

	if err := h.db.Save(&rule).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update alert rule",
		})
	}
	return c.JSON(rule)
}

// DeleteAlertRule soft-deletes an alert rule. Alerts it fired keep their
// rule_id on purpose; they are the audit trail.
func (h *AlertHandler) DeleteAlertRule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid rule ID",
		})
	}

	if err := h.db.Delete(&models.AlertRule{}, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete alert rule",
		})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ListAlerts returns alerts newest first, optionally filtered by status.
func (h *AlertHandler) ListAlerts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	status := c.Query("status")

	query := h.db.Order("fired_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var alerts []models.Alert
	if err := query.Find(&alerts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list alerts",
		})
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}

// ListActiveAlerts returns only currently active alerts.
func (h *AlertHandler) ListActiveAlerts(c *fiber.Ctx) error {
	var alerts []models.Alert
	if err := h.db.Where("status = ?", models.AlertActive).
		Order("fired_at DESC").Find(&alerts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list active alerts",
		})
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}

// AcknowledgeAlert marks an alert acknowledged on operator action.
func (h *AlertHandler) AcknowledgeAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid alert ID",
		})
	}

	alert, err := h.evaluator.Acknowledge(id)
	if err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Alert not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to acknowledge alert",
		})
	}
	return c.JSON(fiber.Map{"message": "Alert acknowledged", "alert": alert})
}

// ResolveAlert closes an alert on operator action.
func (h *AlertHandler) ResolveAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid alert ID",
		})
	}

	alert, err := h.evaluator.Resolve(id)
	if err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Alert not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to resolve alert",
		})
	}
	return c.JSON(fiber.Map{"message": "Alert resolved", "alert": alert})
}
