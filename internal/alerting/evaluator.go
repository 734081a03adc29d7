// Package alerting evaluates alert rules against incoming samples and owns
// every alert-state transition. A single evaluator instance per deployment
// holds the sustained-condition map; all transitions (fire, resolve, ack)
// run behind one mutex so firing and resolving stay linearizable per
// (rule, host) even when samples for different hosts arrive concurrently.
package alerting

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"fleetwatch/internal/hub"
	"fleetwatch/internal/models"
)

// Broadcaster is the slice of the hub the evaluator needs.
type Broadcaster interface {
	Publish(event any)
}

var ErrAlertNotFound = errors.New("alert not found")

type Evaluator struct {
	db       *gorm.DB
	hub      Broadcaster
	notifier Notifier
	now      func() time.Time

	mu sync.Mutex
	// sustainedSince tracks when a rule's condition first became true,
	// keyed by "ruleID:hostID". Volatile on purpose: after a restart rules
	// simply re-accumulate sustained time.
	sustainedSince map[string]int64
}

func NewEvaluator(db *gorm.DB, b Broadcaster, n Notifier) *Evaluator {
	return &Evaluator{
		db:             db,
		hub:            b,
		notifier:       n,
		now:            time.Now,
		sustainedSince: make(map[string]int64),
	}
}

func sustainedKey(ruleID uuid.UUID, hostID string) string {
	return ruleID.String() + ":" + hostID
}

// compare applies a rule operator. eq is an exact float comparison — on
// sampled sensor data it is practically never satisfiable, which matches
// the historical behavior; callers who want a band should use gte/lte.
func compare(value float64, op string, threshold float64) bool {
	switch op {
	case models.OpGt:
		return value > threshold
	case models.OpLt:
		return value < threshold
	case models.OpGte:
		return value >= threshold
	case models.OpLte:
		return value <= threshold
	case models.OpEq:
		return value == threshold
	default:
		return false
	}
}

// TouchHost refreshes a host's liveness on sample receipt: last_seen moves
// forward, and the status returns to online unless an alert currently holds
// it at warning or critical.
func (e *Evaluator) TouchHost(hostID string) {
	now := e.now().Unix()

	var host models.Host
	if err := e.db.First(&host, "id = ?", hostID).Error; err != nil {
		return
	}

	status := models.HostOnline
	if host.Status == models.HostCritical || host.Status == models.HostWarning {
		status = host.Status
	}
	e.db.Model(&models.Host{}).Where("id = ?", hostID).
		Updates(map[string]any{"status": status, "last_seen": now})
}

// EvaluateSample runs every enabled rule scoped to the host (or global)
// against one sample. Must be called after the sample has been persisted;
// it always runs to completion for an accepted sample.
func (e *Evaluator) EvaluateSample(hostID string, sample *models.MetricSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rules []models.AlertRule
	if err := e.db.Where("host_id = ? OR host_id IS NULL", hostID).Find(&rules).Error; err != nil {
		slog.Error("Failed to load alert rules", "error", err)
		return
	}

	now := e.now().Unix()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		value, ok := sample.MetricValue(rule.Metric)
		if !ok {
			continue
		}

		key := sustainedKey(rule.ID, hostID)

		if compare(value, rule.Operator, rule.Threshold) {
			if _, tracked := e.sustainedSince[key]; !tracked {
				e.sustainedSince[key] = now
			}
			if now-e.sustainedSince[key] < int64(rule.DurationSeconds) {
				continue // still accumulating
			}

			last, found := e.lastFiredAlert(rule.ID, hostID)

			// Cooldown: an active alert younger than the cooldown window
			// suppresses re-firing. The sustained tracker is deliberately
			// left in place so the rule fires as soon as cooldown expires.
			if found && last.Status == models.AlertActive && now-last.FiredAt < int64(rule.CooldownSeconds) {
				continue
			}

			// Defensive auto-close of a stale firing before opening the new one.
			if found && last.Status == models.AlertActive {
				e.db.Model(&models.Alert{}).Where("id = ?", last.ID).
					Updates(map[string]any{"status": models.AlertResolved, "resolved_at": now})
			}

			e.fire(rule, hostID, value, now)
			delete(e.sustainedSince, key)
		} else {
			delete(e.sustainedSince, key)

			last, found := e.lastFiredAlert(rule.ID, hostID)
			if !found || last.Status != models.AlertActive {
				continue
			}

			e.db.Model(&models.Alert{}).Where("id = ?", last.ID).
				Updates(map[string]any{"status": models.AlertResolved, "resolved_at": now})
			e.hub.Publish(hub.NewAlertResolvedEvent(last.ID, hostID))
			e.recomputeHostStatus(hostID, now)
		}
	}
}

func (e *Evaluator) fire(rule models.AlertRule, hostID string, value float64, now int64) {
	message := fmt.Sprintf("%s %s %g — current value: %.1f",
		rule.Metric, models.OperatorLabel(rule.Operator), rule.Threshold, value)

	ruleID := rule.ID
	alert := models.Alert{
		RuleID:    &ruleID,
		HostID:    hostID,
		Metric:    rule.Metric,
		Value:     value,
		Threshold: rule.Threshold,
		Severity:  rule.Severity,
		Message:   message,
		Status:    models.AlertActive,
		FiredAt:   now,
	}
	if err := e.db.Create(&alert).Error; err != nil {
		slog.Error("Failed to persist alert", "rule", rule.ID, "host", hostID, "error", err)
		return
	}

	slog.Info("Alert fired", "severity", rule.Severity, "host", hostID, "message", message)

	// A firing only ever raises the host status; downgrades happen on
	// resolve. Info alerts never touch the status.
	switch rule.Severity {
	case models.SeverityCritical:
		e.db.Model(&models.Host{}).Where("id = ?", hostID).
			Updates(map[string]any{"status": models.HostCritical, "last_seen": now})
	case models.SeverityWarning:
		e.db.Model(&models.Host{}).Where("id = ? AND status <> ?", hostID, models.HostCritical).
			Updates(map[string]any{"status": models.HostWarning, "last_seen": now})
	}

	hostName := hostID
	var host models.Host
	if err := e.db.First(&host, "id = ?", hostID).Error; err == nil {
		hostName = host.Name
	}

	// Notifier failures must not affect alert state; the notifier logs and
	// swallows its own errors.
	e.notifier.Notify(Notification{
		Alert:    &alert,
		HostName: hostName,
		FiredAt:  time.Unix(now, 0).UTC(),
	})

	e.hub.Publish(hub.NewAlertNewEvent(&alert))
}

// Acknowledge marks an active alert acknowledged. Acknowledged alerts no
// longer drive host status, so it is recomputed here.
func (e *Evaluator) Acknowledge(id uuid.UUID) (*models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var alert models.Alert
	if err := e.db.First(&alert, "id = ?", id).Error; err != nil {
		return nil, ErrAlertNotFound
	}
	if alert.Status == models.AlertResolved {
		return &alert, nil
	}

	now := e.now().Unix()
	alert.Status = models.AlertAcknowledged
	alert.AckAt = &now
	if err := e.db.Save(&alert).Error; err != nil {
		return nil, err
	}

	e.recomputeHostStatus(alert.HostID, now)
	return &alert, nil
}

// Resolve closes an alert by operator action. resolved is terminal; a new
// firing of the same rule/host creates a fresh alert row.
func (e *Evaluator) Resolve(id uuid.UUID) (*models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var alert models.Alert
	if err := e.db.First(&alert, "id = ?", id).Error; err != nil {
		return nil, ErrAlertNotFound
	}
	if alert.Status == models.AlertResolved {
		return &alert, nil
	}

	now := e.now().Unix()
	alert.Status = models.AlertResolved
	alert.ResolvedAt = &now
	if err := e.db.Save(&alert).Error; err != nil {
		return nil, err
	}

	e.hub.Publish(hub.NewAlertResolvedEvent(alert.ID, alert.HostID))
	e.recomputeHostStatus(alert.HostID, now)
	return &alert, nil
}

// lastFiredAlert fetches the most recent alert row for (rule, host),
// regardless of status.
func (e *Evaluator) lastFiredAlert(ruleID uuid.UUID, hostID string) (*models.Alert, bool) {
	var alert models.Alert
	err := e.db.Where("rule_id = ? AND host_id = ?", ruleID, hostID).
		Order("fired_at DESC").First(&alert).Error
	if err != nil {
		return nil, false
	}
	return &alert, true
}

// recomputeHostStatus derives the host status from its remaining active
// alerts: the maximum severity, or online when none are active. Offline
// hosts are left to the heartbeat monitor.
func (e *Evaluator) recomputeHostStatus(hostID string, now int64) {
	var active []models.Alert
	if err := e.db.Where("host_id = ? AND status = ?", hostID, models.AlertActive).Find(&active).Error; err != nil {
		slog.Error("Failed to load active alerts", "host", hostID, "error", err)
		return
	}

	status := models.HostOnline
	rank := -1
	for _, a := range active {
		if r := models.SeverityRank(a.Severity); r > rank {
			rank = r
			switch a.Severity {
			case models.SeverityCritical:
				status = models.HostCritical
			case models.SeverityWarning:
				status = models.HostWarning
			}
		}
	}

	e.db.Model(&models.Host{}).Where("id = ? AND status <> ?", hostID, models.HostOffline).
		Updates(map[string]any{"status": status, "last_seen": now})
}
