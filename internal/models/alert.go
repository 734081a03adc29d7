package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Severities, ordered info < warning < critical.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert statuses.
const (
	AlertActive       = "active"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
)

// Comparison operators for alert rules.
const (
	OpGt  = "gt"
	OpLt  = "lt"
	OpGte = "gte"
	OpLte = "lte"
	OpEq  = "eq"
)

type AlertRule struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	HostID          *string        `gorm:"index" json:"host_id"` // nil = applies to all hosts
	Metric          string         `gorm:"not null" json:"metric"`
	Operator        string         `gorm:"not null;default:'gt'" json:"operator"` // gt, lt, gte, lte, eq
	Threshold       float64        `gorm:"not null" json:"threshold"`
	DurationSeconds int            `gorm:"default:0" json:"duration_s"` // sustained duration before firing
	Severity        string         `gorm:"default:'warning'" json:"severity"`
	Enabled         bool           `gorm:"default:true" json:"enabled"`
	CooldownSeconds int            `gorm:"default:300" json:"cooldown_s"`
	CreatedAt       time.Time      `json:"created_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Alert is one firing of a rule on a host. Rows are never deleted; they are
// the audit trail. RuleID is nullable because rules can be deleted later.
type Alert struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RuleID     *uuid.UUID `gorm:"type:uuid;index" json:"rule_id"`
	HostID     string     `gorm:"not null;index:idx_alerts_host_fired" json:"host_id"`
	Metric     string     `gorm:"not null" json:"metric"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Status     string     `gorm:"not null;default:'active'" json:"status"` // active, acknowledged, resolved
	FiredAt    int64      `gorm:"not null;index:idx_alerts_host_fired" json:"fired_at"`
	ResolvedAt *int64     `json:"resolved_at"`
	AckAt      *int64     `json:"ack_at"`
}

// IDs are generated app-side so the schema stays portable across drivers.
func (r *AlertRule) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (a *Alert) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// SeverityRank orders severities for host-status derivation.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// OperatorLabel maps a rule operator to its display symbol.
func OperatorLabel(op string) string {
	switch op {
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	case OpEq:
		return "=="
	default:
		return op
	}
}

// ValidOperator reports whether op is a supported comparison.
func ValidOperator(op string) bool {
	switch op {
	case OpGt, OpLt, OpGte, OpLte, OpEq:
		return true
	}
	return false
}
