package models

import (
	"time"

	"gorm.io/datatypes"
)

// Host statuses.
const (
	HostOnline   = "online"
	HostWarning  = "warning"
	HostCritical = "critical"
	HostOffline  = "offline"
)

// Host is a monitored machine. The ID is chosen by the agent (stable across
// reconnects), so it is a plain string, not a generated UUID.
type Host struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Hostname  string         `json:"hostname"`
	IP        string         `json:"ip"`
	OS        string         `json:"os"`
	Platform  string         `json:"platform"`
	Arch      string         `json:"arch"`
	Status    string         `gorm:"default:'offline'" json:"status"` // online, warning, critical, offline
	LastSeen  int64          `json:"last_seen"`
	Meta      datatypes.JSON `gorm:"default:'{}'" json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}
