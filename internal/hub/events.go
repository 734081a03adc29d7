package hub

import (
	"github.com/google/uuid"

	"fleetwatch/internal/models"
)

// Wire event types pushed to viewers.
const (
	EventMetric       = "metric"
	EventDetails      = "details"
	EventLog          = "log"
	EventLogsSnapshot = "logs:snapshot"
	EventHostOnline   = "server:online"
	EventHostOffline  = "server:offline"
	EventAlertNew     = "alert:new"
	EventAlertOK      = "alert:resolved"
	EventInit         = "init"
)

// MetricEvent carries one live sample. Data is the canonical sample plus
// passthrough extras the gateway copies straight from the agent payload.
type MetricEvent struct {
	Type   string         `json:"type"`
	HostID string         `json:"hostId"`
	Data   map[string]any `json:"data"`
}

func NewMetricEvent(hostID string, data map[string]any) MetricEvent {
	return MetricEvent{Type: EventMetric, HostID: hostID, Data: data}
}

// DetailsEvent relays an opaque detail snapshot verbatim.
type DetailsEvent struct {
	Type   string `json:"type"`
	HostID string `json:"hostId"`
	Data   any    `json:"data"`
}

func NewDetailsEvent(hostID string, data any) DetailsEvent {
	return DetailsEvent{Type: EventDetails, HostID: hostID, Data: data}
}

type LogEvent struct {
	Type   string          `json:"type"`
	HostID string          `json:"hostId"`
	Entry  models.LogEntry `json:"entry"`
}

func NewLogEvent(hostID string, entry models.LogEntry) LogEvent {
	return LogEvent{Type: EventLog, HostID: hostID, Entry: entry}
}

// LogsSnapshotEvent is sent to a single viewer on subscribe, never broadcast.
type LogsSnapshotEvent struct {
	Type    string            `json:"type"`
	HostID  string            `json:"hostId"`
	Entries []models.LogEntry `json:"entries"`
}

func NewLogsSnapshotEvent(hostID string, entries []models.LogEntry) LogsSnapshotEvent {
	return LogsSnapshotEvent{Type: EventLogsSnapshot, HostID: hostID, Entries: entries}
}

type HostOnlineEvent struct {
	Type   string       `json:"type"`
	HostID string       `json:"hostId"`
	Host   *models.Host `json:"host,omitempty"`
}

func NewHostOnlineEvent(host *models.Host) HostOnlineEvent {
	return HostOnlineEvent{Type: EventHostOnline, HostID: host.ID, Host: host}
}

type HostOfflineEvent struct {
	Type   string `json:"type"`
	HostID string `json:"hostId"`
}

func NewHostOfflineEvent(hostID string) HostOfflineEvent {
	return HostOfflineEvent{Type: EventHostOffline, HostID: hostID}
}

type AlertNewEvent struct {
	Type  string        `json:"type"`
	Alert *models.Alert `json:"alert"`
}

func NewAlertNewEvent(alert *models.Alert) AlertNewEvent {
	return AlertNewEvent{Type: EventAlertNew, Alert: alert}
}

type AlertResolvedEvent struct {
	Type    string    `json:"type"`
	AlertID uuid.UUID `json:"alertId"`
	HostID  string    `json:"hostId"`
}

func NewAlertResolvedEvent(alertID uuid.UUID, hostID string) AlertResolvedEvent {
	return AlertResolvedEvent{Type: EventAlertOK, AlertID: alertID, HostID: hostID}
}

// InitEvent greets a newly classified viewer with the current agent roster.
type InitEvent struct {
	Type           string   `json:"type"`
	ServerCount    int      `json:"serverCount"`
	ConnectedHosts []string `json:"connectedHosts"`
}

func NewInitEvent(hostIDs []string) InitEvent {
	return InitEvent{Type: EventInit, ServerCount: len(hostIDs), ConnectedHosts: hostIDs}
}
