package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetwatch/internal/alerting"
	"fleetwatch/internal/hub"
	"fleetwatch/internal/models"
	"fleetwatch/internal/registry"
	"fleetwatch/internal/store"
)

// Agent payload fields broadcast to viewers without being persisted.
var metricPassthrough = []string{
	"cpu_cores", "mem_available", "mem_swap_total", "mem_swap_used",
	"battery_pct", "battery_charging",
}

const logSubscribeTail = 200

// inboundMessage is the envelope for every frame on /ws, agent or viewer.
// Only Type is always present; the rest depends on the message.
type inboundMessage struct {
	Type    string            `json:"type"`
	Host    *hostDescriptor   `json:"host,omitempty"`
	HostID  string            `json:"hostId,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Entry   *models.LogEntry  `json:"entry,omitempty"`
	Entries []models.LogEntry `json:"entries,omitempty"`
}

type hostDescriptor struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Hostname string         `json:"hostname"`
	IP       string         `json:"ip"`
	OS       string         `json:"os"`
	Platform string         `json:"platform"`
	Arch     string         `json:"arch"`
	Meta     map[string]any `json:"meta"`
}

// GatewayHandler is the ingestion gateway: it accepts /ws connections,
// classifies each as agent or viewer by its first frame, and routes agent
// telemetry into the store, evaluator, and hub.
type GatewayHandler struct {
	db        *gorm.DB
	metrics   *store.Metrics
	registry  *registry.Registry
	hub       *hub.Hub
	evaluator *alerting.Evaluator
	now       func() time.Time
}

func NewGatewayHandler(db *gorm.DB, metrics *store.Metrics, reg *registry.Registry, h *hub.Hub, ev *alerting.Evaluator) *GatewayHandler {
	return &GatewayHandler{
		db:        db,
		metrics:   metrics,
		registry:  reg,
		hub:       h,
		evaluator: ev,
		now:       time.Now,
	}
}

// UpgradeCheck is middleware that checks if the request is a websocket upgrade.
func (h *GatewayHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Handle serves one /ws connection. The first frame decides the role: a
// register message makes it an agent, anything else makes it a viewer (the
// frame is then replayed as that viewer's first request).
func (h *GatewayHandler) Handle() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}

		var first inboundMessage
		if err := json.Unmarshal(raw, &first); err == nil && first.Type == "register" {
			h.serveAgent(c, first)
			return
		}
		h.serveViewer(c, raw)
	})
}

// ─── Agent side ──────────────────────────────────────────────────────

func (h *GatewayHandler) serveAgent(c *websocket.Conn, first inboundMessage) {
	hostID := ""
	h.handleAgentMessage(c, &hostID, first)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("Dropping malformed agent frame", "host", hostID, "error", err)
			continue
		}
		h.handleAgentMessage(c, &hostID, msg)
	}

	if hostID == "" {
		return
	}
	// Only the still-bound connection gets to mark its host offline; a
	// superseded connection closing late must not shadow its replacement.
	if h.registry.ReleaseAgent(hostID, c) {
		h.db.Model(&models.Host{}).Where("id = ?", hostID).
			Updates(map[string]any{"status": models.HostOffline, "last_seen": h.now().Unix()})
		h.hub.Publish(hub.NewHostOfflineEvent(hostID))
		slog.Info("Agent disconnected", "host", hostID)
	}
}

func (h *GatewayHandler) handleAgentMessage(conn registry.AgentConn, hostID *string, msg inboundMessage) {
	switch msg.Type {
	case "register":
		if msg.Host == nil || msg.Host.ID == "" {
			slog.Warn("Dropping register without host descriptor")
			return
		}
		h.registerAgent(conn, hostID, msg.Host)

	case "metrics":
		if *hostID == "" || len(msg.Data) == 0 {
			slog.Warn("Dropping metrics frame", "registered", *hostID != "")
			return
		}
		h.ingestMetrics(*hostID, msg.Data)

	case "details":
		if *hostID == "" || len(msg.Data) == 0 {
			return
		}
		if !h.registry.SetDetails(*hostID, msg.Data) {
			slog.Warn("Dropping oversize detail snapshot", "host", *hostID, "bytes", len(msg.Data))
			return
		}
		h.hub.Publish(hub.NewDetailsEvent(*hostID, msg.Data))

	case "log":
		if *hostID == "" || msg.Entry == nil {
			return
		}
		h.registry.AppendLog(*hostID, *msg.Entry)
		h.hub.Publish(hub.NewLogEvent(*hostID, *msg.Entry))

	case "logs:snapshot":
		// Repopulates the ring after a reconnect; never broadcast.
		if *hostID == "" || len(msg.Entries) == 0 {
			return
		}
		h.registry.AppendLogs(*hostID, msg.Entries)

	default:
		slog.Warn("Dropping unknown agent message", "type", msg.Type, "host", *hostID)
	}
}

func (h *GatewayHandler) registerAgent(conn registry.AgentConn, hostID *string, desc *hostDescriptor) {
	name := desc.Name
	if name == "" {
		name = desc.Hostname
	}
	meta, _ := json.Marshal(desc.Meta)
	if desc.Meta == nil {
		meta = []byte("{}")
	}

	host := models.Host{
		ID:       desc.ID,
		Name:     name,
		Hostname: desc.Hostname,
		IP:       desc.IP,
		OS:       desc.OS,
		Platform: desc.Platform,
		Arch:     desc.Arch,
		Status:   models.HostOnline,
		LastSeen: h.now().Unix(),
		Meta:     meta,
	}

	err := h.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "hostname", "ip", "os", "platform", "arch", "status", "last_seen", "meta",
		}),
	}).Create(&host).Error
	if err != nil {
		slog.Error("Host upsert failed", "host", desc.ID, "error", err)
		return
	}

	*hostID = desc.ID
	if prev := h.registry.BindAgent(desc.ID, conn); prev != nil {
		// Duplicate registration: the new connection supersedes the old one.
		prev.Close()
		slog.Info("Agent connection superseded", "host", desc.ID)
	}

	slog.Info("Agent registered", "host", desc.ID, "name", name)
	h.hub.Publish(hub.NewHostOnlineEvent(&host))
}

func (h *GatewayHandler) ingestMetrics(hostID string, data json.RawMessage) {
	var sample models.MetricSample
	if err := json.Unmarshal(data, &sample); err != nil {
		slog.Warn("Dropping unparseable metrics payload", "host", hostID, "error", err)
		return
	}
	sample.ID = 0
	sample.HostID = hostID
	sample.TS = h.now().Unix()

	// A failed write loses this tick but never the connection; the sample
	// still feeds rule evaluation and the live stream.
	if err := h.metrics.Append(&sample); err != nil {
		slog.Error("Metric append failed", "host", hostID, "error", err)
	}

	h.evaluator.TouchHost(hostID)
	h.evaluator.EvaluateSample(hostID, &sample)

	payload := sampleData(&sample)
	var extras map[string]any
	if err := json.Unmarshal(data, &extras); err == nil {
		for _, key := range metricPassthrough {
			if v, ok := extras[key]; ok {
				payload[key] = v
			}
		}
	}
	h.hub.Publish(hub.NewMetricEvent(hostID, payload))
}

// sampleData flattens a sample into the wire shape viewers receive.
func sampleData(s *models.MetricSample) map[string]any {
	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// ─── Viewer side ─────────────────────────────────────────────────────

func (h *GatewayHandler) serveViewer(c *websocket.Conn, firstRaw []byte) {
	viewer := newViewerConn(c)
	h.hub.Subscribe(viewer)
	defer func() {
		h.hub.Unsubscribe(viewer)
		viewer.Close()
		slog.Info("Viewer disconnected", "viewers", h.hub.Count())
	}()

	slog.Info("Viewer connected", "viewers", h.hub.Count())
	h.replyViewer(viewer, hub.NewInitEvent(h.registry.AgentIDs()))
	h.handleViewerFrame(viewer, firstRaw)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		h.handleViewerFrame(viewer, raw)
	}
}

func (h *GatewayHandler) handleViewerFrame(viewer *viewerConn, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("Dropping malformed viewer frame", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe:logs":
		if msg.HostID == "" {
			return
		}
		// Unknown hosts get an empty snapshot, not an error.
		tail := h.registry.LogTail(msg.HostID, logSubscribeTail)
		h.replyViewer(viewer, hub.NewLogsSnapshotEvent(msg.HostID, tail))

	case "subscribe:details":
		if msg.HostID == "" {
			return
		}
		if raw, ok := h.registry.Details(msg.HostID); ok {
			h.replyViewer(viewer, hub.NewDetailsEvent(msg.HostID, raw))
		}
	}
}

// replyViewer routes direct responses through the same send queue as
// broadcasts so each viewer sees a single FIFO stream.
func (h *GatewayHandler) replyViewer(viewer *viewerConn, event any) {
	msg, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal viewer reply", "error", err)
		return
	}
	if err := viewer.Send(msg); err != nil {
		slog.Warn("Viewer reply dropped", "error", err)
	}
}

// viewerConn adapts a websocket connection to hub.Subscriber. All writes
// funnel through a buffered channel drained by one pump goroutine, which
// keeps per-viewer delivery FIFO and makes Send safe from any goroutine.
type viewerConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

var (
	errViewerClosed = errors.New("viewer connection closed")
	errViewerSlow   = errors.New("viewer send buffer full")
)

func newViewerConn(c *websocket.Conn) *viewerConn {
	v := &viewerConn{
		conn: c,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go v.writePump()
	return v
}

// Send queues a message without blocking. A full buffer means the viewer
// cannot keep up; it gets dropped rather than stalling the publisher.
func (v *viewerConn) Send(msg []byte) error {
	select {
	case <-v.done:
		return errViewerClosed
	default:
	}
	select {
	case v.send <- msg:
		return nil
	default:
		return errViewerSlow
	}
}

func (v *viewerConn) Close() {
	v.once.Do(func() {
		close(v.done)
		v.conn.Close()
	})
}

func (v *viewerConn) writePump() {
	for {
		select {
		case msg := <-v.send:
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				v.Close()
				return
			}
		case <-v.done:
			return
		}
	}
}
