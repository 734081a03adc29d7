package handlers

import (
	"encoding/json"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fleetwatch/internal/alerting"
	"fleetwatch/internal/hub"
	"fleetwatch/internal/models"
	"fleetwatch/internal/registry"
	"fleetwatch/internal/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Host{}, &models.MetricSample{}, &models.AlertRule{}, &models.Alert{},
	))
	return db
}

type fakeAgentConn struct {
	closed bool
}

func (f *fakeAgentConn) Close() error {
	f.closed = true
	return nil
}

type recordingSub struct {
	msgs [][]byte
}

func (r *recordingSub) Send(msg []byte) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingSub) Close() {}

func (r *recordingSub) typed(t *testing.T) []string {
	t.Helper()
	types := make([]string, 0, len(r.msgs))
	for _, msg := range r.msgs {
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(msg, &head))
		types = append(types, head.Type)
	}
	return types
}

type gatewayFixture struct {
	db      *gorm.DB
	hub     *hub.Hub
	reg     *registry.Registry
	metrics *store.Metrics
	viewer  *recordingSub
	gw      *GatewayHandler
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	db := testDB(t)
	h := hub.New()
	reg := registry.New(500, 1024)
	metrics := store.NewMetrics(db)
	ev := alerting.NewEvaluator(db, h, alerting.NopNotifier{})

	viewer := &recordingSub{}
	h.Subscribe(viewer)

	return &gatewayFixture{
		db:      db,
		hub:     h,
		reg:     reg,
		metrics: metrics,
		viewer:  viewer,
		gw:      NewGatewayHandler(db, metrics, reg, h, ev),
	}
}

func (f *gatewayFixture) agentFrame(t *testing.T, conn registry.AgentConn, hostID *string, raw string) {
	t.Helper()
	var msg inboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	f.gw.handleAgentMessage(conn, hostID, msg)
}

func TestRegisterUpsertsHostAndBroadcasts(t *testing.T) {
	f := newGatewayFixture(t)
	conn := &fakeAgentConn{}
	hostID := ""

	f.agentFrame(t, conn, &hostID, `{"type":"register","host":{"id":"web-1","hostname":"web-1.local","ip":"10.0.0.5","os":"Ubuntu 24.04","platform":"linux","arch":"amd64"}}`)

	assert.Equal(t, "web-1", hostID)
	assert.Equal(t, 1, f.reg.AgentCount())

	var host models.Host
	require.NoError(t, f.db.First(&host, "id = ?", "web-1").Error)
	assert.Equal(t, models.HostOnline, host.Status)
	assert.Equal(t, "web-1.local", host.Name) // name falls back to hostname

	assert.Equal(t, []string{hub.EventHostOnline}, f.viewer.typed(t))

	// Re-register updates in place and stays a single host row.
	f.agentFrame(t, conn, &hostID, `{"type":"register","host":{"id":"web-1","name":"frontend","hostname":"web-1.local"}}`)
	var count int64
	f.db.Model(&models.Host{}).Count(&count)
	assert.Equal(t, int64(1), count)
	require.NoError(t, f.db.First(&host, "id = ?", "web-1").Error)
	assert.Equal(t, "frontend", host.Name)
}

func TestReRegistrationSupersedesOldConnection(t *testing.T) {
	f := newGatewayFixture(t)
	old := &fakeAgentConn{}
	oldID := ""
	f.agentFrame(t, old, &oldID, `{"type":"register","host":{"id":"web-1","name":"web-1"}}`)

	fresh := &fakeAgentConn{}
	freshID := ""
	f.agentFrame(t, fresh, &freshID, `{"type":"register","host":{"id":"web-1","name":"web-1"}}`)

	assert.True(t, old.closed)
	assert.False(t, fresh.closed)
	assert.Equal(t, 1, f.reg.AgentCount())
}

func TestMetricsFramePersistsEvaluatesAndBroadcasts(t *testing.T) {
	f := newGatewayFixture(t)
	require.NoError(t, f.db.Create(&models.AlertRule{
		Metric: "cpu_pct", Operator: models.OpGt, Threshold: 90,
		Severity: models.SeverityCritical, Enabled: true, CooldownSeconds: 300,
	}).Error)

	conn := &fakeAgentConn{}
	hostID := ""
	f.agentFrame(t, conn, &hostID, `{"type":"register","host":{"id":"web-1","name":"web-1"}}`)
	f.agentFrame(t, conn, &hostID, `{"type":"metrics","data":{"cpu_pct":95.5,"mem_pct":40,"cpu_cores":[91,99],"battery_pct":88}}`)

	// Persisted.
	samples, err := f.metrics.Range("web-1", 0, 1<<62)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 95.5, *samples[0].CPUPct)

	// Evaluated: the zero-duration rule fires.
	var alerts []models.Alert
	require.NoError(t, f.db.Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertActive, alerts[0].Status)

	// Broadcast includes passthrough extras but not arbitrary junk.
	types := f.viewer.typed(t)
	assert.Equal(t, []string{hub.EventHostOnline, hub.EventAlertNew, hub.EventMetric}, types)

	var metricEv struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.viewer.msgs[2], &metricEv))
	assert.Equal(t, 95.5, metricEv.Data["cpu_pct"])
	assert.Equal(t, []any{91.0, 99.0}, metricEv.Data["cpu_cores"])
	assert.Equal(t, 88.0, metricEv.Data["battery_pct"])
}

func TestMetricsBeforeRegisterIsDropped(t *testing.T) {
	f := newGatewayFixture(t)
	conn := &fakeAgentConn{}
	hostID := ""

	f.agentFrame(t, conn, &hostID, `{"type":"metrics","data":{"cpu_pct":95}}`)

	var count int64
	f.db.Model(&models.MetricSample{}).Count(&count)
	assert.Equal(t, int64(0), count)
	assert.Empty(t, f.viewer.msgs)
}

func TestDetailsCachedAndBroadcast(t *testing.T) {
	f := newGatewayFixture(t)
	conn := &fakeAgentConn{}
	hostID := ""
	f.agentFrame(t, conn, &hostID, `{"type":"register","host":{"id":"web-1","name":"web-1"}}`)

	f.agentFrame(t, conn, &hostID, `{"type":"details","data":{"topProcesses":[{"pid":1,"name":"systemd"}]}}`)

	raw, ok := f.reg.Details("web-1")
	require.True(t, ok)
	assert.Contains(t, string(raw), "systemd")
	assert.Equal(t, []string{hub.EventHostOnline, hub.EventDetails}, f.viewer.typed(t))
}

func TestOversizeDetailsDropped(t *testing.T) {
	f := newGatewayFixture(t) // 1024-byte cap
	conn := &fakeAgentConn{}
	hostID := ""
	f.agentFrame(t, conn, &hostID, `{"type":"register","host":{"id":"web-1","name":"web-1"}}`)

	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'x'
	}
	f.agentFrame(t, conn, &hostID, `{"type":"details","data":{"blob":"`+string(big)+`"}}`)

	_, ok := f.reg.Details("web-1")
	assert.False(t, ok)
	assert.Equal(t, []string{hub.EventHostOnline}, f.viewer.typed(t))
}

func TestLogFrameBroadcastSnapshotNot(t *testing.T) {
	f := newGatewayFixture(t)
	conn := &fakeAgentConn{}
	hostID := ""
	f.agentFrame(t, conn, &hostID, `{"type":"register","host":{"id":"web-1","name":"web-1"}}`)

	f.agentFrame(t, conn, &hostID, `{"type":"log","entry":{"ts":1,"level":"error","message":"disk failing"}}`)
	f.agentFrame(t, conn, &hostID, `{"type":"logs:snapshot","entries":[{"ts":2,"level":"info","message":"a"},{"ts":3,"level":"info","message":"b"}]}`)

	tail := f.reg.LogTail("web-1", 10)
	require.Len(t, tail, 3)
	assert.Equal(t, "disk failing", tail[0].Message)

	// Single log entries stream live; bulk snapshots only repopulate state.
	assert.Equal(t, []string{hub.EventHostOnline, hub.EventLog}, f.viewer.typed(t))
}

func TestUnknownFrameTypeIsIgnored(t *testing.T) {
	f := newGatewayFixture(t)
	conn := &fakeAgentConn{}
	hostID := ""
	f.agentFrame(t, conn, &hostID, `{"type":"register","host":{"id":"web-1","name":"web-1"}}`)
	f.agentFrame(t, conn, &hostID, `{"type":"selfdestruct","data":{}}`)

	assert.Equal(t, []string{hub.EventHostOnline}, f.viewer.typed(t))
}

func TestRegisterWithoutDescriptorIsDropped(t *testing.T) {
	f := newGatewayFixture(t)
	conn := &fakeAgentConn{}
	hostID := ""
	f.agentFrame(t, conn, &hostID, `{"type":"register"}`)

	assert.Equal(t, "", hostID)
	assert.Equal(t, 0, f.reg.AgentCount())
}
