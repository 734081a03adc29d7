package services

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"fleetwatch/internal/hub"
	"fleetwatch/internal/models"
)

// Broadcaster is the slice of the hub the sweeps need.
type Broadcaster interface {
	Publish(event any)
}

// HeartbeatMonitor marks hosts offline when no sample has arrived within the
// timeout window. It is the only mechanism that catches silent agent
// failures — a killed process or a network partition never sends a close
// frame, so the gateway's disconnect path never runs.
type HeartbeatMonitor struct {
	db       *gorm.DB
	hub      Broadcaster
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	stop     chan struct{}
}

func NewHeartbeatMonitor(db *gorm.DB, b Broadcaster, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		db:       db,
		hub:      b,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (hm *HeartbeatMonitor) Start() {
	go hm.loop()
	slog.Info("Heartbeat monitor started", "interval", hm.interval, "timeout", hm.timeout)
}

func (hm *HeartbeatMonitor) Stop() {
	hm.stop <- struct{}{}
	slog.Info("Heartbeat monitor stopped")
}

func (hm *HeartbeatMonitor) loop() {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hm.Sweep()
		case <-hm.stop:
			return
		}
	}
}

// Sweep flips every stale host to offline and broadcasts the transition.
// Because already-offline hosts are skipped, each silent host produces
// exactly one offline event no matter how often it is swept.
func (hm *HeartbeatMonitor) Sweep() {
	var hosts []models.Host
	if err := hm.db.Where("status <> ?", models.HostOffline).Find(&hosts).Error; err != nil {
		slog.Error("Heartbeat sweep failed to load hosts", "error", err)
		return
	}

	now := hm.now().Unix()
	cutoff := int64(hm.timeout / time.Second)

	for _, h := range hosts {
		if h.LastSeen == 0 || now-h.LastSeen <= cutoff {
			continue
		}
		if err := hm.db.Model(&models.Host{}).Where("id = ?", h.ID).
			Update("status", models.HostOffline).Error; err != nil {
			slog.Error("Failed to mark host offline", "host", h.ID, "error", err)
			continue
		}
		hm.hub.Publish(hub.NewHostOfflineEvent(h.ID))
		slog.Info("Host marked offline (no heartbeat)", "host", h.ID, "name", h.Name)
	}
}
