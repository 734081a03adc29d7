package services

import (
	"log/slog"
	"time"

	"fleetwatch/internal/store"
)

// RetentionPruner deletes metric samples older than the retention window.
// Fixed-resolution raw storage only; there is no rollup or compaction.
type RetentionPruner struct {
	metrics  *store.Metrics
	days     int
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
}

func NewRetentionPruner(metrics *store.Metrics, days int) *RetentionPruner {
	return &RetentionPruner{
		metrics:  metrics,
		days:     days,
		interval: time.Hour,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (rp *RetentionPruner) Start() {
	go rp.loop()
	slog.Info("Retention pruner started", "retention_days", rp.days)
}

func (rp *RetentionPruner) Stop() {
	rp.stop <- struct{}{}
	slog.Info("Retention pruner stopped")
}

func (rp *RetentionPruner) loop() {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rp.Prune()
		case <-rp.stop:
			return
		}
	}
}

func (rp *RetentionPruner) Prune() {
	cutoff := rp.now().Unix() - int64(rp.days)*86400
	pruned, err := rp.metrics.PruneBefore(cutoff)
	if err != nil {
		slog.Error("Metric pruning failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("Pruned old metric rows", "rows", pruned)
	}
}
