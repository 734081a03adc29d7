// Package store is the time-series store for metric samples: append-only
// rows in the database plus an in-memory latest-sample cache per host.
package store

import (
	"sync"

	"fleetwatch/internal/models"
	"gorm.io/gorm"
)

type Metrics struct {
	db *gorm.DB

	mu     sync.RWMutex
	latest map[string]*models.MetricSample
}

func NewMetrics(db *gorm.DB) *Metrics {
	return &Metrics{
		db:     db,
		latest: make(map[string]*models.MetricSample),
	}
}

// Append persists a sample and refreshes the latest-value cache. Samples are
// immutable after insert; appends for different hosts need no coordination.
func (m *Metrics) Append(sample *models.MetricSample) error {
	if err := m.db.Create(sample).Error; err != nil {
		return err
	}

	m.mu.Lock()
	m.latest[sample.HostID] = sample
	m.mu.Unlock()
	return nil
}

// Latest returns the most recent sample for a host, falling back to the
// database when the cache is cold (e.g. right after a restart).
func (m *Metrics) Latest(hostID string) (*models.MetricSample, bool) {
	m.mu.RLock()
	sample, ok := m.latest[hostID]
	m.mu.RUnlock()
	if ok {
		return sample, true
	}

	var row models.MetricSample
	err := m.db.Where("host_id = ?", hostID).Order("ts DESC").First(&row).Error
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	m.latest[hostID] = &row
	m.mu.Unlock()
	return &row, true
}

// Range returns samples for a host within [from, to], ordered by timestamp
// ascending (insertion order breaks ties via the autoincrement id).
func (m *Metrics) Range(hostID string, from, to int64) ([]models.MetricSample, error) {
	var samples []models.MetricSample
	err := m.db.
		Where("host_id = ? AND ts >= ? AND ts <= ?", hostID, from, to).
		Order("ts ASC, id ASC").
		Find(&samples).Error
	return samples, err
}

// PruneBefore deletes samples older than cutoff and returns how many rows
// were removed. The latest cache is left alone: a host's newest sample only
// falls behind the cutoff when the host has been silent past retention.
func (m *Metrics) PruneBefore(cutoff int64) (int64, error) {
	res := m.db.Where("ts < ?", cutoff).Delete(&models.MetricSample{})
	return res.RowsAffected, res.Error
}
