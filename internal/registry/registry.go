// Package registry tracks which connection speaks for which host, plus the
// volatile per-host caches (latest detail snapshot, log ring buffer) that
// back viewer subscriptions. None of this survives a restart; agents
// repopulate it on reconnect.
package registry

import (
	"encoding/json"
	"sort"
	"sync"

	"fleetwatch/internal/models"
)

// AgentConn is the handle the registry keeps per agent. The gateway hands in
// its websocket connection; the registry only ever needs to close it when a
// re-registration supersedes it.
type AgentConn interface {
	Close() error
}

type Registry struct {
	logCapacity     int
	detailsMaxBytes int

	mu      sync.RWMutex
	agents  map[string]AgentConn
	details map[string]json.RawMessage
	logs    map[string][]models.LogEntry
}

func New(logCapacity, detailsMaxBytes int) *Registry {
	return &Registry{
		logCapacity:     logCapacity,
		detailsMaxBytes: detailsMaxBytes,
		agents:          make(map[string]AgentConn),
		details:         make(map[string]json.RawMessage),
		logs:            make(map[string][]models.LogEntry),
	}
}

// BindAgent records conn as the single active agent for hostID and returns
// the superseded connection, if any, for the caller to close. A fresh
// registration for an already-bound host is a normal reconnect, not an error.
func (r *Registry) BindAgent(hostID string, conn AgentConn) AgentConn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.agents[hostID]
	r.agents[hostID] = conn
	if _, ok := r.logs[hostID]; !ok {
		r.logs[hostID] = make([]models.LogEntry, 0, r.logCapacity)
	}
	if prev == conn {
		return nil
	}
	return prev
}

// ReleaseAgent removes the binding, but only if conn is still the bound
// connection. A superseded connection closing late must not evict its
// replacement.
func (r *Registry) ReleaseAgent(hostID string, conn AgentConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.agents[hostID] != conn {
		return false
	}
	delete(r.agents, hostID)
	return true
}

func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// AgentIDs returns the connected host ids, sorted for stable output.
func (r *Registry) AgentIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SetDetails caches the latest opaque detail snapshot for a host. Oversize
// snapshots are rejected whole rather than truncated, since a truncated
// JSON document is useless to viewers.
func (r *Registry) SetDetails(hostID string, raw json.RawMessage) bool {
	if len(raw) > r.detailsMaxBytes {
		return false
	}
	r.mu.Lock()
	r.details[hostID] = raw
	r.mu.Unlock()
	return true
}

// Details returns the cached snapshot, or false for an unknown host.
func (r *Registry) Details(hostID string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.details[hostID]
	return raw, ok
}

// AppendLog pushes one entry onto the host's ring, evicting the oldest entry
// once the ring is full.
func (r *Registry) AppendLog(hostID string, entry models.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(hostID, entry)
}

// AppendLogs bulk-appends a reconnect snapshot with the same eviction rule.
func (r *Registry) AppendLogs(hostID string, entries []models.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		r.appendLocked(hostID, entry)
	}
}

func (r *Registry) appendLocked(hostID string, entry models.LogEntry) {
	ring := r.logs[hostID]
	ring = append(ring, entry)
	if len(ring) > r.logCapacity {
		ring = ring[len(ring)-r.logCapacity:]
	}
	r.logs[hostID] = ring
}

// LogTail returns up to n of the newest entries, oldest first. Unknown hosts
// yield an empty slice.
func (r *Registry) LogTail(hostID string, n int) []models.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ring := r.logs[hostID]
	if n > len(ring) {
		n = len(ring)
	}
	tail := make([]models.LogEntry, n)
	copy(tail, ring[len(ring)-n:])
	return tail
}
