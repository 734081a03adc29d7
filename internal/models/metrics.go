package models

// MetricSample is one telemetry tick from an agent. Numeric fields are
// pointers: an agent only reports what it can measure, and a rule must be
// able to tell "absent" from zero.
type MetricSample struct {
	ID        uint64   `gorm:"primaryKey;autoIncrement" json:"id"`
	HostID    string   `gorm:"not null;index:idx_metrics_host_ts" json:"host_id"`
	TS        int64    `gorm:"not null;index:idx_metrics_host_ts" json:"ts"`
	CPUPct    *float64 `json:"cpu_pct"`
	MemTotal  *float64 `json:"mem_total"`
	MemUsed   *float64 `json:"mem_used"`
	MemPct    *float64 `json:"mem_pct"`
	DiskTotal *float64 `json:"disk_total"`
	DiskUsed  *float64 `json:"disk_used"`
	DiskPct   *float64 `json:"disk_pct"`
	NetRx     *float64 `json:"net_rx"` // bytes/sec received
	NetTx     *float64 `json:"net_tx"` // bytes/sec transmitted
	Load1     *float64 `json:"load_1"`
	Load5     *float64 `json:"load_5"`
	Load15    *float64 `json:"load_15"`
	Uptime    *float64 `json:"uptime"`
	Processes *int64   `json:"processes"`
	Temp      *float64 `json:"temp"`
}

// MetricValue returns the sample field named by key, or false when the agent
// did not report it. Keys match the JSON/column names used by alert rules.
func (s *MetricSample) MetricValue(key string) (float64, bool) {
	var v *float64
	switch key {
	case "cpu_pct":
		v = s.CPUPct
	case "mem_total":
		v = s.MemTotal
	case "mem_used":
		v = s.MemUsed
	case "mem_pct":
		v = s.MemPct
	case "disk_total":
		v = s.DiskTotal
	case "disk_used":
		v = s.DiskUsed
	case "disk_pct":
		v = s.DiskPct
	case "net_rx":
		v = s.NetRx
	case "net_tx":
		v = s.NetTx
	case "load_1":
		v = s.Load1
	case "load_5":
		v = s.Load5
	case "load_15":
		v = s.Load15
	case "uptime":
		v = s.Uptime
	case "processes":
		if s.Processes == nil {
			return 0, false
		}
		return float64(*s.Processes), true
	case "temp":
		v = s.Temp
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}
