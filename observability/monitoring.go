package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "presence"

// Delivery and update outcome labels.
const (
	StatusAccepted  = "accepted"
	StatusDiscarded = "discarded"
	StatusDelivered = "delivered"
	StatusDropped   = "dropped"
	StatusFailed    = "failed"
)

// MonitoringStats is the point-in-time view served on the health endpoint.
type MonitoringStats struct {
	Players          int       `json:"players"`
	Joins            uint64    `json:"joins"`
	Leaves           uint64    `json:"leaves"`
	Evictions        uint64    `json:"evictions"`
	UpdatesAccepted  uint64    `json:"updates_accepted"`
	UpdatesDiscarded uint64    `json:"updates_discarded"`
	RSSBytes         uint64    `json:"rss_bytes"`
	CPUPercent       float64   `json:"cpu_percent"`
	CollectedAt      time.Time `json:"collected_at"`
}

// MonitoringManager keeps the presence telemetry: Prometheus collectors for scraping
// and atomic counters for the health endpoint. A nil manager records nothing.
type MonitoringManager struct {
	mu       sync.RWMutex
	registry *prometheus.Registry

	playersActive prometheus.Gauge
	joinsTotal    prometheus.Counter
	leavesTotal   *prometheus.CounterVec
	updatesTotal  *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	rssBytes      prometheus.Gauge
	cpuPercent    prometheus.Gauge

	joins            uint64
	leaves           uint64
	evictions        uint64
	updatesAccepted  uint64
	updatesDiscarded uint64
	players          int64
	rss              uint64
	cpu              float64
}

// NewMonitoringManager registers the collectors on registry.
// Each manager needs its own registry; tests use prometheus.NewRegistry().
func NewMonitoringManager(registry *prometheus.Registry) *MonitoringManager {
	factory := promauto.With(registry)
	return &MonitoringManager{
		registry: registry,
		playersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_active",
			Help:      "Number of live participants in the registry",
		}),
		joinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Total number of accepted registrations",
		}),
		leavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_total",
			Help:      "Total number of participants removed, by reason",
		}, []string{"reason"}),
		updatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound updates after the handshake, by status",
		}, []string{"status"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Frames handed to connected sessions, by status",
		}, []string{"status"}),
		rssBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Resident memory of the server process",
		}),
		cpuPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU usage of the server process",
		}),
	}
}

func (mm *MonitoringManager) Registry() *prometheus.Registry {
	if mm == nil {
		return nil
	}
	return mm.registry
}

func (mm *MonitoringManager) IncrJoin() {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.joins, 1)
	mm.joinsTotal.Inc()
}

func (mm *MonitoringManager) IncrLeave(reason string) {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.leaves, 1)
	if reason == "timeout" {
		atomic.AddUint64(&mm.evictions, 1)
	}
	mm.leavesTotal.WithLabelValues(reason).Inc()
}

func (mm *MonitoringManager) IncrUpdate(status string) {
	if mm == nil {
		return
	}
	switch status {
	case StatusAccepted:
		atomic.AddUint64(&mm.updatesAccepted, 1)
	case StatusDiscarded:
		atomic.AddUint64(&mm.updatesDiscarded, 1)
	}
	mm.updatesTotal.WithLabelValues(status).Inc()
}

func (mm *MonitoringManager) AddDeliveries(status string, n int) {
	if mm == nil || n == 0 {
		return
	}
	mm.deliveries.WithLabelValues(status).Add(float64(n))
}

func (mm *MonitoringManager) SetPlayers(n int) {
	if mm == nil {
		return
	}
	atomic.StoreInt64(&mm.players, int64(n))
	mm.playersActive.Set(float64(n))
}

// SetProcessStats records the latest self stats collected by the heartbeat.
func (mm *MonitoringManager) SetProcessStats(rss uint64, cpu float64) {
	if mm == nil {
		return
	}
	mm.mu.Lock()
	mm.rss, mm.cpu = rss, cpu
	mm.mu.Unlock()
	mm.rssBytes.Set(float64(rss))
	mm.cpuPercent.Set(cpu)
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	if mm == nil {
		return MonitoringStats{CollectedAt: time.Now().UTC()}
	}
	mm.mu.RLock()
	rss, cpu := mm.rss, mm.cpu
	mm.mu.RUnlock()

	return MonitoringStats{
		Players:          int(atomic.LoadInt64(&mm.players)),
		Joins:            atomic.LoadUint64(&mm.joins),
		Leaves:           atomic.LoadUint64(&mm.leaves),
		Evictions:        atomic.LoadUint64(&mm.evictions),
		UpdatesAccepted:  atomic.LoadUint64(&mm.updatesAccepted),
		UpdatesDiscarded: atomic.LoadUint64(&mm.updatesDiscarded),
		RSSBytes:         rss,
		CPUPercent:       cpu,
		CollectedAt:      time.Now().UTC(),
	}
}
