// Package metrics prometheus instrumentation of the sync core
// Package metrics 同步核心的 prometheus 指标
package metrics

import (
	"net/http"
	"strconv"

	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "board_sync"

var syncStatuses = []domain.SyncStatus{
	domain.SyncIdle, domain.SyncSyncing, domain.SyncSynced, domain.SyncOffline, domain.SyncError,
}

// Collector holds every metric on its own registry
// Collector 在独立注册表上持有全部指标
type Collector struct {
	registry *prometheus.Registry

	// RemoteWrites flushed writes by collection kind and result
	RemoteWrites *prometheus.CounterVec
	// WritesScheduled schedule calls, coalesced or not
	WritesScheduled *prometheus.CounterVec
	// SnapshotsApplied remote snapshots reconciled into the cache
	SnapshotsApplied *prometheus.CounterVec
	// SnapshotsDropped snapshots of an outdated board epoch
	SnapshotsDropped prometheus.Counter
	// PresenceEvicted stale presence records removed locally
	PresenceEvicted prometheus.Counter
	// SyncStatus one-hot gauge of the aggregate status
	SyncStatus *prometheus.GaugeVec
	// GatewayConnections open gateway websocket connections
	GatewayConnections prometheus.Gauge
	// GatewayRequests gateway requests by action and result code
	GatewayRequests *prometheus.CounterVec
}

// NewCollector creates and registers all metrics
// NewCollector 创建并注册所有指标
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		RemoteWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_writes_total",
			Help:      "Remote document writes by collection and result",
		}, []string{"collection", "result"}),
		WritesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_scheduled_total",
			Help:      "Debounced write schedules by collection",
		}, []string{"collection"}),
		SnapshotsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_applied_total",
			Help:      "Remote snapshots reconciled into the local cache",
		}, []string{"collection"}),
		SnapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_dropped_total",
			Help:      "Snapshots discarded because their board was no longer active",
		}),
		PresenceEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_evicted_total",
			Help:      "Stale presence records removed from the local view",
		}),
		SyncStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_status",
			Help:      "Aggregate sync status, 1 for the current value",
		}, []string{"status"}),
		GatewayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Open gateway websocket connections",
		}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Gateway requests by action and result code",
		}, []string{"action", "code"}),
	}

	c.registry.MustRegister(
		c.RemoteWrites,
		c.WritesScheduled,
		c.SnapshotsApplied,
		c.SnapshotsDropped,
		c.PresenceEvicted,
		c.SyncStatus,
		c.GatewayConnections,
		c.GatewayRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler HTTP handler serving the registry
// Handler 暴露指标的 HTTP 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetSyncStatus marks status as the current one
func (c *Collector) SetSyncStatus(status domain.SyncStatus) {
	if c == nil {
		return
	}
	for _, s := range syncStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.SyncStatus.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveWrite counts one flushed write
func (c *Collector) ObserveWrite(collection string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.RemoteWrites.WithLabelValues(collection, result).Inc()
}

// ObserveSchedule counts one schedule call
func (c *Collector) ObserveSchedule(collection string) {
	if c == nil {
		return
	}
	c.WritesScheduled.WithLabelValues(collection).Inc()
}

// ObserveSnapshot counts one applied snapshot
func (c *Collector) ObserveSnapshot(collection string) {
	if c == nil {
		return
	}
	c.SnapshotsApplied.WithLabelValues(collection).Inc()
}

// ObserveDroppedSnapshot counts one stale snapshot
func (c *Collector) ObserveDroppedSnapshot() {
	if c == nil {
		return
	}
	c.SnapshotsDropped.Inc()
}

// ObserveEvictions counts evicted presence records
func (c *Collector) ObserveEvictions(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PresenceEvicted.Add(float64(n))
}

// SetGatewayConnections records the number of open gateway connections
func (c *Collector) SetGatewayConnections(n int) {
	if c == nil {
		return
	}
	c.GatewayConnections.Set(float64(n))
}

// ObserveGatewayRequest counts one gateway request by its result code
// ObserveGatewayRequest 按结果码统计一次网关请求
func (c *Collector) ObserveGatewayRequest(action string, code int) {
	if c == nil {
		return
	}
	c.GatewayRequests.WithLabelValues(action, strconv.Itoa(code)).Inc()
}
