// Package metrics owns the Prometheus registry for the arrivals service.
package metrics

import (
	"database/sql"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream feeds, labelled by adapter name and outcome
	// (ok, upstream_unavailable, decode, auth).
	FeedFetchesTotal  *prometheus.CounterVec
	FeedFetchDuration *prometheus.HistogramVec

	CacheLookupsTotal   *prometheus.CounterVec
	TokenRefreshesTotal *prometheus.CounterVec

	// ResolvesTotal counts orchestrator outcomes per mode:
	// live, hybrid, schedule_only, empty, error.
	ResolvesTotal         *prometheus.CounterVec
	ArrivalsTotal         *prometheus.CounterVec
	ScheduleFallbackTotal *prometheus.CounterVec

	snapshots *snapshotCollector
	logger    *slog.Logger
}

func New() *Metrics {
	return NewWithLogger(nil)
}

func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcards_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripcards_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		FeedFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcards_feed_fetches_total",
			Help: "Upstream feed fetches by adapter and outcome",
		}, []string{"adapter", "outcome"}),
		FeedFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripcards_feed_fetch_duration_seconds",
			Help:    "Upstream feed fetch latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25},
		}, []string{"adapter"}),
		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcards_cache_lookups_total",
			Help: "Feed and token cache lookups by cache and result",
		}, []string{"cache", "result"}),
		TokenRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcards_token_refreshes_total",
			Help: "Auth token refreshes by API family and outcome",
		}, []string{"family", "outcome"}),
		ResolvesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcards_resolves_total",
			Help: "Arrival queries resolved by mode and outcome",
		}, []string{"mode", "outcome"}),
		ArrivalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcards_arrivals_total",
			Help: "Arrivals returned by mode and status",
		}, []string{"mode", "status"}),
		ScheduleFallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcards_schedule_static_fallback_total",
			Help: "Schedule reads served from the embedded static timetable",
		}, []string{"family"}),
		snapshots: newSnapshotCollector(),
		logger:    logger,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FeedFetchesTotal,
		m.FeedFetchDuration,
		m.CacheLookupsTotal,
		m.TokenRefreshesTotal,
		m.ResolvesTotal,
		m.ArrivalsTotal,
		m.ScheduleFallbackTotal,
		m.snapshots,
	)
	return m
}

// TrackSnapshot exports connection pool stats for a schedule snapshot.
// Stats are read at scrape time. Registering the same family twice replaces it.
func (m *Metrics) TrackSnapshot(family string, db *sql.DB) {
	if db == nil {
		return
	}
	m.snapshots.add(family, db)
	if m.logger != nil {
		m.logger.Debug("tracking snapshot pool", slog.String("family", family))
	}
}

// snapshotCollector reports sql.DBStats for each open snapshot, one label per family.
type snapshotCollector struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB

	open    *prometheus.Desc
	inUse   *prometheus.Desc
	idle    *prometheus.Desc
	waitSec *prometheus.Desc
}

func newSnapshotCollector() *snapshotCollector {
	labels := []string{"family"}
	return &snapshotCollector{
		dbs:     make(map[string]*sql.DB),
		open:    prometheus.NewDesc("tripcards_db_connections_open", "Number of open snapshot connections", labels, nil),
		inUse:   prometheus.NewDesc("tripcards_db_connections_in_use", "Snapshot connections currently in use", labels, nil),
		idle:    prometheus.NewDesc("tripcards_db_connections_idle", "Idle snapshot connections", labels, nil),
		waitSec: prometheus.NewDesc("tripcards_db_wait_seconds_total", "Total time blocked waiting for a snapshot connection", labels, nil),
	}
}

func (c *snapshotCollector) add(family string, db *sql.DB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dbs[family] = db
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waitSec
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for family, db := range c.dbs {
		stats := db.Stats()
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(stats.OpenConnections), family)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stats.InUse), family)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stats.Idle), family)
		ch <- prometheus.MustNewConstMetric(c.waitSec, prometheus.CounterValue, stats.WaitDuration.Seconds(), family)
	}
}
