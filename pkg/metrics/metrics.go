package metrics

import (
	"net/http"

	"github.com/civicmesh/presence/internal/common/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the prometheus instruments for the realtime service
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthTotal         *prometheus.CounterVec
	MessagesTotal     prometheus.Counter
	BroadcastsTotal   prometheus.Counter
	RetriesTotal      prometheus.Counter
	StaleCleaned      prometheus.Counter
	OrphansDeleted    prometheus.Counter
	EventDuration     *prometheus.HistogramVec
}

// New creates a registry with the realtime instruments plus the standard
// process and Go collectors
func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "presence"
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: r,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_connections"}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "connections_total"}),
		AuthTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "auth_total"}, []string{"result"}),
		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "messages_total"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "broadcasts_total"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "connection_retries_total"}),
		StaleCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "stale_sessions_cleaned_total"}),
		OrphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "orphan_records_deleted_total"}),
		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "event_duration_seconds", Buckets: buckets}, []string{"event"}),
	}

	r.MustRegister(
		m.ActiveConnections,
		m.ConnectionsTotal,
		m.AuthTotal,
		m.MessagesTotal,
		m.BroadcastsTotal,
		m.RetriesTotal,
		m.StaleCleaned,
		m.OrphansDeleted,
		m.EventDuration,
	)
	return m
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
