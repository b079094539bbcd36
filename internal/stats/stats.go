package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ActiveConnections    = "duochat_active_connections"
	ActiveRooms          = "duochat_active_rooms"
	OnlineUsers          = "duochat_online_users"
	MessagesPublished    = "duochat_messages_published_total"
	MessagesPersisted    = "duochat_messages_persisted_total"
	DuplicatesSuppressed = "duochat_duplicates_suppressed_total"
)

type StatsProvider interface {
	RegisterMetric(name, help string)
	Incr(name string)
	Decr(name string)
}

// PromStats exposes registered metrics on a dedicated prometheus registry.
type PromStats struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
}

func NewPromStats(mux *http.ServeMux) *PromStats {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ps := &PromStats{
		registry: registry,
		gauges:   make(map[string]prometheus.Gauge),
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return ps
}

func (ps *PromStats) RegisterMetric(name, help string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	ps.registry.MustRegister(g)
	ps.gauges[name] = g
}

func (ps *PromStats) Incr(name string) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if g, ok := ps.gauges[name]; ok {
		g.Inc()
	}
}

func (ps *PromStats) Decr(name string) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if g, ok := ps.gauges[name]; ok {
		g.Dec()
	}
}
