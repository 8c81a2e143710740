// Package metrics defines the prometheus collectors shared by the
// resolution and streaming pipeline. A single Metrics value is constructed
// at startup and handed to the components that record into it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all pipeline collectors. The zero value is not usable;
// construct with New.
type Metrics struct {
	Extractions      *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheInvalidated prometheus.Counter
	ProcessSpawns    *prometheus.CounterVec
	ProcessTimeouts  *prometheus.CounterVec
	PoolRejections   *prometheus.CounterVec
	RunningProcesses *prometheus.GaugeVec
	ActiveStreams    prometheus.Gauge
	Reresolutions    prometheus.Counter
}

// New creates the collector set and registers it on reg. Passing nil reg
// yields unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "extractions_total",
			Help:      "Extractor invocations by outcome.",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "cache_hits_total",
			Help:      "Resolution cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "cache_misses_total",
			Help:      "Resolution cache misses, including lazy expiries.",
		}),
		CacheInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "cache_invalidations_total",
			Help:      "Eager cache invalidations after downstream fetch failures.",
		}),
		ProcessSpawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "process_spawns_total",
			Help:      "Helper processes started, by kind.",
		}, []string{"kind"}),
		ProcessTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "process_timeouts_total",
			Help:      "Helper processes killed on deadline, by kind.",
		}, []string{"kind"}),
		PoolRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "pool_rejections_total",
			Help:      "Requests rejected because a process pool queue was full.",
		}, []string{"kind"}),
		RunningProcesses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamgate",
			Name:      "running_processes",
			Help:      "Currently running helper processes, by kind.",
		}, []string{"kind"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamgate",
			Name:      "active_streams",
			Help:      "Open client stream sessions.",
		}),
		Reresolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "reresolutions_total",
			Help:      "Deliveries that required a second resolution after an expired URL.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Extractions,
			m.CacheHits,
			m.CacheMisses,
			m.CacheInvalidated,
			m.ProcessSpawns,
			m.ProcessTimeouts,
			m.PoolRejections,
			m.RunningProcesses,
			m.ActiveStreams,
			m.Reresolutions,
		)
	}
	return m
}
