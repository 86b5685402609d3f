// Package metrics exposes Prometheus instrumentation for extraction, the
// vault and the extraction cache.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
// All methods are safe on a nil receiver.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	Extractions        *prometheus.CounterVec
	TierFailures       *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	VaultOperations    *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec

	extractionsTotal atomic.Int64
	vaultFailures    atomic.Int64
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),
		registry:  reg,

		Extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idvault_extractions_total",
			Help: "Completed extractions by backend and the method that produced the identifier",
		}, []string{"backend", "method"}),

		TierFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idvault_extraction_tier_failures_total",
			Help: "Absorbed extraction tier failures",
		}, []string{"tier"}), // tier: "entity", "vision", "llm_text", "regex"

		ExtractionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idvault_extraction_duration_seconds",
			Help:    "End-to-end extraction latency by backend",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"backend"}),

		VaultOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idvault_vault_operations_total",
			Help: "Vault operations by operation and result",
		}, []string{"op", "result"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idvault_cache_lookups_total",
			Help: "Extraction cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss", "error"
	}
}

// RecordExtraction counts a finished extraction and its latency.
func (m *Metrics) RecordExtraction(backend, method string, d time.Duration) {
	if m == nil {
		return
	}
	m.extractionsTotal.Add(1)
	m.Extractions.WithLabelValues(backend, method).Inc()
	m.ExtractionDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordTierFailure counts a tier error the orchestrator absorbed.
func (m *Metrics) RecordTierFailure(tier string) {
	if m != nil {
		m.TierFailures.WithLabelValues(tier).Inc()
	}
}

// RecordVaultOp counts a vault operation outcome.
func (m *Metrics) RecordVaultOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.vaultFailures.Add(1)
	}
	m.VaultOperations.WithLabelValues(op, result).Inc()
}

// RecordCacheLookup counts a cache hit, miss or error.
func (m *Metrics) RecordCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Snapshot is a small summary for the health endpoint
type Snapshot struct {
	Uptime        time.Duration `json:"uptime"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Extractions   int64         `json:"extractions"`
	VaultFailures int64         `json:"vault_failures"`
}

// Snapshot returns the current summary.
func (m *Metrics) Snapshot() *Snapshot {
	if m == nil {
		return &Snapshot{}
	}
	up := time.Since(m.startTime)
	return &Snapshot{
		Uptime:        up,
		UptimeSeconds: int64(up.Seconds()),
		Extractions:   m.extractionsTotal.Load(),
		VaultFailures: m.vaultFailures.Load(),
	}
}
