// Package metrics exposes Prometheus collectors for NFC sessions and the device registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotside-studios/closet-nfc/nfc"
)

var sessionBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Scans           *prometheus.CounterVec
	Writes          *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
	WriteDuration   prometheus.Histogram
	Lookups         *prometheus.CounterVec
	ConnectedDevice prometheus.GaugeFunc
}

// New registers every collector. devices reports the number of connected
// Web NFC devices; it may be nil.
func New(devices func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "closet_nfc_scans_total",
			Help: "Read sessions by outcome kind and identifier source",
		}, []string{"outcome", "source"}),
		Writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "closet_nfc_writes_total",
			Help: "Write sessions by outcome kind",
		}, []string{"outcome"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "closet_nfc_scan_duration_seconds",
			Help:    "Time from scan start to resolution",
			Buckets: sessionBuckets,
		}),
		WriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "closet_nfc_write_duration_seconds",
			Help:    "Time from write start to verified resolution",
			Buckets: sessionBuckets,
		}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "closet_catalog_lookups_total",
			Help: "Catalog lookups by operation and result",
		}, []string{"op", "result"}),
	}
	if devices != nil {
		m.ConnectedDevice = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "closet_nfc_connected_devices",
			Help: "Web NFC devices currently registered",
		}, func() float64 { return float64(devices()) })
	}
	return m
}

func outcomeLabel(success bool, kind nfc.ErrorKind) string {
	if success {
		return "success"
	}
	return kind.String()
}

// ScanResolved implements nfc.Observer.
func (m *Metrics) ScanResolved(out nfc.ScanOutcome, elapsed time.Duration) {
	source := string(out.Source)
	if source == "" {
		source = "none"
	}
	m.Scans.WithLabelValues(outcomeLabel(out.Success, out.Kind), source).Inc()
	m.ScanDuration.Observe(elapsed.Seconds())
}

// WriteResolved implements nfc.Observer.
func (m *Metrics) WriteResolved(out nfc.WriteOutcome, elapsed time.Duration) {
	m.Writes.WithLabelValues(outcomeLabel(out.Success, out.Kind)).Inc()
	m.WriteDuration.Observe(elapsed.Seconds())
}

// ObserveLookup counts a catalog lookup. A nil error is "hit" or "miss"
// depending on found.
func (m *Metrics) ObserveLookup(op string, found bool, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case found:
		result = "hit"
	}
	m.Lookups.WithLabelValues(op, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
