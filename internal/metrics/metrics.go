// Package metrics bundles the Prometheus collectors exposed by the status
// server. All methods tolerate a nil receiver so instrumented code never has
// to branch on whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry          *prometheus.Registry
	SKUsDiscovered    prometheus.Counter
	ProductsHarvested prometheus.Counter
	HarvestErrors     prometheus.Counter
	ExportsTotal      *prometheus.CounterVec
	ChallengesTotal   *prometheus.CounterVec
	ScrollIterations  prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	skus := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_skus_discovered_total",
		Help: "Distinct SKU identifiers discovered across all categories.",
	})
	harvested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_products_harvested_total",
		Help: "Product detail records appended to the run.",
	})
	harvestErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_harvest_errors_total",
		Help: "Detail fetches that degraded to a stub record.",
	})
	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_exports_total",
		Help: "Export artifacts written, by kind.",
	}, []string{"kind"})
	challenges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_verification_challenges_total",
		Help: "Risk verification challenges encountered, by outcome.",
	}, []string{"outcome"})
	scrolls := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_scroll_iterations",
		Help:    "Scroll iterations needed to saturate one listing page.",
		Buckets: prometheus.LinearBuckets(1, 2, 10),
	})

	registry.MustRegister(skus, harvested, harvestErrs, exports, challenges, scrolls)

	return &Metrics{
		Registry:          registry,
		SKUsDiscovered:    skus,
		ProductsHarvested: harvested,
		HarvestErrors:     harvestErrs,
		ExportsTotal:      exports,
		ChallengesTotal:   challenges,
		ScrollIterations:  scrolls,
	}
}

func (m *Metrics) AddSKUs(n int) {
	if m == nil {
		return
	}
	m.SKUsDiscovered.Add(float64(n))
}

func (m *Metrics) IncHarvested() {
	if m == nil {
		return
	}
	m.ProductsHarvested.Inc()
}

func (m *Metrics) IncHarvestError() {
	if m == nil {
		return
	}
	m.HarvestErrors.Inc()
}

func (m *Metrics) IncExport(kind string) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncChallenge(outcome string) {
	if m == nil {
		return
	}
	m.ChallengesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveScrollIterations(n int) {
	if m == nil {
		return
	}
	m.ScrollIterations.Observe(float64(n))
}
