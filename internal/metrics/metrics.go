// Package metrics records delivery engine counters on a dedicated registry.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "taxdesk"

// Metrics implements the engine's run recorder
type Metrics struct {
	registry    *prometheus.Registry
	processed   *prometheus.CounterVec
	reclaimed   prometheus.Counter
	completed   prometheus.Counter
	runDuration prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipients_processed_total",
				Help:      "Recipients processed by the delivery engine, by outcome",
			},
			[]string{"outcome"},
		),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_reclaimed_total",
			Help:      "Recipients returned to the queue after a stale claim",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_completed_total",
			Help:      "Campaigns marked sent after their queue drained",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of delivery engine runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}

	m.registry.MustRegister(
		m.processed,
		m.reclaimed,
		m.completed,
		m.runDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry so other collectors (HTTP metrics) can join it
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecipientProcessed(outcome string) {
	m.processed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StaleReclaimed(n int64) {
	if n > 0 {
		m.reclaimed.Add(float64(n))
	}
}

func (m *Metrics) CampaignCompleted() {
	m.completed.Inc()
}

func (m *Metrics) RunFinished(d time.Duration) {
	m.runDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Push sends the current values to a Pushgateway under the given job name
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
