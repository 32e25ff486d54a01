package observability

import (
	"context"
	"errors"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Status label values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Metrics holds the Prometheus collectors fed by lifecycle hooks.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	nodes        *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_runs_total",
				Help: "Total number of graph runs by outcome",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "espalier_run_duration_seconds",
				Help:    "Duration of graph runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pipeline"},
		),
		nodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_node_executions_total",
				Help: "Total number of node executions by outcome",
			},
			[]string{"node", "kind", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "espalier_node_duration_seconds",
				Help:    "Duration of node executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node", "kind"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "espalier_nodes_in_flight",
				Help: "Nodes currently executing",
			},
			[]string{"kind"},
		),
	}

	for _, c := range []prometheus.Collector{m.runs, m.runDuration, m.nodes, m.nodeDuration, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks recording into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunFinish: func(_ context.Context, e *domain.RunEvent) {
			m.runs.WithLabelValues(e.Pipeline, status(e.Err)).Inc()
			m.runDuration.WithLabelValues(e.Pipeline).Observe(e.Duration.Seconds())
		},
		OnNodeStart: func(_ context.Context, e *domain.NodeEvent) {
			m.inFlight.WithLabelValues(e.Kind).Inc()
		},
		OnNodeFinish: func(_ context.Context, e *domain.NodeEvent) {
			m.inFlight.WithLabelValues(e.Kind).Dec()
			m.nodes.WithLabelValues(e.Node, e.Kind, status(e.Err)).Inc()
			m.nodeDuration.WithLabelValues(e.Node, e.Kind).Observe(e.Duration.Seconds())
		},
	}
}

func status(err error) string {
	var timeoutErr *domain.CancellationTimeoutError
	switch {
	case err == nil:
		return StatusSucceeded
	case errors.Is(err, context.Canceled) && !errors.As(err, &timeoutErr):
		return StatusCanceled
	default:
		return StatusFailed
	}
}
