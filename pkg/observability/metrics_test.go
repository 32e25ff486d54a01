package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if want, ok := labels[l.GetName()]; ok && want != l.GetValue() {
					continue metrics
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	hooks := m.Hooks()
	ctx := context.Background()

	node := func(name string, err error) *domain.NodeEvent {
		return &domain.NodeEvent{Node: name, Kind: domain.NodeKindForeign, Duration: 20 * time.Millisecond, Err: err}
	}
	hooks.OnNodeStart(ctx, node("score", nil))
	hooks.OnNodeFinish(ctx, node("score", nil))
	hooks.OnNodeStart(ctx, node("score", nil))
	hooks.OnNodeFinish(ctx, node("score", &domain.NodeExecutionError{Node: "score", Cause: context.Canceled}))
	hooks.OnNodeStart(ctx, node("score", nil))
	hooks.OnNodeFinish(ctx, node("score", &domain.CancellationTimeoutError{Node: "score"}))
	hooks.OnRunFinish(ctx, &domain.RunEvent{Pipeline: "triage", Duration: time.Second, Err: errors.New("boom")})

	assert.Equal(t, 1.0, find(t, reg, "espalier_node_executions_total", map[string]string{"status": "succeeded"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, find(t, reg, "espalier_node_executions_total", map[string]string{"status": "canceled"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, find(t, reg, "espalier_node_executions_total", map[string]string{"status": "failed"}).GetCounter().GetValue())
	assert.Equal(t, 0.0, find(t, reg, "espalier_nodes_in_flight", map[string]string{"kind": "foreign"}).GetGauge().GetValue())
	assert.Equal(t, uint64(3), find(t, reg, "espalier_node_duration_seconds", nil).GetHistogram().GetSampleCount())
	assert.Equal(t, 1.0, find(t, reg, "espalier_runs_total", map[string]string{"pipeline": "triage", "status": "failed"}).GetCounter().GetValue())
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	_, err = observability.NewMetrics(reg)
	assert.Error(t, err)
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := observability.LoggingHooks(logger)
	ctx := context.Background()

	hooks.OnRunStart(ctx, &domain.RunEvent{EventBase: domain.EventBase{RunID: "r1"}, Pipeline: "triage", Nodes: 3})
	hooks.OnNodeFinish(ctx, &domain.NodeEvent{EventBase: domain.EventBase{RunID: "r1"}, Node: "score", Err: errors.New("rate limited")})

	out := buf.String()
	assert.Contains(t, out, "run_start")
	assert.Contains(t, out, "pipeline=triage")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "err=\"rate limited\"")
}
