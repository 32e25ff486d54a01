package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/espalier/pkg/domain"
)

// LoggingHooks returns lifecycle hooks that log every run and node event.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunStart: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run_start",
				"run_id", e.RunID,
				"pipeline", e.Pipeline,
				"nodes", e.Nodes,
			)
		},
		OnRunFinish: func(ctx context.Context, e *domain.RunEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "run_finish",
					"run_id", e.RunID,
					"duration", e.Duration,
					"err", e.Err,
				)
				return
			}
			logger.InfoContext(ctx, "run_finish", "run_id", e.RunID, "duration", e.Duration)
		},
		OnNodeStart: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_start", "run_id", e.RunID, "node", e.Node, "kind", e.Kind)
		},
		OnNodeFinish: func(ctx context.Context, e *domain.NodeEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "node_finish",
					"run_id", e.RunID,
					"node", e.Node,
					"kind", e.Kind,
					"duration", e.Duration,
					"err", e.Err,
				)
				return
			}
			logger.DebugContext(ctx, "node_finish",
				"run_id", e.RunID,
				"node", e.Node,
				"kind", e.Kind,
				"duration", e.Duration,
			)
		},
	}
}
