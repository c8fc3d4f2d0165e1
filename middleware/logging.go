package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/strandhq/loom/agent"
)

// Logging returns middleware that logs invocation start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *agent.Invocation, next Handler) error {
		logger.Info("step invocation started",
			slog.String("run_id", inv.RunID.String()),
			slog.String("step_id", inv.StepID),
			slog.String("agent", inv.Agent.Name),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step invocation failed",
				slog.String("run_id", inv.RunID.String()),
				slog.String("step_id", inv.StepID),
				slog.String("agent", inv.Agent.Name),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("step invocation completed",
				slog.String("run_id", inv.RunID.String()),
				slog.String("step_id", inv.StepID),
				slog.String("agent", inv.Agent.Name),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
