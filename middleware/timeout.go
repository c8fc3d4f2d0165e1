package middleware

import (
	"context"
	"log/slog"

	"github.com/strandhq/loom/agent"
)

// Timeout returns middleware that enforces the invocation's deadline.
// If the invocation has a non-zero Timeout, a context.WithTimeout wraps
// the handler call. When the deadline is exceeded the context is
// cancelled and the invoker reports a transient fault.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *agent.Invocation, next Handler) error {
		if inv.Timeout > 0 {
			logger.Debug("step timeout set",
				slog.String("run_id", inv.RunID.String()),
				slog.String("step_id", inv.StepID),
				slog.Duration("timeout", inv.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
