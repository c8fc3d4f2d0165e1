package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/agent"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are logged with a stack trace and converted to
// permanent faults: an uncaught internal fault fails the step, it is
// never retried and never reaches the worker pool.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *agent.Invocation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("step invocation panicked",
					slog.String("run_id", inv.RunID.String()),
					slog.String("step_id", inv.StepID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = loom.Permanent(fmt.Errorf("panic in step %s: %v", inv.StepID, r))
			}
		}()
		return next(ctx)
	}
}
