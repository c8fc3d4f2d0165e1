// Package middleware provides composable middleware for step
// invocation.
//
// A [Middleware] is a function that wraps an invocation handler.
// Middleware are composed into a chain using [Chain] and applied before
// each step attempt executes. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → timeout → handler
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Timeout(logger),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs step, run, agent, duration, and outcome
//   - [Recover] catches panics and converts them to permanent faults
//   - [Timeout] cancels the invocation context after the step deadline
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-step duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, inv *agent.Invocation, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
