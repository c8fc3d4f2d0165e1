// Package observability exports engine lifecycle activity as
// OpenTelemetry metrics. The Metrics hook implements the run, step,
// trigger, and registry hook interfaces and records counters and
// histograms for each event it observes.
//
// Register it like any other hook:
//
//	e, _ := engine.Build(c,
//		engine.WithInvoker(inv),
//		engine.WithHooks(observability.NewMetrics()),
//	)
//
// Instruments are created against the global MeterProvider by default;
// NewMetricsWithMeter accepts an explicit meter for tests or hosts
// that manage their own providers. Step invocation latency lives in
// middleware.Metrics, which sees individual attempts; this package
// covers the coarser lifecycle view.
package observability
