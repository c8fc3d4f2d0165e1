// Package activity is the append-only record of everything the engine
// did, consumed by dashboards and operators.
//
// The Recorder never fails its caller: persistence errors are logged
// and swallowed, because losing an audit entry must never abort a
// running workflow. The Hook type bridges lifecycle events to the
// Recorder so every run, step, trigger, and registry transition is
// recorded automatically, with severity levels assigned per action
// (info for normal operations, warning for retries and skips,
// critical for terminal failures).
//
// # Selective filtering
//
//	activity.NewHook(recorder,
//	    activity.WithActions(
//	        activity.ActionRunFailed,
//	        activity.ActionStepFailed,
//	    ),
//	)
package activity
