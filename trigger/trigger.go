package trigger

import (
	"encoding/json"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// Kind distinguishes trigger varieties.
type Kind string

const (
	// KindCron triggers fire on a schedule.
	KindCron Kind = "cron"

	// KindEvent triggers fire when a matching event is published.
	KindEvent Kind = "event"
)

// Trigger binds a firing condition to a workflow.
type Trigger struct {
	loom.Entity

	ID         id.TriggerID  `json:"id"`
	WorkflowID id.WorkflowID `json:"workflow_id"`
	Name       string        `json:"name"`
	Kind       Kind          `json:"kind"`
	Enabled    bool          `json:"enabled"`

	// Schedule is the cron expression for KindCron.
	Schedule string `json:"schedule,omitempty"`

	// EventPattern matches event names for KindEvent: either an exact
	// name or a prefix pattern ending in ".*".
	EventPattern string `json:"event_pattern,omitempty"`

	// RatePerMinute caps event-trigger fires. Zero means no limit.
	RatePerMinute int `json:"rate_per_minute,omitempty"`

	// Input is the default run input supplied on fire.
	Input json.RawMessage `json:"input,omitempty"`

	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
}

// Matches reports whether an event name satisfies the trigger's
// pattern.
func (t *Trigger) Matches(eventName string) bool {
	if t.Kind != KindEvent || t.EventPattern == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(t.EventPattern, ".*"); ok {
		return strings.HasPrefix(eventName, prefix+".")
	}
	return t.EventPattern == eventName
}

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Validate checks a trigger definition. Cron triggers must carry a
// parseable schedule; event triggers a non-empty pattern.
func Validate(t *Trigger) error {
	if t.Name == "" {
		return &loom.ValidationError{Field: "name", Reason: "trigger name is required"}
	}
	if t.WorkflowID.IsNil() {
		return &loom.ValidationError{Field: "workflow_id", Reason: "trigger must reference a workflow"}
	}
	switch t.Kind {
	case KindCron:
		if t.Schedule == "" {
			return &loom.ValidationError{Field: "schedule", Reason: "cron trigger requires a schedule"}
		}
		if _, err := ParseSchedule(t.Schedule); err != nil {
			return &loom.ValidationError{Field: "schedule", Reason: err.Error()}
		}
	case KindEvent:
		if t.EventPattern == "" {
			return &loom.ValidationError{Field: "event_pattern", Reason: "event trigger requires a pattern"}
		}
	default:
		return &loom.ValidationError{Field: "kind", Reason: "unknown trigger kind"}
	}
	return nil
}
