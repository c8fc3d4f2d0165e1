package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/strandhq/loom/id"
)

// entityFns pairs each entity's constructor with its checked parser.
var entityFns = []struct {
	name    string
	prefix  string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
}{
	{"workflow", "wf", id.NewWorkflowID, id.ParseWorkflowID},
	{"run", "wfrun", id.NewRunID, id.ParseRunID},
	{"agent", "agt", id.NewAgentID, id.ParseAgentID},
	{"capability", "cap", id.NewCapabilityID, id.ParseCapabilityID},
	{"trigger", "trg", id.NewTriggerID, id.ParseTriggerID},
	{"activity", "act", id.NewActivityID, id.ParseActivityID},
	{"worker", "wkr", id.NewWorkerID, id.ParseWorkerID},
	{"subscription", "sub", id.NewSubscriptionID, id.ParseSubscriptionID},
}

func TestEntityConstructorsAndParsers(t *testing.T) {
	t.Parallel()

	for _, e := range entityFns {
		t.Run(e.name, func(t *testing.T) {
			t.Parallel()

			generated := e.newFn()
			if generated.IsNil() {
				t.Fatal("constructor returned Nil")
			}
			if got := string(generated.Prefix()); got != e.prefix {
				t.Fatalf("prefix = %q, want %q", got, e.prefix)
			}
			if s := generated.String(); !strings.HasPrefix(s, e.prefix+"_") {
				t.Fatalf("String() = %q, want %q prefix", s, e.prefix+"_")
			}

			parsed, err := e.parseFn(generated.String())
			if err != nil {
				t.Fatalf("parse round-trip: %v", err)
			}
			if parsed.String() != generated.String() {
				t.Fatalf("round-trip mismatch: %v != %v", parsed, generated)
			}
		})
	}
}

func TestCheckedParsersRejectOtherEntities(t *testing.T) {
	t.Parallel()

	// Feed every parser an ID of the next entity in the table.
	for i, e := range entityFns {
		other := entityFns[(i+1)%len(entityFns)]
		wrong := other.newFn().String()
		if _, err := e.parseFn(wrong); err == nil {
			t.Errorf("%s parser accepted %q", e.name, wrong)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "no-underscore", "wf_!!!", "_abc"} {
		if _, err := id.Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}

func TestParseWithPrefixMismatch(t *testing.T) {
	t.Parallel()

	workflowID := id.NewWorkflowID()
	if _, err := id.ParseWithPrefix(workflowID.String(), id.PrefixRun); err == nil {
		t.Error("expected prefix mismatch error")
	}
	if !strings.Contains(
		func() string {
			_, err := id.ParseWithPrefix(workflowID.String(), id.PrefixRun)
			return err.Error()
		}(), "expected prefix") {
		t.Error("error should name the expected prefix")
	}
}

func TestNilBehavior(t *testing.T) {
	t.Parallel()

	var zero id.ID
	if !zero.IsNil() || !id.Nil.IsNil() {
		t.Fatal("zero value should be Nil")
	}
	if zero.String() != "" || zero.Prefix() != "" {
		t.Errorf("Nil renders as %q/%q, want empty", zero.String(), zero.Prefix())
	}

	val, err := zero.Value()
	if err != nil || val != nil {
		t.Errorf("Nil.Value() = (%v, %v), want (nil, nil)", val, err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	type doc struct {
		Run      id.RunID      `json:"run"`
		Optional id.WorkflowID `json:"optional,omitempty"`
	}

	in := doc{Run: id.NewRunID()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out doc
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Run.String() != in.Run.String() {
		t.Errorf("run = %v, want %v", out.Run, in.Run)
	}
	if !out.Optional.IsNil() {
		t.Errorf("optional = %v, want Nil", out.Optional)
	}
}

func TestScanVariants(t *testing.T) {
	t.Parallel()

	original := id.NewCapabilityID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if fromString.String() != original.String() || fromBytes.String() != original.String() {
		t.Error("scan variants disagree with original")
	}

	var fromNull id.ID
	if err := fromNull.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !fromNull.IsNil() {
		t.Error("NULL should scan to Nil")
	}

	var fromInt id.ID
	if err := fromInt.Scan(42); err == nil {
		t.Error("scanning an int should fail")
	}
}

func TestIDsAreKSortableUnique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for range 100 {
		s := id.NewRunID().String()
		if seen[s] {
			t.Fatalf("duplicate ID %q", s)
		}
		seen[s] = true
	}
}
