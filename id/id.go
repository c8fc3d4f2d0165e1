// Package id provides prefix-typed identifiers for Loom entities.
//
// An ID is a TypeID: a UUIDv7 suffix behind a short prefix naming the
// entity type, rendered as "prefix_suffix". IDs sort by creation time
// and are safe in URLs and log lines.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

const (
	PrefixWorkflow     Prefix = "wf"
	PrefixRun          Prefix = "wfrun"
	PrefixAgent        Prefix = "agt"
	PrefixCapability   Prefix = "cap"
	PrefixTrigger      Prefix = "trg"
	PrefixActivity     Prefix = "act"
	PrefixWorker       Prefix = "wkr"
	PrefixSubscription Prefix = "sub"
)

// ID identifies one entity. The zero value is Nil: it renders as the
// empty string, marshals to empty text, and stores as SQL NULL.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a fresh ID under the given prefix. An invalid prefix
// is a programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse turns "wfrun_01h2xcejqtf2nbrexx3vqjhp41" back into an ID. The
// empty string is an error, not Nil; use UnmarshalText for the lenient
// form.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses and additionally requires the given prefix,
// rejecting IDs of the wrong entity type.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", want, got)
	}
	return parsed, nil
}

// MustParse panics instead of returning an error. For fixtures and
// hardcoded values only.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// Per-entity aliases. These are plain aliases of ID, so the prefix
// discipline comes from the ParseXID helpers, not the type system;
// the aliases exist to make signatures self-describing.
type (
	WorkflowID     = ID
	RunID          = ID
	AgentID        = ID
	CapabilityID   = ID
	TriggerID      = ID
	ActivityID     = ID
	WorkerID       = ID
	SubscriptionID = ID
)

func NewWorkflowID() ID     { return New(PrefixWorkflow) }
func NewRunID() ID          { return New(PrefixRun) }
func NewAgentID() ID        { return New(PrefixAgent) }
func NewCapabilityID() ID   { return New(PrefixCapability) }
func NewTriggerID() ID      { return New(PrefixTrigger) }
func NewActivityID() ID     { return New(PrefixActivity) }
func NewWorkerID() ID       { return New(PrefixWorker) }
func NewSubscriptionID() ID { return New(PrefixSubscription) }

func ParseWorkflowID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixWorkflow) }
func ParseRunID(s string) (ID, error)          { return ParseWithPrefix(s, PrefixRun) }
func ParseAgentID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixAgent) }
func ParseCapabilityID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixCapability) }
func ParseTriggerID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixTrigger) }
func ParseActivityID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixActivity) }
func ParseWorkerID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixWorker) }
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }

// String renders "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the entity-type prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields Nil, which lets optional JSON fields round-trip.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil becomes SQL NULL so optional
// foreign key columns stay nullable.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
