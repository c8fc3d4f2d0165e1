package agent_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/id"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore is a minimal in-memory agent.Store for registry tests.
type fakeStore struct {
	mu     sync.Mutex
	agents map[id.AgentID]*agent.Agent
}

func newFakeStore() *fakeStore {
	return &fakeStore{agents: make(map[id.AgentID]*agent.Agent)}
}

func (s *fakeStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *fakeStore) GetAgent(_ context.Context, agentID id.AgentID) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, loom.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) UpdateAgent(_ context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; !ok {
		return loom.ErrAgentNotFound
	}
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *fakeStore) ListAgents(_ context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*agent.Agent
	for _, a := range s.agents {
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// fakeCaps marks one capability ID as unreachable, everything else
// registered and reachable, unless unknown is set.
type fakeCaps struct {
	unreachable id.CapabilityID
	unknown     id.CapabilityID
}

func (f *fakeCaps) ResolveRegistered(_ context.Context, capID id.CapabilityID) (bool, error) {
	if capID == f.unknown {
		return false, loom.ErrCapabilityNotFound
	}
	return capID != f.unreachable, nil
}

func TestRegistryCreateAndResolve(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry(newFakeStore(), &fakeCaps{}, testLogger())

	a := &agent.Agent{Name: "summarizer", Endpoint: "http://agents.local/summarize"}
	warnings, err := reg.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if a.ID.IsNil() {
		t.Fatal("Create should assign an ID")
	}
	if a.Status != agent.StatusActive {
		t.Errorf("Status = %q, want active", a.Status)
	}

	if err := reg.ResolveActive(context.Background(), a.ID); err != nil {
		t.Errorf("ResolveActive failed: %v", err)
	}
}

func TestRegistryCreateRequiresName(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry(newFakeStore(), nil, testLogger())
	_, err := reg.Create(context.Background(), &agent.Agent{Endpoint: "http://x"})
	var verr *loom.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *loom.ValidationError", err)
	}
}

func TestRegistryUnreachableBindingIsFlagged(t *testing.T) {
	t.Parallel()

	down := id.NewCapabilityID()
	reg := agent.NewRegistry(newFakeStore(), &fakeCaps{unreachable: down}, testLogger())

	a := &agent.Agent{
		Name:          "indexer",
		Endpoint:      "http://agents.local/index",
		CapabilityIDs: []id.CapabilityID{down},
	}
	warnings, err := reg.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one unreachable flag", warnings)
	}
}

func TestRegistryUnknownBindingFails(t *testing.T) {
	t.Parallel()

	ghost := id.NewCapabilityID()
	reg := agent.NewRegistry(newFakeStore(), &fakeCaps{unknown: ghost}, testLogger())

	_, err := reg.Create(context.Background(), &agent.Agent{
		Name:          "indexer",
		Endpoint:      "http://agents.local/index",
		CapabilityIDs: []id.CapabilityID{ghost},
	})
	if !errors.Is(err, loom.ErrCapabilityNotFound) {
		t.Fatalf("error = %v, want ErrCapabilityNotFound", err)
	}
}

func TestRegistryDeactivateBlocksResolve(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry(newFakeStore(), nil, testLogger())

	a := &agent.Agent{Name: "worker", Endpoint: "http://agents.local/w"}
	if _, err := reg.Create(context.Background(), a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := reg.Deactivate(context.Background(), a.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if err := reg.ResolveActive(context.Background(), a.ID); !errors.Is(err, loom.ErrAgentInactive) {
		t.Errorf("ResolveActive = %v, want ErrAgentInactive", err)
	}

	if err := reg.Activate(context.Background(), a.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := reg.ResolveActive(context.Background(), a.ID); err != nil {
		t.Errorf("ResolveActive after reactivation failed: %v", err)
	}
}

func TestRegistryMarkErrorBlocksResolve(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry(newFakeStore(), nil, testLogger())

	a := &agent.Agent{Name: "flaky", Endpoint: "http://agents.local/f"}
	if _, err := reg.Create(context.Background(), a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := reg.MarkError(context.Background(), a.ID); err != nil {
		t.Fatalf("MarkError failed: %v", err)
	}
	got, err := reg.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != agent.StatusError {
		t.Fatalf("Status = %q, want error", got.Status)
	}
	if err := reg.ResolveActive(context.Background(), a.ID); !errors.Is(err, loom.ErrAgentInactive) {
		t.Errorf("ResolveActive = %v, want ErrAgentInactive", err)
	}

	// Only an explicit reactivation clears the error status.
	if err := reg.Activate(context.Background(), a.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := reg.ResolveActive(context.Background(), a.ID); err != nil {
		t.Errorf("ResolveActive after reactivation failed: %v", err)
	}
}

func TestRegistryResolveMissing(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry(newFakeStore(), nil, testLogger())
	err := reg.ResolveActive(context.Background(), id.NewAgentID())
	if !errors.Is(err, loom.ErrAgentNotFound) {
		t.Errorf("ResolveActive = %v, want ErrAgentNotFound", err)
	}
}
