package agent_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/id"
)

func TestHTTPInvokerSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	inv := agent.NewHTTPInvoker(nil)
	out, err := inv.Invoke(context.Background(), &agent.Invocation{
		RunID:   id.NewRunID(),
		StepID:  "s1",
		Agent:   &agent.Agent{Name: "a", Endpoint: srv.URL},
		Attempt: 1,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Errorf("output = %s", out)
	}
}

func TestHTTPInvokerStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		kind   loom.FaultKind
	}{
		{"server error is transient", http.StatusInternalServerError, loom.FaultTransient},
		{"unavailable is transient", http.StatusServiceUnavailable, loom.FaultTransient},
		{"too many requests is transient", http.StatusTooManyRequests, loom.FaultTransient},
		{"request timeout is transient", http.StatusRequestTimeout, loom.FaultTransient},
		{"bad request is permanent", http.StatusBadRequest, loom.FaultPermanent},
		{"not found is permanent", http.StatusNotFound, loom.FaultPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			inv := agent.NewHTTPInvoker(nil)
			_, err := inv.Invoke(context.Background(), &agent.Invocation{
				Agent:   &agent.Agent{Name: "a", Endpoint: srv.URL},
				Attempt: 1,
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := loom.KindOf(err); got != tt.kind {
				t.Errorf("KindOf = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestHTTPInvokerTransportErrorIsTransient(t *testing.T) {
	t.Parallel()

	inv := agent.NewHTTPInvoker(nil)
	_, err := inv.Invoke(context.Background(), &agent.Invocation{
		Agent:   &agent.Agent{Name: "a", Endpoint: "http://127.0.0.1:1"},
		Attempt: 1,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !loom.IsTransient(err) {
		t.Errorf("transport error should be transient, got %v", err)
	}
}

func TestHTTPInvokerMissingEndpointIsPermanent(t *testing.T) {
	t.Parallel()

	inv := agent.NewHTTPInvoker(nil)
	_, err := inv.Invoke(context.Background(), &agent.Invocation{
		Agent:   &agent.Agent{Name: "a"},
		Attempt: 1,
	})
	if loom.KindOf(err) != loom.FaultPermanent {
		t.Errorf("missing endpoint should be permanent, got %v", err)
	}
}
