package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// Invocation carries everything an invoker needs to execute one step
// attempt against an agent.
type Invocation struct {
	RunID        id.RunID
	WorkflowID   id.WorkflowID
	StepID       string
	Agent        *Agent
	CapabilityID id.CapabilityID
	Input        json.RawMessage

	// Attempt is 1 for the first try and increments on each retry.
	Attempt int

	// Timeout bounds this attempt. Applied by the timeout middleware.
	Timeout time.Duration
}

// Invoker executes a step invocation against an agent and returns the
// agent's output. Errors should be wrapped with loom.Transient or
// loom.Permanent; unwrapped errors are treated as permanent.
type Invoker interface {
	Invoke(ctx context.Context, inv *Invocation) (json.RawMessage, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, inv *Invocation) (json.RawMessage, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, inv *Invocation) (json.RawMessage, error) {
	return f(ctx, inv)
}

// invokeRequest is the wire body POSTed to an agent endpoint.
type invokeRequest struct {
	RunID      id.RunID        `json:"run_id"`
	WorkflowID id.WorkflowID   `json:"workflow_id"`
	StepID     string          `json:"step_id"`
	Attempt    int             `json:"attempt"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// HTTPInvoker dispatches step invocations as JSON POSTs to the agent's
// endpoint. Response classification:
//
//	2xx            → success, body is the step output
//	408, 429, 5xx  → transient fault (retried)
//	other 4xx      → permanent fault
//	transport err  → transient fault
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates an HTTP invoker. client may be nil; a client
// without its own timeout is then used (attempts are bounded by the
// timeout middleware's context deadline).
func NewHTTPInvoker(client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPInvoker{client: client}
}

// Invoke implements Invoker.
func (h *HTTPInvoker) Invoke(ctx context.Context, inv *Invocation) (json.RawMessage, error) {
	if inv.Agent == nil || inv.Agent.Endpoint == "" {
		return nil, loom.Permanent(errors.New("agent has no endpoint"))
	}

	body, err := json.Marshal(invokeRequest{
		RunID:      inv.RunID,
		WorkflowID: inv.WorkflowID,
		StepID:     inv.StepID,
		Attempt:    inv.Attempt,
		Input:      inv.Input,
	})
	if err != nil {
		return nil, loom.Permanent(fmt.Errorf("marshal invocation: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.Agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, loom.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline or cancellation; classify as transient so the
			// executor can retry when the budget allows.
			return nil, loom.Transient(fmt.Errorf("invoke %s: %w", inv.Agent.Name, ctx.Err()))
		}
		return nil, loom.Transient(fmt.Errorf("invoke %s: %w", inv.Agent.Name, err))
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, loom.Transient(fmt.Errorf("read response from %s: %w", inv.Agent.Name, err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return out, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, loom.Transient(fmt.Errorf("agent %s returned %d: %s", inv.Agent.Name, resp.StatusCode, truncate(out)))
	default:
		return nil, loom.Permanent(fmt.Errorf("agent %s returned %d: %s", inv.Agent.Name, resp.StatusCode, truncate(out)))
	}
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
