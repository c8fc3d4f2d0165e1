package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// CreateWorkflow validates and persists a workflow definition.
// (POST /workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var wf workflow.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := s.engine.Workflows().Create(c.Request().Context(), &wf); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// ListWorkflows returns workflow definitions, optionally filtered by
// ?status=. (GET /workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	opts := workflow.ListOpts{
		Status: workflow.Status(c.QueryParam("status")),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	wfs, err := s.engine.Workflows().List(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wfs)
}

// GetWorkflow fetches one workflow definition. (GET /workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	workflowID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	wf, err := s.engine.Workflows().Get(c.Request().Context(), workflowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// UpdateWorkflow replaces a workflow definition. In-flight runs keep
// executing the snapshot they were created with. (PUT /workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	workflowID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	var wf workflow.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	wf.ID = workflowID
	if err := s.engine.Workflows().Update(c.Request().Context(), &wf); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// activateResponse carries the workflow plus any unreachable-capability
// warnings produced during reference resolution.
type activateResponse struct {
	Workflow *workflow.Workflow `json:"workflow"`
	Warnings []string           `json:"warnings,omitempty"`
}

// ActivateWorkflow resolves references and marks the workflow active.
// (POST /workflows/:id/activate)
func (s *Server) ActivateWorkflow(c echo.Context) error {
	workflowID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	ctx := c.Request().Context()
	warnings, err := s.engine.Workflows().Activate(ctx, workflowID)
	if err != nil {
		return httpError(err)
	}
	wf, err := s.engine.Workflows().Get(ctx, workflowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, activateResponse{Workflow: wf, Warnings: warnings})
}

// DeactivateWorkflow marks the workflow inactive.
// (POST /workflows/:id/deactivate)
func (s *Server) DeactivateWorkflow(c echo.Context) error {
	workflowID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	ctx := c.Request().Context()
	if err := s.engine.Workflows().Deactivate(ctx, workflowID); err != nil {
		return httpError(err)
	}
	wf, err := s.engine.Workflows().Get(ctx, workflowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// PauseWorkflow suspends an active workflow. Running runs finish; new
// runs are refused until resume. (POST /workflows/:id/pause)
func (s *Server) PauseWorkflow(c echo.Context) error {
	return s.setWorkflowStatus(c, s.engine.Workflows().Pause)
}

// ResumeWorkflow returns a paused workflow to active.
// (POST /workflows/:id/resume)
func (s *Server) ResumeWorkflow(c echo.Context) error {
	return s.setWorkflowStatus(c, s.engine.Workflows().Resume)
}

func (s *Server) setWorkflowStatus(c echo.Context, op func(context.Context, id.ID) error) error {
	workflowID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	ctx := c.Request().Context()
	if err := op(ctx, workflowID); err != nil {
		return httpError(err)
	}
	wf, err := s.engine.Workflows().Get(ctx, workflowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// triggerRunRequest is the body for manually starting a run.
type triggerRunRequest struct {
	Input json.RawMessage `json:"input,omitempty"`
}

// triggerRunResponse returns the ID of the created run.
type triggerRunResponse struct {
	RunID string `json:"runId"`
}

// TriggerRun queues a manual run of an active workflow.
// (POST /workflows/:id/runs)
func (s *Server) TriggerRun(c echo.Context) error {
	workflowID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	var req triggerRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	runID, err := s.engine.TriggerRun(c.Request().Context(), workflowID, req.Input)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, triggerRunResponse{RunID: runID.String()})
}

// ListRuns returns run history, newest first. Filters: ?workflow_id=,
// ?state=, ?limit=, ?offset=. (GET /runs)
func (s *Server) ListRuns(c echo.Context) error {
	opts := workflow.RunListOpts{
		State:  workflow.RunState(c.QueryParam("state")),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if raw := c.QueryParam("workflow_id"); raw != "" {
		workflowID, err := id.ParseWorkflowID(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
		}
		opts.WorkflowID = workflowID
	}
	runs, err := s.engine.ListRuns(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun fetches one run with its per-step outcomes. (GET /runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	runID, err := id.ParseRunID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	run, err := s.engine.GetRun(c.Request().Context(), runID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun requests cancellation of a run. Cancelling a terminal run
// is a no-op. (POST /runs/:id/cancel)
func (s *Server) CancelRun(c echo.Context) error {
	runID, err := id.ParseRunID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	ctx := c.Request().Context()
	if err := s.engine.CancelRun(ctx, runID); err != nil {
		return httpError(err)
	}
	run, err := s.engine.GetRun(ctx, runID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, run)
}

// queryInt parses an integer query parameter, returning 0 when absent
// or malformed.
func queryInt(c echo.Context, name string) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
