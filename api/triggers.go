package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/trigger"
)

// CreateTrigger validates and persists a trigger. (POST /triggers)
func (s *Server) CreateTrigger(c echo.Context) error {
	var t trigger.Trigger
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := s.engine.CreateTrigger(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// ListTriggers returns triggers. Filters: ?workflow_id=, ?kind=.
// (GET /triggers)
func (s *Server) ListTriggers(c echo.Context) error {
	opts := trigger.ListOpts{
		Kind:   trigger.Kind(c.QueryParam("kind")),
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
	triggers, err := s.engine.ListTriggers(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, triggers)
}

// GetTrigger fetches one trigger. (GET /triggers/:id)
func (s *Server) GetTrigger(c echo.Context) error {
	triggerID, err := id.ParseTriggerID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	t, err := s.engine.GetTrigger(c.Request().Context(), triggerID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// UpdateTrigger replaces a trigger. A schedule change takes effect on
// the next tick. (PUT /triggers/:id)
func (s *Server) UpdateTrigger(c echo.Context) error {
	triggerID, err := id.ParseTriggerID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	var t trigger.Trigger
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	t.ID = triggerID
	if err := s.engine.UpdateTrigger(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// DeleteTrigger removes a trigger. (DELETE /triggers/:id)
func (s *Server) DeleteTrigger(c echo.Context) error {
	triggerID, err := id.ParseTriggerID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	if err := s.engine.DeleteTrigger(c.Request().Context(), triggerID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fireEventRequest is the body for publishing a named event.
type fireEventRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// fireEventResponse lists the runs started by the event.
type fireEventResponse struct {
	RunIDs []string `json:"runIds"`
}

// FireEvent routes a named event to every matching enabled event
// trigger. (POST /events)
func (s *Server) FireEvent(c echo.Context) error {
	var req fireEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event name is required")
	}
	runs, err := s.engine.FireEvent(c.Request().Context(), req.Name, req.Payload)
	if err != nil {
		return httpError(err)
	}
	resp := fireEventResponse{RunIDs: make([]string, 0, len(runs))}
	for _, runID := range runs {
		resp.RunIDs = append(resp.RunIDs, runID.String())
	}
	return c.JSON(http.StatusOK, resp)
}
