package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/id"
)

// agentResponse carries the agent plus any unreachable-capability
// binding warnings.
type agentResponse struct {
	Agent    *agent.Agent `json:"agent"`
	Warnings []string     `json:"warnings,omitempty"`
}

// CreateAgent registers an agent. (POST /agents)
func (s *Server) CreateAgent(c echo.Context) error {
	var a agent.Agent
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	warnings, err := s.engine.Agents().Create(c.Request().Context(), &a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, agentResponse{Agent: &a, Warnings: warnings})
}

// ListAgents returns agents, optionally filtered by ?status=.
// (GET /agents)
func (s *Server) ListAgents(c echo.Context) error {
	opts := agent.ListOpts{
		Status: agent.Status(c.QueryParam("status")),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	agents, err := s.engine.Agents().List(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, agents)
}

// GetAgent fetches one agent. (GET /agents/:id)
func (s *Server) GetAgent(c echo.Context) error {
	agentID, err := id.ParseAgentID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid agent id")
	}
	a, err := s.engine.Agents().Get(c.Request().Context(), agentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// UpdateAgent replaces an agent's mutable fields. (PUT /agents/:id)
func (s *Server) UpdateAgent(c echo.Context) error {
	agentID, err := id.ParseAgentID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid agent id")
	}
	var a agent.Agent
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	a.ID = agentID
	warnings, err := s.engine.Agents().Update(c.Request().Context(), &a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, agentResponse{Agent: &a, Warnings: warnings})
}

// ActivateAgent marks an agent active. (POST /agents/:id/activate)
func (s *Server) ActivateAgent(c echo.Context) error {
	return s.setAgentStatus(c, s.engine.Agents().Activate)
}

// DeactivateAgent marks an agent inactive. Steps bound to it fail
// permanently at dispatch. (POST /agents/:id/deactivate)
func (s *Server) DeactivateAgent(c echo.Context) error {
	return s.setAgentStatus(c, s.engine.Agents().Deactivate)
}

func (s *Server) setAgentStatus(c echo.Context, op func(context.Context, id.ID) error) error {
	agentID, err := id.ParseAgentID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid agent id")
	}
	ctx := c.Request().Context()
	if err := op(ctx, agentID); err != nil {
		return httpError(err)
	}
	a, err := s.engine.Agents().Get(ctx, agentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
