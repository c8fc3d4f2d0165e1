// Package api exposes the engine over HTTP. Handlers are plain echo
// handlers; hosts mount them on their own echo instance or group:
//
//	e := echo.New()
//	api.NewServer(eng, logger).RegisterRoutes(e.Group("/api/v1"))
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/engine"
)

// Server holds the handler dependencies.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates an API server over the engine.
func NewServer(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, logger: logger}
}

// RegisterRoutes mounts all endpoints on the group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	// Workflows.
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.PUT("/workflows/:id", s.UpdateWorkflow)
	g.POST("/workflows/:id/activate", s.ActivateWorkflow)
	g.POST("/workflows/:id/deactivate", s.DeactivateWorkflow)
	g.POST("/workflows/:id/pause", s.PauseWorkflow)
	g.POST("/workflows/:id/resume", s.ResumeWorkflow)
	g.POST("/workflows/:id/runs", s.TriggerRun)

	// Runs.
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.POST("/runs/:id/cancel", s.CancelRun)

	// Agents.
	g.POST("/agents", s.CreateAgent)
	g.GET("/agents", s.ListAgents)
	g.GET("/agents/:id", s.GetAgent)
	g.PUT("/agents/:id", s.UpdateAgent)
	g.POST("/agents/:id/activate", s.ActivateAgent)
	g.POST("/agents/:id/deactivate", s.DeactivateAgent)

	// Capability servers.
	g.POST("/capabilities", s.RegisterCapability)
	g.GET("/capabilities", s.ListCapabilities)
	g.GET("/capabilities/:id", s.GetCapability)
	g.DELETE("/capabilities/:id", s.DeregisterCapability)
	g.POST("/capabilities/:id/probe", s.ProbeCapability)

	// Triggers and events.
	g.POST("/triggers", s.CreateTrigger)
	g.GET("/triggers", s.ListTriggers)
	g.GET("/triggers/:id", s.GetTrigger)
	g.PUT("/triggers/:id", s.UpdateTrigger)
	g.DELETE("/triggers/:id", s.DeleteTrigger)
	g.POST("/events", s.FireEvent)

	// Activity and stats.
	g.GET("/activities", s.ListActivities)
	g.GET("/stats", s.Stats)
}

// httpError maps library errors onto HTTP status codes.
func httpError(err error) error {
	var verr *loom.ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	switch {
	case errors.Is(err, loom.ErrWorkflowNotFound),
		errors.Is(err, loom.ErrRunNotFound),
		errors.Is(err, loom.ErrAgentNotFound),
		errors.Is(err, loom.ErrCapabilityNotFound),
		errors.Is(err, loom.ErrTriggerNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, loom.ErrWorkflowExists),
		errors.Is(err, loom.ErrDuplicateCapability),
		errors.Is(err, loom.ErrDuplicateTrigger),
		errors.Is(err, loom.ErrRunConflict),
		errors.Is(err, loom.ErrCapabilityReferenced):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, loom.ErrWorkflowInactive),
		errors.Is(err, loom.ErrAgentInactive),
		errors.Is(err, loom.ErrRunTerminal),
		errors.Is(err, loom.ErrInvalidState):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Stats returns run counts by state and broadcast hub metrics.
func (s *Server) Stats(c echo.Context) error {
	stats, err := s.engine.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
