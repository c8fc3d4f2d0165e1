package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/id"
)

// RegisterCapability registers a capability server and runs an initial
// health probe. (POST /capabilities)
func (s *Server) RegisterCapability(c echo.Context) error {
	var srv capability.Server
	if err := c.Bind(&srv); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := s.engine.Capabilities().Register(c.Request().Context(), &srv); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, srv)
}

// ListCapabilities returns capability servers, optionally filtered by
// ?health=. (GET /capabilities)
func (s *Server) ListCapabilities(c echo.Context) error {
	opts := capability.ListOpts{
		Health: capability.Health(c.QueryParam("health")),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	servers, err := s.engine.Capabilities().List(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, servers)
}

// GetCapability fetches one capability server. (GET /capabilities/:id)
func (s *Server) GetCapability(c echo.Context) error {
	capabilityID, err := id.ParseCapabilityID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid capability id")
	}
	srv, err := s.engine.Capabilities().Get(c.Request().Context(), capabilityID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, srv)
}

// DeregisterCapability removes a capability server. Removal is refused
// with 409 while an active workflow references it.
// (DELETE /capabilities/:id)
func (s *Server) DeregisterCapability(c echo.Context) error {
	capabilityID, err := id.ParseCapabilityID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid capability id")
	}
	if err := s.engine.Capabilities().Deregister(c.Request().Context(), capabilityID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ProbeCapability runs a health probe now, outside the monitor's
// schedule, and returns the updated server.
// (POST /capabilities/:id/probe)
func (s *Server) ProbeCapability(c echo.Context) error {
	capabilityID, err := id.ParseCapabilityID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid capability id")
	}
	srv, err := s.engine.Capabilities().Probe(c.Request().Context(), capabilityID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, srv)
}
