package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/strandhq/loom/activity"
)

// ListActivities returns the activity log, newest first. Filters:
// ?resource=, ?resource_id=, ?action=. (GET /activities)
func (s *Server) ListActivities(c echo.Context) error {
	opts := activity.ListOpts{
		Resource:   c.QueryParam("resource"),
		ResourceID: c.QueryParam("resource_id"),
		Action:     c.QueryParam("action"),
		Limit:      queryInt(c, "limit"),
		Offset:     queryInt(c, "offset"),
	}
	entries, err := s.engine.Activities().List(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}
