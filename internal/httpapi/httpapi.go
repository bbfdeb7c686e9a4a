// Package httpapi is the coordinator's Run Control and Event Stream surface
// (spec §6): start/inspect/cancel a run over plain JSON, and follow its
// trace/workflow events over a websocket. Everything else the teacher's
// cmd/orchestrator exposes — artifact CAS, tags, workflow-definition CRUD,
// run patches — belongs to the Resource Gateway's producer, not the
// coordinator itself, and has no handler here; see DESIGN.md.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/coordinator/internal/coordinator"
	"github.com/lyzr/coordinator/internal/logger"
)

// Server wraps an echo.Echo exposing the coordinator's HTTP surface.
type Server struct {
	echo  *echo.Echo
	actor *coordinator.Actor
	log   *logger.Logger
}

// New builds a Server routed exactly as RegisterRoutes lays out below,
// grounded on the teacher's cmd/orchestrator/routes registration shape.
func New(actor *coordinator.Actor, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(emw.Recover())
	e.Use(emw.RequestID())

	s := &Server{echo: e, actor: actor, log: log}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	h := &runHandler{actor: s.actor, log: s.log}

	runs := s.echo.Group("/runs")
	runs.POST("", h.StartRun)
	runs.GET("/:id", h.GetRun)
	runs.POST("/:id/cancel", h.CancelRun)
	runs.GET("/:id/events", h.StreamEvents)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Start blocks serving HTTP on addr, e.g. ":8080".
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Echo exposes the underlying router, for tests that want to drive requests
// through httptest without opening a real listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
