package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/coordinator/internal/coordinator"
	"github.com/lyzr/coordinator/internal/logger"
)

// runHandler holds the dependencies every run-control endpoint needs,
// mirroring the teacher's handlers.RunHandler shape (components bundled
// into one struct per handler family rather than threaded as parameters).
type runHandler struct {
	actor *coordinator.Actor
	log   *logger.Logger
}

// startRunRequest is the POST /runs body: which workflow version to run and
// its input payload (spec §4.1's start(input)).
type startRunRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Version    string         `json:"version"`
	Input      map[string]any `json:"input"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

// StartRun handles POST /runs.
func (h *runHandler) StartRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkflowID == "" || req.Version == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id and version are required")
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	ref := coordinator.DefinitionRef{ID: req.WorkflowID, Version: req.Version}
	runID, err := h.actor.StartRun(c.Request().Context(), ref, req.Input)
	if err != nil {
		h.log.Error("start run failed", "workflow_id", req.WorkflowID, "version", req.Version, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, startRunResponse{RunID: runID})
}

// runResponse mirrors coordinator.RunInfo for the wire, spec §6's
// getRun(run_id) -> {status, output | error}.
type runResponse struct {
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	FinalOutput map[string]any `json:"output,omitempty"`
	Error       any            `json:"error,omitempty"`
}

// GetRun handles GET /runs/:id.
func (h *runHandler) GetRun(c echo.Context) error {
	runID := c.Param("id")
	info, err := h.actor.GetRun(runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	resp := runResponse{RunID: info.RunID, Status: string(info.Status), FinalOutput: info.FinalOutput}
	if info.Error != nil {
		resp.Error = info.Error
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelRun handles POST /runs/:id/cancel.
func (h *runHandler) CancelRun(c echo.Context) error {
	runID := c.Param("id")
	if err := h.actor.CancelRun(runID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.NoContent(http.StatusAccepted)
}
