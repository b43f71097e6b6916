package server

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/pagesmith/internal/engine"
	"github.com/p-blackswan/pagesmith/internal/models"
	"github.com/p-blackswan/pagesmith/internal/requestid"
)

// AcceptResponse acknowledges an accepted task. The run's outcome is
// delivered later to the task's evaluation URL.
type AcceptResponse struct {
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

// acceptTask checks the secret, validates the payload and hands the task to
// the engine. It never waits for the run.
func (s *Server) acceptTask(c *fiber.Ctx) error {
	var req models.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.metrics.RecordRequest("bad_request")
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Request body must be a JSON task")
	}

	if !secretMatches(s.config.SharedSecret, req.Secret) {
		s.metrics.RecordRequest("forbidden")
		s.logger.Warn().
			Str("task", req.Task.Task).
			Str("ip", c.IP()).
			Msg("secret mismatch, task rejected")
		return problemResponse(c, fiber.StatusForbidden,
			"invalid_secret", "Forbidden", "Invalid secret")
	}

	task := req.Task
	task.Normalize()
	if err := task.Validate(); err != nil {
		s.metrics.RecordRequest("invalid")
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_task", "Bad Request", err.Error())
	}

	runID, err := s.engine.Submit(task)
	switch {
	case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrStopped):
		s.metrics.RecordRequest("unavailable")
		c.Set(fiber.HeaderRetryAfter, "30")
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"unavailable", "Service Unavailable", err.Error())
	case err != nil:
		s.metrics.RecordRequest("error")
		return err
	}

	s.metrics.RecordRequest("accepted")
	s.logger.Info().
		Str("run_id", runID).
		Str("task", task.Task).
		Int("round", task.Round).
		Str("request_id", requestid.FromFiber(c)).
		Msg("task accepted")
	return c.JSON(AcceptResponse{Message: "Request received", RunID: runID})
}

// RunList is the body of GET /api/v1/runs.
type RunList struct {
	Runs  []engine.Run `json:"runs"`
	Total int          `json:"total"`
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	runs := s.engine.List()
	if stage := c.Query("stage"); stage != "" {
		filtered := runs[:0]
		for _, r := range runs {
			if string(r.Stage) == stage {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}
	return c.JSON(RunList{Runs: runs, Total: len(runs)})
}

func (s *Server) getRun(c *fiber.Ctx) error {
	run, ok := s.engine.Get(c.Params("id"))
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"not_found", "Not Found", "Run not found")
	}
	return c.JSON(run)
}
