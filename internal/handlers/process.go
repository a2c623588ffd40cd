package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/pipeline"
	"github.com/callsight/callsight/internal/queue"
)

// ProcessHandler accepts pipeline requests for already-stored recordings.
type ProcessHandler struct {
	workerPool *queue.WorkerPool
	registry   *queue.Registry
	log        *logrus.Entry
}

// NewProcessHandler creates the handler.
func NewProcessHandler(workerPool *queue.WorkerPool, registry *queue.Registry, log *logrus.Entry) *ProcessHandler {
	return &ProcessHandler{workerPool: workerPool, registry: registry, log: log}
}

type processRequest struct {
	StoragePath      string `json:"storage_path"`
	OriginalFilename string `json:"original_filename"`
	SalespersonID    string `json:"salesperson_id"`
	SalespersonName  string `json:"salesperson_name"`
}

// Handle enqueues one recording for processing.
// POST /api/calls
func (h *ProcessHandler) Handle(c *fiber.Ctx) error {
	var body processRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_BAD_BODY",
		})
	}

	req := pipeline.Request{
		StoragePath:      body.StoragePath,
		OriginalFilename: body.OriginalFilename,
		SalespersonID:    body.SalespersonID,
		SalespersonName:  body.SalespersonName,
		CallerID:         callerID(c, body.SalespersonID),
	}
	if err := requestError(req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_MISSING_FIELD",
		})
	}

	jobID := uuid.New().String()
	if _, err := h.workerPool.Enqueue(jobID, req); err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Server is at capacity, try again later",
			"code":  "ERR_QUEUE_FULL",
		})
	}

	return c.Status(202).JSON(fiber.Map{
		"job_id": jobID,
		"status": "queued",
	})
}

// Status reports one job.
// GET /api/jobs/:id
func (h *ProcessHandler) Status(c *fiber.Ctx) error {
	job, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	return c.JSON(job)
}

// List reports all known jobs, newest first.
// GET /api/jobs
func (h *ProcessHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"jobs": h.registry.List()})
}

// callerID prefers the authenticated caller header, falling back to the
// salesperson making the request.
func callerID(c *fiber.Ctx, fallback string) string {
	if id := c.Get("X-Caller-ID"); id != "" {
		return id
	}
	return fallback
}

// requestError surfaces the pipeline's own validation so the handler and the
// worker agree on what a complete request is.
func requestError(req pipeline.Request) error {
	switch {
	case req.StoragePath == "":
		return errors.New("storage_path is required")
	case req.OriginalFilename == "":
		return errors.New("original_filename is required")
	case req.SalespersonID == "":
		return errors.New("salesperson_id is required")
	}
	return nil
}
