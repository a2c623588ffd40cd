package handlers

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/audio"
	"github.com/callsight/callsight/internal/pipeline"
	"github.com/callsight/callsight/internal/queue"
	"github.com/callsight/callsight/internal/storage"
)

// UploadHandler accepts a direct recording upload, stores it in the object
// store and enqueues it for processing in one call.
type UploadHandler struct {
	workerPool *queue.WorkerPool
	objects    storage.ObjectStore
	maxSizeMB  int
	log        *logrus.Entry
}

// NewUploadHandler creates the handler.
func NewUploadHandler(workerPool *queue.WorkerPool, objects storage.ObjectStore, maxSizeMB int, log *logrus.Entry) *UploadHandler {
	return &UploadHandler{
		workerPool: workerPool,
		objects:    objects,
		maxSizeMB:  maxSizeMB,
		log:        log,
	}
}

// Handle processes the upload request.
// POST /api/calls/upload
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	salespersonID := c.FormValue("salesperson_id")
	if salespersonID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "salesperson_id is required",
			"code":  "ERR_MISSING_FIELD",
		})
	}
	salespersonName := c.FormValue("salesperson_name")

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !audio.SupportedFormat(file.Filename) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read upload",
			"code":  "ERR_READ_FAILED",
		})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read upload",
			"code":  "ERR_READ_FAILED",
		})
	}

	jobID := uuid.New().String()
	storagePath := fmt.Sprintf("calls/%s/%s%s", salespersonID, jobID, filepath.Ext(file.Filename))
	if err := h.objects.Upload(c.Context(), storagePath, data); err != nil {
		h.log.WithError(err).Error("Upload to object store failed")
		return c.Status(502).JSON(fiber.Map{
			"error": "Failed to store file",
			"code":  "ERR_STORE_FAILED",
		})
	}

	req := pipeline.Request{
		StoragePath:      storagePath,
		OriginalFilename: file.Filename,
		SalespersonID:    salespersonID,
		SalespersonName:  salespersonName,
		CallerID:         callerID(c, salespersonID),
	}
	if _, err := h.workerPool.Enqueue(jobID, req); err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Server is at capacity, try again later",
			"code":  "ERR_QUEUE_FULL",
		})
	}

	return c.Status(202).JSON(fiber.Map{
		"job_id":       jobID,
		"storage_path": storagePath,
		"status":       "queued",
	})
}
