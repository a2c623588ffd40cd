package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/storage"
)

// TranscriptHandler serves the persisted pipeline output.
type TranscriptHandler struct {
	db  *storage.MetadataDB
	log *logrus.Entry
}

// NewTranscriptHandler creates the handler.
func NewTranscriptHandler(db *storage.MetadataDB, log *logrus.Entry) *TranscriptHandler {
	return &TranscriptHandler{db: db, log: log}
}

// List returns recent transcript records without their payloads.
// GET /api/transcripts?limit=N
func (h *TranscriptHandler) List(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			return c.Status(400).JSON(fiber.Map{
				"error": "limit must be between 1 and 500",
				"code":  "ERR_BAD_LIMIT",
			})
		}
		limit = n
	}

	records, err := h.db.ListTranscriptRecords(limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to list transcript records")
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to list transcripts",
			"code":  "ERR_DB",
		})
	}
	return c.JSON(fiber.Map{"transcripts": records})
}

// Get returns one full record including the redacted transcript payload.
// GET /api/transcripts/:id
func (h *TranscriptHandler) Get(c *fiber.Ctx) error {
	rec, err := h.db.GetTranscriptRecord(c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Transcript not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	return c.JSON(rec)
}

// Conversations returns the persisted conversations of a transcript.
// GET /api/transcripts/:id/conversations
func (h *TranscriptHandler) Conversations(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.db.GetTranscriptRecord(id); err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Transcript not found",
			"code":  "ERR_NOT_FOUND",
		})
	}

	convs, err := h.db.ListConversations(id)
	if err != nil {
		h.log.WithError(err).Error("Failed to list conversations")
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to list conversations",
			"code":  "ERR_DB",
		})
	}
	return c.JSON(fiber.Map{"conversations": convs})
}
