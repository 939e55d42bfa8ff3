package handlers

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/storage"
)

// JobsHandler exposes job status, cancellation and the finished artifacts.
type JobsHandler struct {
	workerPool *queue.WorkerPool
	db         *storage.MetadataDB
}

// NewJobsHandler creates a jobs handler. db may be nil, in which case only
// jobs of the running process are listed.
func NewJobsHandler(workerPool *queue.WorkerPool, db *storage.MetadataDB) *JobsHandler {
	return &JobsHandler{workerPool: workerPool, db: db}
}

// Status handles GET /jobs/:id
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	st, err := h.workerPool.Status(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(st)
}

// Cancel handles DELETE /jobs/:id
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if err := h.workerPool.Cancel(jobID); err != nil {
		return jobError(c, err)
	}
	st, err := h.workerPool.Status(jobID)
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(st)
}

// Subtitle handles GET /jobs/:id/subtitle
func (h *JobsHandler) Subtitle(c *fiber.Ctx) error {
	result, err := h.workerPool.Result(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/x-subrip; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.srt"`, result.JobID))
	return c.Send(result.Subtitle)
}

// Document handles GET /jobs/:id/document
func (h *JobsHandler) Document(c *fiber.Ctx) error {
	result, err := h.workerPool.Result(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(result.Document)
}

// List handles GET /transcripts
func (h *JobsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if h.db == nil {
		jobs := h.workerPool.Jobs()
		if len(jobs) > limit {
			jobs = jobs[:limit]
		}
		return c.JSON(jobs)
	}

	records, err := h.db.ListJobs(limit)
	if err != nil {
		log.Printf("Failed to list jobs: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to list transcripts",
			"code":  "ERR_INTERNAL",
		})
	}
	return c.JSON(records)
}

func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		return c.Status(404).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	case errors.Is(err, queue.ErrJobNotReady):
		return c.Status(409).JSON(fiber.Map{
			"error": "Job is not ready",
			"code":  "ERR_JOB_NOT_READY",
		})
	case errors.Is(err, queue.ErrJobFinished):
		return c.Status(409).JSON(fiber.Map{
			"error": "Job already finished",
			"code":  "ERR_JOB_FINISHED",
		})
	}
	log.Printf("Job request failed: %v", err)
	return c.Status(500).JSON(fiber.Map{
		"error": "Internal error",
		"code":  "ERR_INTERNAL",
	})
}
