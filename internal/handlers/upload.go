package handlers

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/transcription"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	workerPool *queue.WorkerPool
	tempDir    string
	maxSizeMB  int
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		workerPool: workerPool,
		tempDir:    tempDir,
		maxSizeMB:  maxSizeMB,
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	// Get uploaded file
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	requestName := c.FormValue("name")
	if requestName == "" {
		requestName = "untitled"
	}

	// Validate file size
	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	// Validate media type (audio or video)
	contentType := file.Header.Get("Content-Type")
	if !transcription.ValidateMediaType(file.Filename, contentType) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported media format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	jobID := uuid.New().String()
	extension := filepath.Ext(file.Filename)
	if extension == "" {
		extension = transcription.ExtensionForMediaType(contentType)
	}
	tempPath := filepath.Join(h.tempDir, jobID+extension)

	if err := c.SaveFile(file, tempPath); err != nil {
		log.Printf("Failed to save uploaded file: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	job := queue.NewJob(jobID, requestName, types.SourceUpload, tempPath)
	job.UserID = c.FormValue("user_id")
	if err := h.workerPool.EnqueueJob(job); err != nil {
		os.Remove(tempPath)
		return enqueueError(c, err)
	}

	return c.Status(202).JSON(fiber.Map{
		"job_id":  jobID,
		"status":  types.StatusPending,
		"message": "File uploaded successfully, processing started",
	})
}

// enqueueError reports a job the worker pool could not accept.
func enqueueError(c *fiber.Ctx, err error) error {
	status, message, code := enqueueFailure(err)
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}

// enqueueFailure maps a rejected enqueue to a status and a fixed message;
// the underlying error is only logged.
func enqueueFailure(err error) (status int, message, code string) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return 503, "Too many jobs in progress, try again later", "ERR_QUEUE_FULL"
	case errors.Is(err, queue.ErrStopped):
		return 503, "Server is shutting down", "ERR_UNAVAILABLE"
	}
	log.Printf("Failed to enqueue job: %v", err)
	return 500, "Failed to start processing", "ERR_INTERNAL"
}
