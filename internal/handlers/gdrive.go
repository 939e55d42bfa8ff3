package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/transcription"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

const gdriveDownloadURL = "https://drive.google.com/uc?export=download&id=%s"

var (
	gdriveFilePattern   = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	gdriveOpenPattern   = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	gdriveBareIDPattern = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// GDriveHandler handles Google Drive link processing
type GDriveHandler struct {
	workerPool  *queue.WorkerPool
	tempDir     string
	downloadURL string
	httpClient  *http.Client
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(workerPool *queue.WorkerPool, tempDir string) *GDriveHandler {
	return &GDriveHandler{
		workerPool:  workerPool,
		tempDir:     tempDir,
		downloadURL: gdriveDownloadURL,
		httpClient:  http.DefaultClient,
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

// Handle processes Google Drive link requests
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	if req.URL == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid Google Drive URL",
			"code":  "ERR_INVALID_URL",
		})
	}

	if req.Name == "" {
		req.Name = "gdrive_file"
	}

	jobID := uuid.New().String()
	log.Printf("Downloading from Google Drive: %s", fileID)

	httpReq, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, fmt.Sprintf(h.downloadURL, fileID), nil)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid Google Drive URL",
			"code":  "ERR_INVALID_URL",
		})
	}
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("Failed to download from Google Drive: %v", err)
		return c.Status(502).JSON(fiber.Map{
			"error": "Failed to download file from Google Drive",
			"code":  "ERR_DOWNLOAD_FAILED",
		})
	}
	defer resp.Body.Close()

	// Private files and oversized-file confirmation pages come back as HTML.
	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || strings.HasPrefix(contentType, "text/html") {
		return c.Status(400).JSON(fiber.Map{
			"error": "File not accessible (may be private or doesn't exist)",
			"code":  "ERR_FILE_NOT_ACCESSIBLE",
		})
	}

	tempPath := filepath.Join(h.tempDir, jobID+transcription.ExtensionForMediaType(contentType))
	if err := saveBody(tempPath, resp.Body); err != nil {
		log.Printf("Failed to save Google Drive download: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save downloaded file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	job := queue.NewJob(jobID, req.Name, types.SourceGDrive, tempPath)
	job.UserID = req.UserID
	if err := h.workerPool.EnqueueJob(job); err != nil {
		os.Remove(tempPath)
		return enqueueError(c, err)
	}

	return c.Status(202).JSON(fiber.Map{
		"job_id":  jobID,
		"status":  types.StatusPending,
		"message": "Google Drive file downloaded, processing started",
	})
}

// saveBody writes r to path, removing the partial file on failure.
func saveBody(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// extractGDriveFileID extracts the file ID from various Google Drive URL formats
func extractGDriveFileID(url string) string {
	// https://drive.google.com/file/d/{ID}/view
	if matches := gdriveFilePattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	// https://drive.google.com/open?id={ID}
	if matches := gdriveOpenPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	// Bare ID
	if matches := gdriveBareIDPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	return ""
}
