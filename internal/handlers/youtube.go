package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

const (
	captureTimeout     = 30 * time.Minute
	titleLookupTimeout = 20 * time.Second
)

// YouTubeHandler handles YouTube video audio capture
type YouTubeHandler struct {
	workerPool *queue.WorkerPool
	tempDir    string
	ytDlp      string
	// lookupTitle names a job when the request carries no name.
	lookupTitle func(ctx context.Context, url string) (string, error)
}

// NewYouTubeHandler creates a new YouTube handler
func NewYouTubeHandler(workerPool *queue.WorkerPool, tempDir string) *YouTubeHandler {
	return &YouTubeHandler{
		workerPool:  workerPool,
		tempDir:     tempDir,
		ytDlp:       "yt-dlp",
		lookupTitle: pageTitle,
	}
}

// YouTubeRequest represents the request body
type YouTubeRequest struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

// Handle processes YouTube video requests. The job is visible as pending
// while the audio is captured and is queued once the download completes.
func (h *YouTubeHandler) Handle(c *fiber.Ctx) error {
	var req YouTubeRequest
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
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid video URL",
			"code":  "ERR_INVALID_URL",
		})
	}

	if req.Name == "" {
		req.Name = h.title(c.UserContext(), req.URL)
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, jobID+".opus")
	job := queue.NewJob(jobID, req.Name, types.SourceYouTube, tempPath)
	job.UserID = req.UserID
	if err := h.workerPool.Track(job); err != nil {
		return enqueueError(c, err)
	}

	// Capture audio in background (this can take time for long videos)
	go h.capture(job, req.URL)

	return c.Status(202).JSON(fiber.Map{
		"job_id":  jobID,
		"status":  types.StatusPending,
		"message": "YouTube audio capture started (this may take a few minutes for long videos)",
	})
}

// title names a job after its video, falling back to a generic name.
func (h *YouTubeHandler) title(ctx context.Context, url string) string {
	if h.lookupTitle == nil {
		return "youtube_video"
	}
	ctx, cancel := context.WithTimeout(ctx, titleLookupTimeout)
	defer cancel()
	title, err := h.lookupTitle(ctx, url)
	if err != nil || title == "" {
		log.Printf("Title lookup failed for %s: %v", url, err)
		return "youtube_video"
	}
	return title
}

func (h *YouTubeHandler) capture(job *queue.Job, url string) {
	ctx, cancel := context.WithTimeout(job.Context(), captureTimeout)
	defer cancel()

	if err := h.captureWithYtDlp(ctx, url, job.FilePath); err != nil {
		h.workerPool.Reject(job, err)
		return
	}
	if err := h.workerPool.EnqueueJob(job); err != nil {
		h.workerPool.Reject(job, err)
	}
}

// pageTitle loads the video page in headless Chrome and reads its title.
func pageTitle(ctx context.Context, url string) (string, error) {
	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	var title string
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`document.title`, &title, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to read page title: %w", err)
	}
	return strings.TrimSpace(strings.TrimSuffix(title, " - YouTube")), nil
}

// captureWithYtDlp downloads the audio track with yt-dlp.
func (h *YouTubeHandler) captureWithYtDlp(ctx context.Context, url, outputPath string) error {
	log.Printf("Using yt-dlp to download: %s", url)

	cmd := exec.CommandContext(ctx, h.ytDlp,
		"-x",                     // Extract audio
		"--audio-format", "opus", // Opus format
		"-o", outputPath,
		url,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure.Transient("yt-dlp", ctx.Err())
		}
		if ctx.Err() != nil {
			return failure.Canceled("yt-dlp", ctx.Err())
		}
		return failure.Permanent("yt-dlp", fmt.Errorf("%w: %s", err, tail(output, 500)))
	}

	log.Printf("YouTube audio downloaded successfully: %s", outputPath)
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
