package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/codebuildervaibhav/transcript-agent/internal/alignment"
	"github.com/codebuildervaibhav/transcript-agent/internal/answering"
	"github.com/codebuildervaibhav/transcript-agent/internal/cleanup"
	"github.com/codebuildervaibhav/transcript-agent/internal/config"
	"github.com/codebuildervaibhav/transcript-agent/internal/conversation"
	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/handlers"
	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/storage"
	"github.com/codebuildervaibhav/transcript-agent/internal/transcription"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// Secrets may live in a .env file next to the binary
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: could not load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure directories exist
	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Tee the log into memory for GET /logs
	logBuffer := handlers.NewLogBuffer(1000)
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))

	log.Println("Initializing components...")

	retry := retrypolicy.Policy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay}

	// Segment transcription backend
	var stt transcription.Transcriber
	switch cfg.STT.Backend {
	case "openai":
		stt = transcription.NewOpenAITranscriber(cfg.STT.OpenAIKey, cfg.STT.OpenAIModel, cfg.Storage.TempDir)
		log.Printf("Transcription backend: OpenAI (%s)", cfg.STT.OpenAIModel)
	default:
		stt = transcription.NewWhisperTranscriber(cfg.Whisper.Model, cfg.Whisper.Python, cfg.Whisper.Language, cfg.Storage.TempDir)
		log.Printf("Transcription backend: whisper (%s)", cfg.Whisper.Model)
	}

	opts := alignment.Options{
		OverlapTolerance: cfg.Alignment.OverlapTolerance,
		MergeGap:         cfg.Alignment.MergeGap,
		MinDuration:      cfg.Alignment.MinDuration,
		DropEmptyLines:   cfg.Alignment.DropEmptyLines,
		Concurrency:      cfg.Alignment.Concurrency,
		Retry:            retry.WithTimeout(cfg.Retry.STTTimeout),
	}

	maxDuration := time.Duration(cfg.Limits.MaxDurationMinutes) * time.Minute
	normalizer := transcription.NewFFmpegNormalizer(cfg.Storage.TempDir)
	normalizer.MaxDuration = maxDuration

	pipeline := &queue.Pipeline{
		Normalizer:   normalizer,
		Diarizer:     transcription.NewPyannoteDiarizer(cfg.Diarization.Python, cfg.Diarization.Model, cfg.Diarization.HuggingFaceToken, cfg.Storage.TempDir),
		Aligner:      alignment.New(stt, opts),
		DiarizeRetry: retry.WithTimeout(cfg.Retry.DiarizeTimeout),
		MaxDuration:  maxDuration,
	}
	if cfg.Diarization.HuggingFaceToken == "" {
		log.Println("WARNING: HUGGINGFACE_TOKEN not set - every job will fail at diarization")
	}

	// Local storage
	localStorage := storage.NewLocalStorage(cfg.Storage.OutputDir)

	// Google Drive client (optional - may fail if credentials not set up)
	var publisher queue.Publisher
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err := storage.NewDriveClient(
			context.Background(),
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Transcripts will only be saved locally")
		} else {
			publisher = driveClient
			log.Println("Google Drive integration enabled")
		}
	} else {
		log.Println("Google Drive credentials not found - saving locally only")
	}

	// Database
	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	if n, err := db.MarkInterrupted(failure.ReasonCanceled); err != nil {
		log.Printf("WARNING: could not mark interrupted jobs: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d jobs from the previous run as failed", n)
	}

	// Worker pool
	registry := queue.NewRegistry()
	workerPool := queue.NewWorkerPool(
		cfg.Workers.Count,
		pipeline,
		registry,
		localStorage,
		publisher,
		db,
	)
	workerPool.Start()

	// Conversation sessions
	if cfg.Answering.APIKey == "" {
		log.Println("WARNING: GEMINI_API_KEY not set - questions will fail")
	}
	sessions := conversation.NewManager(
		answering.NewGemini(cfg.Answering.APIKey, cfg.Answering.Model, cfg.Answering.Temperature),
		conversation.Config{
			IdleTimeout: cfg.Sessions.IdleTimeout,
			Window: conversation.WindowPolicy{
				MaxTurns:  cfg.Sessions.HistoryMaxTurns,
				MaxTokens: cfg.Sessions.HistoryMaxTokens,
			},
			Answer: retry.WithTimeout(cfg.Retry.AnswerTimeout),
		},
	)

	// Cleanup schedulers: temp files hourly, idle sessions every sweep interval
	maxAge := time.Duration(cfg.Cleanup.MaxAgeHours) * time.Hour
	fileSweeper := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		maxAge,
		cleanup.Task{
			Name: "finished jobs",
			Run:  func(now time.Time) int { return registry.Prune(now.Add(-maxAge)) },
		},
	)
	fileSweeper.Start()
	defer fileSweeper.Stop()

	sessionSweeper := cleanup.NewScheduler(
		"",
		cfg.Sessions.SweepInterval,
		0,
		cleanup.Task{
			Name: "idle sessions",
			Run:  func(time.Time) int { return sessions.EvictIdle() },
		},
	)
	sessionSweeper.Start()
	defer sessionSweeper.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: log.Writer()}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.Routes{
		Version:  version,
		Upload:   handlers.NewUploadHandler(workerPool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB),
		GDrive:   handlers.NewGDriveHandler(workerPool, cfg.Storage.TempDir),
		YouTube:  handlers.NewYouTubeHandler(workerPool, cfg.Storage.TempDir),
		Stream:   handlers.NewStreamHandler(workerPool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB),
		Jobs:     handlers.NewJobsHandler(workerPool, db),
		Sessions: handlers.NewSessionsHandler(workerPool, sessions),
		Logs:     logBuffer,
	}.Register(app)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST   /upload              - Upload audio or video file")
	log.Println("   POST   /gdrive              - Process Google Drive link")
	log.Println("   POST   /youtube             - Capture YouTube audio")
	log.Println("   GET    /ws/stream           - WebSocket recording upload")
	log.Println("   GET    /jobs/:id            - Job status")
	log.Println("   DELETE /jobs/:id            - Cancel job")
	log.Println("   GET    /jobs/:id/subtitle   - SRT subtitles")
	log.Println("   GET    /jobs/:id/document   - Speaker-attributed document")
	log.Println("   POST   /jobs/:id/sessions   - Start a conversation")
	log.Println("   POST   /sessions/:id/ask    - Ask a question")
	log.Println("   DELETE /sessions/:id        - Close a conversation")
	log.Println("   GET    /transcripts         - List all transcripts")
	log.Println("   GET    /logs                - View server logs")
	log.Println("   GET    /health              - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	workerPool.Stop()
	log.Println("Server stopped")
}
