package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Routes groups the handlers served by the API. Nil handlers are not
// registered.
type Routes struct {
	Version  string
	Upload   *UploadHandler
	GDrive   *GDriveHandler
	YouTube  *YouTubeHandler
	Stream   *StreamHandler
	Jobs     *JobsHandler
	Sessions *SessionsHandler
	Logs     *LogBuffer
}

// Register mounts every route on app.
func (r Routes) Register(app fiber.Router) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": r.Version,
		})
	})

	// Ingestion
	if r.Upload != nil {
		app.Post("/upload", r.Upload.Handle)
	}
	if r.GDrive != nil {
		app.Post("/gdrive", r.GDrive.Handle)
	}
	if r.YouTube != nil {
		app.Post("/youtube", r.YouTube.Handle)
	}
	if r.Stream != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/stream", websocket.New(r.Stream.Handle))
	}

	// Jobs and artifacts
	if r.Jobs != nil {
		app.Get("/jobs/:id", r.Jobs.Status)
		app.Delete("/jobs/:id", r.Jobs.Cancel)
		app.Get("/jobs/:id/subtitle", r.Jobs.Subtitle)
		app.Get("/jobs/:id/document", r.Jobs.Document)
		app.Get("/transcripts", r.Jobs.List)
	}

	// Conversations
	if r.Sessions != nil {
		app.Post("/jobs/:id/sessions", r.Sessions.Start)
		app.Get("/sessions", r.Sessions.List)
		app.Get("/sessions/:id", r.Sessions.Get)
		app.Post("/sessions/:id/ask", r.Sessions.Ask)
		app.Delete("/sessions/:id", r.Sessions.Close)
	}

	if r.Logs != nil {
		app.Get("/logs", r.Logs.Handle)
	}
}
