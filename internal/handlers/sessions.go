package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcript-agent/internal/conversation"
	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// SessionsHandler serves question answering over finished transcripts.
type SessionsHandler struct {
	workerPool *queue.WorkerPool
	manager    *conversation.Manager
}

// NewSessionsHandler creates a sessions handler
func NewSessionsHandler(workerPool *queue.WorkerPool, manager *conversation.Manager) *SessionsHandler {
	return &SessionsHandler{workerPool: workerPool, manager: manager}
}

// AskRequest represents the request body of a question
type AskRequest struct {
	Question string `json:"question"`
}

type sessionView struct {
	conversation.Info
	History []types.Turn `json:"history"`
}

// Start handles POST /jobs/:id/sessions
func (h *SessionsHandler) Start(c *fiber.Ctx) error {
	result, err := h.workerPool.Result(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	info := h.manager.Start(result.JobID, result.Transcript)
	return c.Status(201).JSON(info)
}

// Ask handles POST /sessions/:id/ask
func (h *SessionsHandler) Ask(c *fiber.Ctx) error {
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	sessionID := c.Params("id")
	answer, err := h.manager.Ask(c.UserContext(), sessionID, req.Question)
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"answer":     answer,
	})
}

// Get handles GET /sessions/:id
func (h *SessionsHandler) Get(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	info, err := h.manager.Get(sessionID)
	if err != nil {
		return sessionError(c, err)
	}
	history, err := h.manager.History(sessionID)
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(sessionView{Info: info, History: history})
}

// List handles GET /sessions
func (h *SessionsHandler) List(c *fiber.Ctx) error {
	return c.JSON(h.manager.List())
}

// Close handles DELETE /sessions/:id
func (h *SessionsHandler) Close(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if err := h.manager.Close(sessionID); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"state":      conversation.StateClosed,
	})
}

// sessionError maps the error taxonomy onto HTTP statuses. Adapter details
// stay in the log.
func sessionError(c *fiber.Ctx, err error) error {
	status, message := 500, "Internal error"
	switch failure.KindOf(err) {
	case failure.KindUnknownSession:
		status, message = 404, "Session not found"
	case failure.KindEmptyQuestion:
		status, message = 400, "Question must not be empty"
	case failure.KindTransient:
		status, message = 503, "Answering service unavailable, try again later"
	case failure.KindPermanent:
		status, message = 502, "Answering service rejected the question"
	case failure.KindCanceled:
		status, message = 503, "Request canceled"
	default:
		log.Printf("Session request failed: %v", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  failure.ReasonCode(err),
	})
}
