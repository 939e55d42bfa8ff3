package handlers

import (
	"bytes"
	"log"
	"os"
	"path/filepath"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// StreamHandler receives a browser recording over a websocket and submits it
// as one job once the client sends END.
type StreamHandler struct {
	workerPool *queue.WorkerPool
	tempDir    string
	maxBytes   int
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int) *StreamHandler {
	return &StreamHandler{
		workerPool: workerPool,
		tempDir:    tempDir,
		maxBytes:   maxSizeMB * 1024 * 1024,
	}
}

type streamReply struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer      bytes.Buffer
		requestName = c.Query("name")
		userID      = c.Query("user_id")
		jobID       = uuid.New().String()
		ended       bool
	)

	log.Printf("WebSocket connection established: %s", jobID)

	for !ended {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Printf("WebSocket read error: %v", err)
			break
		}

		switch messageType {
		case websocket.TextMessage:
			msg := string(message)
			if msg == "END" {
				log.Printf("Received END signal, processing stream %s...", jobID)
				ended = true
				continue
			}
			if len(msg) > 0 && len(msg) < 200 {
				requestName = msg
				log.Printf("Stream name set to: %s", requestName)
			}
		case websocket.BinaryMessage:
			if buffer.Len()+len(message) > h.maxBytes {
				c.WriteJSON(streamReply{Error: "Recording too large", Code: "ERR_FILE_TOO_LARGE"})
				return
			}
			buffer.Write(message)
		}
	}

	if buffer.Len() == 0 {
		log.Printf("No audio data received in stream %s", jobID)
		if ended {
			c.WriteJSON(streamReply{Error: "No audio received", Code: "ERR_NO_FILE"})
		}
		return
	}

	if requestName == "" {
		requestName = "stream_recording"
	}

	tempPath := filepath.Join(h.tempDir, jobID+".webm")
	if err := os.WriteFile(tempPath, buffer.Bytes(), 0644); err != nil {
		log.Printf("Failed to save stream buffer: %v", err)
		c.WriteJSON(streamReply{Error: "Failed to save recording", Code: "ERR_SAVE_FAILED"})
		return
	}
	log.Printf("Stream saved to %s (%d bytes)", tempPath, buffer.Len())

	job := queue.NewJob(jobID, requestName, types.SourceStream, tempPath)
	job.UserID = userID
	if err := h.workerPool.EnqueueJob(job); err != nil {
		os.Remove(tempPath)
		c.WriteJSON(enqueueReply(err))
		return
	}

	c.WriteJSON(streamReply{JobID: jobID, Status: types.StatusPending})
}

func enqueueReply(err error) streamReply {
	_, message, code := enqueueFailure(err)
	return streamReply{Error: message, Code: code}
}
