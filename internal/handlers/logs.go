package handlers

import (
	"sync"

	"github.com/gofiber/fiber/v2"
)

// LogBuffer captures logs in memory
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewLogBuffer keeps the last max writes.
func NewLogBuffer(max int) *LogBuffer {
	return &LogBuffer{lines: make([]string, 0, max), max: max}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))
	if len(lb.lines) > lb.max {
		lb.lines = lb.lines[len(lb.lines)-lb.max:]
	}
	return len(p), nil
}

// GetLogs returns a copy of the buffered lines, oldest first.
func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// Handle serves GET /logs
func (lb *LogBuffer) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"logs": lb.GetLogs(),
	})
}
