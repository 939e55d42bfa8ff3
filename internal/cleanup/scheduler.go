package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Task is extra housekeeping run on every sweep, such as evicting idle
// conversation sessions. It returns how many items it removed.
type Task struct {
	Name string
	Run  func(now time.Time) int
}

// Scheduler handles cleanup of temporary files and in-memory state
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	tasks    []Task

	now      func() time.Time
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a new cleanup scheduler. An empty tempDir runs the
// tasks only.
func NewScheduler(tempDir string, interval, maxAge time.Duration, tasks ...Task) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		tasks:    tasks,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup scheduler
func (s *Scheduler) Start() {
	// Run initial cleanup on startup
	log.Println("Running initial cleanup sweep...")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop stops the cleanup scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		log.Println("Cleanup scheduler stopped")
	})
}

// Sweep runs one cleanup pass: old temp files first, then every task.
func (s *Scheduler) Sweep() {
	now := s.now()
	s.cleanOldFiles(now)
	for _, t := range s.tasks {
		if n := t.Run(now); n > 0 {
			log.Printf("Cleanup: %s removed %d", t.Name, n)
		}
	}
}

// cleanOldFiles removes files older than maxAge from the temp directory
func (s *Scheduler) cleanOldFiles(now time.Time) {
	if s.tempDir == "" {
		return
	}
	var deletedCount int
	var deletedSize uint64

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			log.Printf("Failed to delete old file %s: %v", path, err)
			return nil
		}
		deletedCount++
		deletedSize += uint64(size)
		log.Printf("Deleted old temp file: %s (age: %s, size: %s)",
			filepath.Base(path), age.Round(time.Minute), humanize.Bytes(uint64(size)))
		return nil
	})
	if err != nil {
		log.Printf("Error during cleanup: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Cleanup complete: %d files deleted, %s freed", deletedCount, humanize.Bytes(deletedSize))
	}
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
