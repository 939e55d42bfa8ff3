package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// LocalStorage handles saving transcript artifacts to the local filesystem
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// ArtifactPaths lists the files written for one job.
type ArtifactPaths struct {
	Subtitle   string
	Document   string
	Transcript string
	Metadata   string
}

// SaveArtifacts writes the subtitle, document, transcript JSON and metadata
// for a finished job under a dated directory: outputs/2025/01/23/.
func (ls *LocalStorage) SaveArtifacts(requestName string, result *types.JobResult) (ArtifactPaths, error) {
	now := result.ProcessedAt
	if now.IsZero() {
		now = time.Now()
	}
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return ArtifactPaths{}, fmt.Errorf("failed to create date directory: %w", err)
	}

	// Generate filename: 20250123_143022_podcast_episode
	base := filepath.Join(dateDir, BaseFilename(now, requestName))
	paths := ArtifactPaths{
		Subtitle:   base + ".srt",
		Document:   base + ".txt",
		Transcript: base + ".json",
		Metadata:   base + "_meta.json",
	}

	if err := os.WriteFile(paths.Subtitle, result.Subtitle, 0644); err != nil {
		return ArtifactPaths{}, fmt.Errorf("failed to save subtitle: %w", err)
	}
	if err := os.WriteFile(paths.Document, []byte(result.Document), 0644); err != nil {
		return ArtifactPaths{}, fmt.Errorf("failed to save document: %w", err)
	}

	transcriptJSON, err := json.MarshalIndent(result.Transcript, "", "  ")
	if err != nil {
		return ArtifactPaths{}, fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(paths.Transcript, transcriptJSON, 0644); err != nil {
		return ArtifactPaths{}, fmt.Errorf("failed to save transcript: %w", err)
	}

	meta := ArtifactMetadata(requestName, result)
	meta["local_path"] = paths.Document
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return ArtifactPaths{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(paths.Metadata, metaJSON, 0644); err != nil {
		return ArtifactPaths{}, fmt.Errorf("failed to save metadata: %w", err)
	}

	return paths, nil
}

// LoadTranscript reads a transcript saved by SaveArtifacts.
func LoadTranscript(path string) (types.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Transcript{}, err
	}
	var t types.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return types.Transcript{}, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}
	return t, nil
}

// ArtifactMetadata describes a finished job for the _meta.json sidecar.
func ArtifactMetadata(requestName string, result *types.JobResult) map[string]interface{} {
	return map[string]interface{}{
		"job_id":           result.JobID,
		"request_name":     requestName,
		"source_file_id":   result.Transcript.SourceFileID,
		"duration_seconds": result.Transcript.TotalDuration.Seconds(),
		"line_count":       len(result.Transcript.Lines),
		"speakers":         result.Transcript.Speakers(),
		"low_confidence":   result.LowConfidence,
		"created_at":       result.ProcessedAt,
		"gdrive_url":       result.GDriveURL,
	}
}

// BaseFilename is the timestamped, sanitized stem shared by a job's files.
func BaseFilename(t time.Time, requestName string) string {
	return fmt.Sprintf("%s_%s", t.Format("20060102_150405"), sanitizeFilename(requestName))
}

// sanitizeFilename removes invalid characters from filename
func sanitizeFilename(name string) string {
	// Replace invalid characters with underscore
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	result = strings.ReplaceAll(result, " ", "_")
	result = strings.Trim(result, ".")
	if result == "" {
		result = "transcript"
	}
	if runes := []rune(result); len(runes) > 100 {
		result = string(runes[:100]) // Limit length
	}
	return result
}
