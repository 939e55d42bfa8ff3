package types

import (
	"time"
)

// Job status constants, as reported to the front end
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Job stage constants, finer-grained progress while a job is pending
const (
	StageQueued       = "queued"
	StageNormalizing  = "normalizing"
	StageDiarizing    = "diarizing"
	StageTranscribing = "transcribing"
	StageRendering    = "rendering"
	StageStoring      = "storing"
	StageDone         = "done"
)

// Source type constants
const (
	SourceUpload  = "upload"
	SourceGDrive  = "gdrive"
	SourceYouTube = "youtube"
	SourceStream  = "stream"
	SourceCLI     = "cli"
)

// SpeakerSegment is one speaker-labeled interval produced by diarization.
type SpeakerSegment struct {
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	Speaker string        `json:"speaker"`
}

// Duration returns the length of the segment.
func (s SpeakerSegment) Duration() time.Duration {
	return s.End - s.Start
}

// Recognition is what a transcription adapter returns for one waveform slice.
// An empty Text means nothing was recognized and is not an error.
type Recognition struct {
	Text       string
	Confidence *float64
}

// TranscribedChunk pairs a segment with the text recognized for it.
type TranscribedChunk struct {
	Segment    SpeakerSegment
	Text       string
	Confidence *float64
	// LowConfidence marks a chunk demoted to empty text after its
	// transcription retries were exhausted.
	LowConfidence bool
}

// TranscriptLine is the canonical unit of an assembled transcript
type TranscriptLine struct {
	Index   int           `json:"index"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	Speaker string        `json:"speaker"`
	Text    string        `json:"text"`
}

// Transcript is the assembled, time-ordered transcript of one upload.
// It is never mutated after assembly.
type Transcript struct {
	SourceFileID  string           `json:"source_file_id"`
	TotalDuration time.Duration    `json:"total_duration"`
	Lines         []TranscriptLine `json:"lines"`
}

// Speakers returns the distinct speaker labels in order of first appearance.
func (t Transcript) Speakers() []string {
	seen := make(map[string]bool)
	var speakers []string
	for _, line := range t.Lines {
		if !seen[line.Speaker] {
			seen[line.Speaker] = true
			speakers = append(speakers, line.Speaker)
		}
	}
	return speakers
}

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message in a session's history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Waveform is mono PCM audio at a fixed sample rate, samples in [-1, 1].
type Waveform struct {
	SampleRate int
	Samples    []float32
	// Path is the normalized WAV file the samples were decoded from, if any.
	Path string
}

// Duration returns the length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(w.Samples)) * int64(time.Second) / int64(w.SampleRate))
}

// Slice returns the part of the waveform between start and end. Bounds are
// clamped to the waveform; the returned samples alias the original.
func (w Waveform) Slice(start, end time.Duration) Waveform {
	from := w.sampleIndex(start)
	to := w.sampleIndex(end)
	if to < from {
		to = from
	}
	return Waveform{
		SampleRate: w.SampleRate,
		Samples:    w.Samples[from:to],
	}
}

func (w Waveform) sampleIndex(d time.Duration) int {
	if d <= 0 || w.SampleRate <= 0 {
		return 0
	}
	idx := int(int64(d) * int64(w.SampleRate) / int64(time.Second))
	if idx > len(w.Samples) {
		return len(w.Samples)
	}
	return idx
}

// JobResult is the output of a completed pipeline job
type JobResult struct {
	JobID          string
	Transcript     Transcript
	Subtitle       []byte
	Document       string
	LowConfidence  int
	SubtitlePath   string
	DocumentPath   string
	TranscriptPath string
	GDriveURL      string
	ProcessedAt    time.Time
}
