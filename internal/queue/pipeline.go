package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/codebuildervaibhav/transcript-agent/internal/alignment"
	"github.com/codebuildervaibhav/transcript-agent/internal/artifact"
	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/transcription"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// Pipeline turns one media file into a transcript and its artifacts:
// normalize, diarize, assemble, render.
type Pipeline struct {
	Normalizer transcription.Normalizer
	Diarizer   transcription.Diarizer
	Aligner    *alignment.Aligner
	// DiarizeRetry governs the diarization call. Exhausted retries fail
	// the job.
	DiarizeRetry retrypolicy.Policy
	// MaxDuration rejects longer media. Zero means no limit.
	MaxDuration time.Duration
}

// Run processes inputPath. onStage, if set, is called as each stage starts.
// The normalized waveform file is removed before Run returns; inputPath is
// left to the caller.
func (p *Pipeline) Run(ctx context.Context, sourceID, inputPath string, onStage func(stage string)) (*types.JobResult, alignment.Report, error) {
	stage := func(s string) {
		if onStage != nil {
			onStage(s)
		}
	}

	// Step 1: Normalize audio
	stage(types.StageNormalizing)
	wf, err := p.Normalizer.Normalize(ctx, inputPath)
	if err != nil {
		return nil, alignment.Report{}, err
	}
	if wf.Path != "" {
		defer removeFile(wf.Path)
	}
	// Normalizers that cannot probe ahead are still held to the limit here.
	if p.MaxDuration > 0 && wf.Duration() > p.MaxDuration {
		return nil, alignment.Report{}, transcription.TooLong(wf.Duration(), p.MaxDuration)
	}

	// Step 2: Diarize
	stage(types.StageDiarizing)
	var segments []types.SpeakerSegment
	err = p.DiarizeRetry.Do(ctx, "diarize", func(ctx context.Context) error {
		segs, err := p.Diarizer.Diarize(ctx, wf)
		if err != nil {
			return err
		}
		segments = segs
		return nil
	})
	if err != nil {
		if failure.KindOf(err) == "" {
			err = failure.Permanent("diarize", err)
		}
		return nil, alignment.Report{}, err
	}

	// Step 3: Transcribe each segment and assemble
	stage(types.StageTranscribing)
	transcript, report, err := p.Aligner.Assemble(ctx, sourceID, wf, segments)
	if err != nil {
		return nil, report, err
	}

	// Step 4: Render artifacts
	stage(types.StageRendering)
	if err := ctx.Err(); err != nil {
		return nil, report, failure.Canceled("render", err)
	}
	result := &types.JobResult{
		Transcript:    transcript,
		Subtitle:      artifact.ToSubtitle(transcript),
		Document:      artifact.ToDocument(transcript),
		LowConfidence: report.LowConfidence,
		ProcessedAt:   time.Now(),
	}
	return result, report, nil
}

// describe summarizes an assembly for the job log.
func describe(r alignment.Report) string {
	return fmt.Sprintf("%d segments in, %d trimmed, %d merged, %d dropped, %d transcribed, %d low confidence",
		r.Input, r.Trimmed, r.Merged, r.Dropped, r.Transcribed, r.LowConfidence)
}

// removeFile removes a temporary file
func removeFile(filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to cleanup temp file %s: %v", filePath, err)
	}
}
