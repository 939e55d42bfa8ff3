// Package alignment merges diarization segments with per-segment speech
// recognition into the canonical transcript.
package alignment

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/transcription"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// Options tunes segment preparation and transcription.
type Options struct {
	// OverlapTolerance is how much diarization segments may overlap or
	// regress in start order before it counts as a broken contract.
	OverlapTolerance time.Duration
	// MergeGap joins consecutive same-speaker segments closer than this.
	MergeGap time.Duration
	// MinDuration drops segments shorter than this as diarization noise.
	MinDuration time.Duration
	// DropEmptyLines removes lines with no recognized text.
	DropEmptyLines bool
	// Concurrency caps the in-flight transcription calls of one job.
	Concurrency int
	// Retry governs each transcription call.
	Retry retrypolicy.Policy
}

func DefaultOptions() Options {
	return Options{
		OverlapTolerance: 300 * time.Millisecond,
		MergeGap:         500 * time.Millisecond,
		MinDuration:      250 * time.Millisecond,
		Concurrency:      4,
		Retry:            retrypolicy.Default().WithTimeout(2 * time.Minute),
	}
}

// Report summarizes one assembly, for logs and job metadata.
type Report struct {
	PrepareStats
	Transcribed   int
	LowConfidence int
}

// Aligner assembles transcripts. It holds no per-job state and may be shared
// by concurrent jobs.
type Aligner struct {
	stt  transcription.Transcriber
	opts Options
}

func New(stt transcription.Transcriber, opts Options) *Aligner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Aligner{stt: stt, opts: opts}
}

// Assemble prepares the diarization segments, transcribes every surviving
// segment and builds the validated transcript. No partial transcript is ever
// returned: cancellation of ctx or a permanent adapter failure discards all
// chunks.
func (a *Aligner) Assemble(ctx context.Context, sourceID string, wf types.Waveform, raw []types.SpeakerSegment) (types.Transcript, Report, error) {
	segs, stats, err := PrepareSegments(raw, a.opts)
	report := Report{PrepareStats: stats}
	if err != nil {
		return types.Transcript{}, report, err
	}

	chunks, err := a.transcribeAll(ctx, wf, segs)
	if err != nil {
		return types.Transcript{}, report, err
	}
	report.Transcribed = len(chunks)
	for _, c := range chunks {
		if c.LowConfidence {
			report.LowConfidence++
		}
	}

	t := Build(sourceID, wf.Duration(), chunks, a.opts.DropEmptyLines)
	if err := Validate(t); err != nil {
		return types.Transcript{}, report, err
	}
	return t, report, nil
}

// transcribeAll runs one transcription per segment, at most Concurrency at a
// time, and waits for all of them. Chunk i always belongs to segment i.
func (a *Aligner) transcribeAll(ctx context.Context, wf types.Waveform, segs []types.SpeakerSegment) ([]types.TranscribedChunk, error) {
	chunks := make([]types.TranscribedChunk, len(segs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)

	for i, seg := range segs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			chunk, err := a.transcribeSegment(gctx, wf, seg)
			if err != nil {
				return err
			}
			chunks[i] = chunk
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil, failure.Canceled("transcribe", ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (a *Aligner) transcribeSegment(ctx context.Context, wf types.Waveform, seg types.SpeakerSegment) (types.TranscribedChunk, error) {
	slice := wf.Slice(seg.Start, seg.End)

	var rec types.Recognition
	err := a.opts.Retry.Do(ctx, "transcribe", func(ctx context.Context) error {
		r, err := a.stt.Transcribe(ctx, slice)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})

	switch {
	case err == nil:
		return types.TranscribedChunk{Segment: seg, Text: rec.Text, Confidence: rec.Confidence}, nil
	case failure.IsTransient(err):
		// One bad segment must not sink the transcript.
		log.Printf("Segment %s-%s (%s): demoted to empty text: %v", seg.Start, seg.End, seg.Speaker, err)
		zero := 0.0
		return types.TranscribedChunk{Segment: seg, Confidence: &zero, LowConfidence: true}, nil
	case failure.KindOf(err) == "":
		return types.TranscribedChunk{}, failure.Permanent("transcribe", err)
	default:
		return types.TranscribedChunk{}, err
	}
}

// Build converts transcribed chunks into transcript lines ordered by segment
// start and indexed from 0. It is deterministic for a given input.
func Build(sourceID string, duration time.Duration, chunks []types.TranscribedChunk, dropEmpty bool) types.Transcript {
	ordered := make([]types.TranscribedChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Segment.Start < ordered[j].Segment.Start
	})

	lines := make([]types.TranscriptLine, 0, len(ordered))
	for _, c := range ordered {
		text := cleanText(c.Text)
		if text == "" && dropEmpty {
			continue
		}
		lines = append(lines, types.TranscriptLine{
			Index:   len(lines),
			Start:   c.Segment.Start,
			End:     c.Segment.End,
			Speaker: c.Segment.Speaker,
			Text:    text,
		})
	}

	total := duration
	if n := len(lines); n > 0 && lines[n-1].End > total {
		total = lines[n-1].End
	}
	return types.Transcript{SourceFileID: sourceID, TotalDuration: total, Lines: lines}
}

// cleanText puts recognized text in NFC form on a single line.
func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Validate checks the transcript invariants: contiguous 0-based indices,
// positive-length lines and no overlap between consecutive lines.
func Validate(t types.Transcript) error {
	for k, line := range t.Lines {
		if line.Index != k {
			return failure.Invariant(fmt.Sprintf("line %d has index %d", k, line.Index))
		}
		if line.End <= line.Start {
			return failure.Invariant(fmt.Sprintf("line %d ends at %s, not after its start %s", k, line.End, line.Start))
		}
		if k > 0 && t.Lines[k-1].End > line.Start {
			return failure.Invariant(fmt.Sprintf("line %d starts at %s, before line %d ends at %s",
				k, line.Start, k-1, t.Lines[k-1].End))
		}
	}
	return nil
}
