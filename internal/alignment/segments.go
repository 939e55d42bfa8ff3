package alignment

import (
	"fmt"
	"sort"
	"time"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// PrepareStats counts what segment preparation did to the diarization output.
type PrepareStats struct {
	Input   int
	Trimmed int
	Merged  int
	Dropped int
}

// PrepareSegments turns raw diarization output into the non-overlapping,
// merged and filtered segments that get transcribed. The input slice is not
// modified.
//
// Steps, in order: validation, overlap resolution, same-speaker merging and
// minimum-duration filtering. It fails with an alignment error when there is
// nothing to anchor a transcript on.
func PrepareSegments(raw []types.SpeakerSegment, opts Options) ([]types.SpeakerSegment, PrepareStats, error) {
	stats := PrepareStats{Input: len(raw)}
	if len(raw) == 0 {
		return nil, stats, failure.Alignment("diarization returned no segments")
	}

	segs, err := orderSegments(raw, opts.OverlapTolerance)
	if err != nil {
		return nil, stats, err
	}

	segs, stats.Trimmed = resolveOverlaps(segs, opts.OverlapTolerance)
	before := len(segs)
	segs = mergeSpeakers(segs, opts.MergeGap)
	stats.Merged = before - len(segs)

	before = len(segs)
	segs = filterShort(segs, opts.MinDuration)
	stats.Dropped = stats.Input - len(segs) - stats.Merged
	if len(segs) == 0 {
		return nil, stats, failure.Alignment(fmt.Sprintf(
			"all %d segments are shorter than %s", before, opts.MinDuration))
	}
	return segs, stats, nil
}

// orderSegments validates each segment and checks the start times are
// non-decreasing. Small regressions up to tol are sorted out; anything
// larger means the diarizer's ordering contract was broken.
func orderSegments(raw []types.SpeakerSegment, tol time.Duration) ([]types.SpeakerSegment, error) {
	segs := make([]types.SpeakerSegment, len(raw))
	copy(segs, raw)

	var maxStart time.Duration
	for i, s := range segs {
		if s.Start < 0 || s.End <= s.Start {
			return nil, failure.Alignment(fmt.Sprintf(
				"segment %d has invalid bounds [%s, %s]", i, s.Start, s.End))
		}
		if i > 0 && s.Start < maxStart-tol {
			return nil, failure.Alignment(fmt.Sprintf(
				"segment %d starts at %s, before %s (tolerance %s)", i, s.Start, maxStart, tol))
		}
		if s.Start > maxStart {
			maxStart = s.Start
		}
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	return segs, nil
}

// resolveOverlaps makes the segments strictly non-overlapping. An overlap
// larger than tol trims the earlier segment back to where the later one
// starts; a small overlap moves the later start forward instead. Segments
// left empty are dropped.
func resolveOverlaps(segs []types.SpeakerSegment, tol time.Duration) ([]types.SpeakerSegment, int) {
	out := make([]types.SpeakerSegment, 0, len(segs))
	trimmed := 0

	for _, next := range segs {
		for len(out) > 0 {
			prev := &out[len(out)-1]
			if next.Start >= prev.End {
				break
			}
			trimmed++
			if prev.End-next.Start > tol {
				prev.End = next.Start
				if prev.End <= prev.Start {
					out = out[:len(out)-1]
					continue
				}
				break
			}
			next.Start = prev.End
			break
		}
		if next.End > next.Start {
			out = append(out, next)
		}
	}
	return out, trimmed
}

// mergeSpeakers joins consecutive segments of the same speaker separated by
// less than gap.
func mergeSpeakers(segs []types.SpeakerSegment, gap time.Duration) []types.SpeakerSegment {
	out := make([]types.SpeakerSegment, 0, len(segs))
	for _, s := range segs {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Speaker == s.Speaker && s.Start-last.End < gap {
				if s.End > last.End {
					last.End = s.End
				}
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func filterShort(segs []types.SpeakerSegment, floor time.Duration) []types.SpeakerSegment {
	out := segs[:0]
	for _, s := range segs {
		if s.Duration() >= floor {
			out = append(out, s)
		}
	}
	return out
}
