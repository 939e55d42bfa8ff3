package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaveformDuration(t *testing.T) {
	wf := Waveform{SampleRate: 16000, Samples: make([]float32, 24000)}
	assert.Equal(t, 1500*time.Millisecond, wf.Duration())

	assert.Equal(t, time.Duration(0), Waveform{}.Duration())
}

func TestWaveformSlice(t *testing.T) {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(i)
	}
	wf := Waveform{SampleRate: 16000, Samples: samples}

	s := wf.Slice(250*time.Millisecond, 500*time.Millisecond)
	assert.Len(t, s.Samples, 4000)
	assert.Equal(t, float32(4000), s.Samples[0])
	assert.Equal(t, 16000, s.SampleRate)
}

func TestWaveformSliceClamps(t *testing.T) {
	wf := Waveform{SampleRate: 1000, Samples: make([]float32, 1000)}

	assert.Len(t, wf.Slice(-time.Second, 2*time.Second).Samples, 1000)
	assert.Empty(t, wf.Slice(3*time.Second, 4*time.Second).Samples)
	assert.Empty(t, wf.Slice(600*time.Millisecond, 200*time.Millisecond).Samples)
}

func TestTranscriptSpeakers(t *testing.T) {
	tr := Transcript{Lines: []TranscriptLine{
		{Speaker: "B"}, {Speaker: "A"}, {Speaker: "B"}, {Speaker: "C"},
	}}
	assert.Equal(t, []string{"B", "A", "C"}, tr.Speakers())
}
