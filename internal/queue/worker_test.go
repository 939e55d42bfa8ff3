package queue

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/codebuildervaibhav/transcript-agent/internal/alignment"
	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/storage"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

const sampleRate = 1000

type stubNormalizer struct {
	seconds int
}

func (n stubNormalizer) Normalize(ctx context.Context, inputPath string) (types.Waveform, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return types.Waveform{}, failure.Permanent("normalize", err)
	}
	samples := make([]float32, n.seconds*sampleRate)
	for i := range samples {
		samples[i] = float32(i)
	}
	return types.Waveform{SampleRate: sampleRate, Samples: samples}, nil
}

type stubDiarizer func(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error)

func (f stubDiarizer) Diarize(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error) {
	return f(ctx, wf)
}

type stubTranscriber func(ctx context.Context, slice types.Waveform) (types.Recognition, error)

func (f stubTranscriber) Transcribe(ctx context.Context, slice types.Waveform) (types.Recognition, error) {
	return f(ctx, slice)
}

type stubPublisher struct {
	calls atomic.Int32
	err   error
}

func (p *stubPublisher) Upload(ctx context.Context, requestName string, result *types.JobResult) (string, error) {
	p.calls.Add(1)
	if p.err != nil {
		return "", p.err
	}
	return "https://drive.example/" + result.JobID, nil
}

func twoSpeakers(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error) {
	return []types.SpeakerSegment{
		{Start: 0, End: 2 * time.Second, Speaker: "A"},
		{Start: 2 * time.Second, End: 4 * time.Second, Speaker: "B"},
	}, nil
}

func echoSTT(ctx context.Context, slice types.Waveform) (types.Recognition, error) {
	if int(slice.Samples[0]) == 0 {
		return types.Recognition{Text: "hello from A"}, nil
	}
	return types.Recognition{Text: "hello from B"}, nil
}

type fixture struct {
	pool *WorkerPool
	db   *storage.MetadataDB
	dir  string
}

func newFixture(t *testing.T, d stubDiarizer, stt stubTranscriber, pub Publisher) *fixture {
	t.Helper()
	dir := t.TempDir()

	opts := alignment.DefaultOptions()
	opts.Retry = retrypolicy.Policy{Attempts: 3, BaseDelay: time.Millisecond, CallTimeout: time.Second}
	pipeline := &Pipeline{
		Normalizer:   stubNormalizer{seconds: 4},
		Diarizer:     d,
		Aligner:      alignment.New(stt, opts),
		DiarizeRetry: retrypolicy.Policy{Attempts: 3, BaseDelay: time.Millisecond},
	}

	db, err := storage.NewMetadataDB(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool := NewWorkerPool(2, pipeline, NewRegistry(), storage.NewLocalStorage(filepath.Join(dir, "outputs")), pub, db)
	pool.SetUploadRetry(retrypolicy.Policy{Attempts: 2, BaseDelay: time.Millisecond})
	pool.Start()
	t.Cleanup(pool.Stop)
	return &fixture{pool: pool, db: db, dir: dir}
}

func (f *fixture) submit(t *testing.T, id string) *Job {
	t.Helper()
	input := filepath.Join(f.dir, id+".wav")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0644))
	job := NewJob(id, "weekly sync", types.SourceUpload, input)
	require.NoError(t, f.pool.EnqueueJob(job))
	return job
}

func waitFinished(t *testing.T, pool *WorkerPool, id string) JobStatus {
	t.Helper()
	var st JobStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = pool.Status(id)
		return err == nil && st.Status != types.StatusPending
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

func TestJobReachesReady(t *testing.T) {
	pub := &stubPublisher{}
	f := newFixture(t, twoSpeakers, echoSTT, pub)
	job := f.submit(t, "job-ok")

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusReady, st.Status)
	assert.Equal(t, types.StageDone, st.Stage)
	assert.Empty(t, st.Reason)
	assert.Equal(t, 2, st.Lines)
	assert.Equal(t, "https://drive.example/job-ok", st.GDriveURL)

	result, err := f.pool.Result(job.ID)
	require.NoError(t, err)
	assert.Contains(t, string(result.Subtitle), "A: hello from A")
	assert.Contains(t, result.Document, "hello from B")
	assert.FileExists(t, result.SubtitlePath)

	_, err = os.Stat(job.FilePath)
	assert.True(t, os.IsNotExist(err), "input file is removed")

	var rec storage.JobRecord
	require.Eventually(t, func() bool {
		rec, err = f.db.GetJob(job.ID)
		return err == nil && rec.Status == types.StatusReady
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, result.TranscriptPath, rec.TranscriptPath)
	assert.Equal(t, 4*time.Second, rec.Duration)
}

func TestReadyJobSurvivesRestart(t *testing.T) {
	f := newFixture(t, twoSpeakers, echoSTT, nil)
	job := f.submit(t, "job-restart")
	waitFinished(t, f.pool, job.ID)
	want, err := f.pool.Result(job.ID)
	require.NoError(t, err)

	// A fresh pool over the same database knows nothing in memory.
	fresh := NewWorkerPool(1, f.pool.pipeline, NewRegistry(), f.pool.localStorage, nil, f.db)
	st, err := fresh.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, st.Status)

	got, err := fresh.Result(job.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Transcript, got.Transcript)
	assert.Equal(t, want.Subtitle, got.Subtitle)
	assert.Equal(t, want.Document, got.Document)
}

func TestNoSegmentsFailsWithAlignmentReason(t *testing.T) {
	none := func(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error) { return nil, nil }
	f := newFixture(t, none, echoSTT, nil)
	job := f.submit(t, "job-empty")

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Equal(t, failure.ReasonAlignment, st.Reason)

	_, err := f.pool.Result(job.ID)
	assert.ErrorIs(t, err, ErrJobNotReady)

	require.Eventually(t, func() bool {
		rec, err := f.db.GetJob(job.ID)
		return err == nil && rec.Status == types.StatusFailed && rec.Reason == failure.ReasonAlignment
	}, time.Second, 5*time.Millisecond)
}

func TestDiarizationRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error) {
		calls.Add(1)
		return nil, failure.Transient("diarize", errors.New("model server busy"))
	}
	f := newFixture(t, flaky, echoSTT, nil)
	job := f.submit(t, "job-flaky")

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Equal(t, failure.ReasonTransientExhausted, st.Reason)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDiarizationRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, wf types.Waveform) ([]types.SpeakerSegment, error) {
		if calls.Add(1) == 1 {
			return nil, failure.Transient("diarize", errors.New("timeout"))
		}
		return twoSpeakers(ctx, wf)
	}
	f := newFixture(t, flaky, echoSTT, nil)
	job := f.submit(t, "job-recovers")

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusReady, st.Status)
}

func TestTimedOutSegmentStillReachesReady(t *testing.T) {
	slowB := func(ctx context.Context, slice types.Waveform) (types.Recognition, error) {
		if int(slice.Samples[0]) != 0 {
			return types.Recognition{}, failure.Transient("transcribe", context.DeadlineExceeded)
		}
		return types.Recognition{Text: "only A"}, nil
	}
	f := newFixture(t, twoSpeakers, slowB, nil)
	job := f.submit(t, "job-partial")

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusReady, st.Status)
	assert.Equal(t, 1, st.LowConfidence)

	result, err := f.pool.Result(job.ID)
	require.NoError(t, err)
	require.Len(t, result.Transcript.Lines, 2)
	assert.Equal(t, "", result.Transcript.Lines[1].Text)
	assert.NotContains(t, string(result.Subtitle), "B:")
}

func TestCancelPropagatesToInFlightCalls(t *testing.T) {
	started := make(chan struct{}, 4)
	var sawCancel atomic.Bool
	blocking := func(ctx context.Context, slice types.Waveform) (types.Recognition, error) {
		started <- struct{}{}
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.Canceled) {
			sawCancel.Store(true)
		}
		return types.Recognition{}, ctx.Err()
	}
	f := newFixture(t, twoSpeakers, blocking, nil)
	job := f.submit(t, "job-cancel")

	<-started
	require.NoError(t, f.pool.Cancel(job.ID))

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Equal(t, failure.ReasonCanceled, st.Reason)

	require.Eventually(t, sawCancel.Load, time.Second, 5*time.Millisecond)
	_, err := f.pool.Result(job.ID)
	assert.ErrorIs(t, err, ErrJobNotReady)
	assert.ErrorIs(t, f.pool.Cancel(job.ID), ErrJobFinished)
	assert.ErrorIs(t, f.pool.Cancel("missing"), ErrJobNotFound)
}

func TestPublisherFailureDoesNotFailJob(t *testing.T) {
	pub := &stubPublisher{err: errors.New("quota exceeded")}
	f := newFixture(t, twoSpeakers, echoSTT, pub)
	job := f.submit(t, "job-nodrive")

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusReady, st.Status)
	assert.Empty(t, st.GDriveURL)
	assert.EqualValues(t, 2, pub.calls.Load())
}

func TestPermanentPublisherFailureIsNotRetried(t *testing.T) {
	for name, err := range map[string]error{
		"drive forbidden":     &googleapi.Error{Code: 403, Message: "insufficient permissions"},
		"oauth token revoked": &oauth2.RetrieveError{ErrorCode: "invalid_grant"},
		"already permanent":   failure.Permanent("drive", errors.New("folder missing")),
	} {
		t.Run(name, func(t *testing.T) {
			pub := &stubPublisher{err: err}
			f := newFixture(t, twoSpeakers, echoSTT, pub)
			job := f.submit(t, "job-"+strings.ReplaceAll(name, " ", "-"))

			st := waitFinished(t, f.pool, job.ID)
			assert.Equal(t, types.StatusReady, st.Status)
			assert.EqualValues(t, 1, pub.calls.Load())
		})
	}
}

func TestClassifyUploadError(t *testing.T) {
	ctx := context.Background()
	assert.True(t, failure.IsTransient(classifyUploadError(ctx, &googleapi.Error{Code: 503})))
	assert.True(t, failure.IsTransient(classifyUploadError(ctx, &googleapi.Error{Code: 429})))
	assert.True(t, failure.IsPermanent(classifyUploadError(ctx, &googleapi.Error{Code: 404})))
	assert.True(t, failure.IsTransient(classifyUploadError(ctx, &oauth2.RetrieveError{
		Response: &http.Response{StatusCode: 502},
	})))
	assert.True(t, failure.IsTransient(classifyUploadError(ctx, errors.New("connection reset"))))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, failure.IsCanceled(classifyUploadError(canceled, errors.New("aborted"))))
}

// blockingPublisher waits for the job to be canceled mid-upload.
type blockingPublisher struct {
	started chan struct{}
}

func (p *blockingPublisher) Upload(ctx context.Context, requestName string, result *types.JobResult) (string, error) {
	close(p.started)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCancelDuringUploadRemovesArtifacts(t *testing.T) {
	pub := &blockingPublisher{started: make(chan struct{})}
	f := newFixture(t, twoSpeakers, echoSTT, pub)
	job := f.submit(t, "job-cancel-upload")

	<-pub.started
	outputs := filepath.Join(f.dir, "outputs")
	assert.NotEmpty(t, listFiles(t, outputs))
	require.NoError(t, f.pool.Cancel(job.ID))

	st := waitFinished(t, f.pool, job.ID)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Equal(t, failure.ReasonCanceled, st.Reason)
	require.Eventually(t, func() bool {
		return len(listFiles(t, outputs)) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t, twoSpeakers, echoSTT, nil)
	_, err := f.pool.Status("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.pool.Result("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEnqueueAfterStop(t *testing.T) {
	f := newFixture(t, twoSpeakers, echoSTT, nil)
	f.pool.Stop()
	err := f.pool.EnqueueJob(NewJob("late", "late", types.SourceUpload, ""))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRegistryPrune(t *testing.T) {
	r := NewRegistry()
	done := NewJob("done", "n", types.SourceUpload, "")
	require.True(t, done.markReady(&types.JobResult{}))
	pending := NewJob("pending", "n", types.SourceUpload, "")
	r.Add(done)
	r.Add(pending)

	assert.Zero(t, r.Prune(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, r.Prune(time.Now().Add(time.Second)))
	_, ok := r.Get("pending")
	assert.True(t, ok)
	_, ok = r.Get("done")
	assert.False(t, ok)
}

func TestTrackedJobIsVisibleThenRejected(t *testing.T) {
	f := newFixture(t, twoSpeakers, echoSTT, nil)
	job := NewJob("job-fetching", "talk", types.SourceYouTube, filepath.Join(f.dir, "missing.opus"))
	require.NoError(t, f.pool.Track(job))

	st, err := f.pool.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, st.Status)
	assert.Equal(t, types.StageQueued, st.Stage)

	f.pool.Reject(job, failure.Permanent("yt-dlp", errors.New("video unavailable")))
	st, err = f.pool.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Equal(t, failure.ReasonPermanentAdapter, st.Reason)

	assert.ErrorIs(t, f.pool.EnqueueJob(job), ErrJobFinished)
}

func TestPipelineRejectsOverlongMedia(t *testing.T) {
	p := &Pipeline{
		Normalizer:  stubNormalizer{seconds: 4},
		Diarizer:    stubDiarizer(twoSpeakers),
		Aligner:     alignment.New(stubTranscriber(echoSTT), alignment.DefaultOptions()),
		MaxDuration: 3 * time.Second,
	}
	input := filepath.Join(t.TempDir(), "long.wav")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0644))

	_, _, err := p.Run(context.Background(), "long", input, nil)
	require.Error(t, err)
	assert.True(t, failure.IsPermanent(err))
	assert.Contains(t, err.Error(), "limit is 3s")
}
