package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/storage"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// Publisher uploads a finished job's artifacts somewhere shareable and
// returns a link.
type Publisher interface {
	Upload(ctx context.Context, requestName string, result *types.JobResult) (string, error)
}

// WorkerPool manages a pool of workers processing transcription jobs
type WorkerPool struct {
	jobQueue     chan *Job
	workerCount  int
	pipeline     *Pipeline
	registry     *Registry
	localStorage *storage.LocalStorage
	publisher    Publisher
	db           *storage.MetadataDB
	uploadRetry  retrypolicy.Policy

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. publisher and db may be nil.
func NewWorkerPool(
	workerCount int,
	pipeline *Pipeline,
	registry *Registry,
	localStorage *storage.LocalStorage,
	publisher Publisher,
	db *storage.MetadataDB,
) *WorkerPool {
	return &WorkerPool{
		jobQueue:     make(chan *Job, 100), // Buffer of 100 jobs
		workerCount:  workerCount,
		pipeline:     pipeline,
		registry:     registry,
		localStorage: localStorage,
		publisher:    publisher,
		db:           db,
		uploadRetry:  retrypolicy.Policy{Attempts: 3, BaseDelay: time.Second},
	}
}

// SetUploadRetry overrides the retry policy of artifact publishing.
func (wp *WorkerPool) SetUploadRetry(p retrypolicy.Policy) {
	wp.uploadRetry = p
}

// Start initializes all workers
func (wp *WorkerPool) Start() {
	log.Printf("Starting worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels every pending job, lets the workers drain the queue and
// waits for them to exit.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	for _, st := range wp.registry.List() {
		if st.Status == types.StatusPending {
			if job, ok := wp.registry.Get(st.JobID); ok && job.Cancel() == nil {
				wp.persist(job)
			}
		}
	}
	wp.wg.Wait()
	log.Printf("Worker pool stopped")
}

// EnqueueJob registers a job and adds it to the queue
func (wp *WorkerPool) EnqueueJob(job *Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrStopped
	}
	if job.Status().Status != types.StatusPending {
		return ErrJobFinished
	}

	wp.registry.Add(job)
	select {
	case wp.jobQueue <- job:
	default:
		job.markFailed(failure.Transient("enqueue", ErrQueueFull))
		wp.persist(job)
		return ErrQueueFull
	}
	wp.persist(job)
	log.Printf("Job %s enqueued (source: %s, name: %s)", job.ID, job.SourceType, job.RequestName)
	return nil
}

// Track registers a job whose input is still being fetched, so its status is
// visible before EnqueueJob is called. The fetch should stop when
// job.Context() is done.
func (wp *WorkerPool) Track(job *Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrStopped
	}
	wp.registry.Add(job)
	wp.persist(job)
	return nil
}

// Reject fails a tracked job that never made it into the queue.
func (wp *WorkerPool) Reject(job *Job, err error) {
	log.Printf("Job %s rejected before processing: %v", job.ID, err)
	if job.markFailed(err) {
		wp.persist(job)
	}
	removeFile(job.FilePath)
}

// Cancel cancels a pending job.
func (wp *WorkerPool) Cancel(jobID string) error {
	job, ok := wp.registry.Get(jobID)
	if !ok {
		return ErrJobNotFound
	}
	if err := job.Cancel(); err != nil {
		return err
	}
	log.Printf("Job %s canceled", jobID)
	wp.persist(job)
	return nil
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log.Printf("Worker %d started", id)

	for job := range wp.jobQueue {
		// Panic recovery
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Worker %d: PANIC processing job %s: %v\n%s",
						id, job.ID, r, string(debug.Stack()))
					job.markFailed(fmt.Errorf("worker panic: %v", r))
					wp.persist(job)
					removeFile(job.FilePath)
				}
			}()

			wp.processJob(id, job)
		}()
	}
}

// processJob handles the complete transcription pipeline
func (wp *WorkerPool) processJob(workerID int, job *Job) {
	ctx := job.Context()
	if ctx.Err() != nil {
		removeFile(job.FilePath)
		log.Printf("Worker %d: Job %s canceled before start", workerID, job.ID)
		return
	}
	log.Printf("Worker %d: Processing job %s", workerID, job.ID)

	onStage := func(stage string) {
		if job.setStage(stage) {
			log.Printf("Worker %d: Job %s %s", workerID, job.ID, stage)
			wp.persist(job)
		}
	}

	// Steps 1-4: normalize, diarize, transcribe, render
	result, report, err := wp.pipeline.Run(ctx, job.RequestName, job.FilePath, onStage)
	removeFile(job.FilePath)
	if err != nil {
		wp.fail(workerID, job, err)
		return
	}
	log.Printf("Worker %d: Job %s assembled: %s", workerID, job.ID, describe(report))
	result.JobID = job.ID

	// Step 5: Save locally
	onStage(types.StageStoring)
	paths, err := wp.localStorage.SaveArtifacts(job.RequestName, result)
	if err != nil {
		wp.fail(workerID, job, fmt.Errorf("local save failed: %w", err))
		return
	}
	result.SubtitlePath = paths.Subtitle
	result.DocumentPath = paths.Document
	result.TranscriptPath = paths.Transcript

	// Step 6: Upload to Google Drive (with retry)
	if wp.publisher != nil {
		err := wp.uploadRetry.Do(ctx, "upload", func(ctx context.Context) error {
			url, err := wp.publisher.Upload(ctx, job.RequestName, result)
			if err != nil {
				return classifyUploadError(ctx, err)
			}
			result.GDriveURL = url
			return nil
		})
		if err != nil {
			log.Printf("Worker %d: WARNING - Google Drive upload failed for job %s, continuing with local save only: %v",
				workerID, job.ID, err)
		}
	}

	if !job.markReady(result) {
		log.Printf("Worker %d: Job %s finished after it was canceled, result discarded", workerID, job.ID)
		removeArtifacts(paths)
		return
	}

	// Step 7: Save metadata to database
	wp.persist(job)
	log.Printf("Worker %d: Job %s completed successfully (%d lines, local: %s, gdrive: %s)",
		workerID, job.ID, len(result.Transcript.Lines), paths.Document, result.GDriveURL)
}

// classifyUploadError keeps already classified errors, sorts Drive API and
// OAuth failures by status and treats the rest as transient.
func classifyUploadError(ctx context.Context, err error) error {
	if failure.KindOf(err) != "" {
		return err
	}
	if ctx.Err() != nil {
		return failure.Canceled("upload", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return failure.FromHTTPStatus("upload", apiErr.Code, apiErr.Message)
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		if tokenErr.Response != nil && tokenErr.Response.StatusCode >= 500 {
			return failure.Transient("upload", err)
		}
		return failure.Permanent("upload", err)
	}
	return failure.Transient("upload", err)
}

func removeArtifacts(paths storage.ArtifactPaths) {
	for _, p := range []string{paths.Subtitle, paths.Document, paths.Transcript, paths.Metadata} {
		removeFile(p)
	}
}

func (wp *WorkerPool) fail(workerID int, job *Job, err error) {
	if failure.IsInvariant(err) {
		log.Printf("Worker %d: INVARIANT VIOLATION in job %s: %v", workerID, job.ID, err)
	} else {
		log.Printf("Worker %d: Job %s failed: %v", workerID, job.ID, err)
	}
	if job.markFailed(err) {
		wp.persist(job)
	}
}

// persist writes the job's current state to the metadata database.
func (wp *WorkerPool) persist(job *Job) {
	if wp.db == nil {
		return
	}
	st := job.Status()
	rec := storage.JobRecord{
		JobID:         job.ID,
		RequestName:   job.RequestName,
		SourceType:    job.SourceType,
		UserID:        job.UserID,
		Status:        st.Status,
		Stage:         st.Stage,
		Reason:        st.Reason,
		GDriveURL:     st.GDriveURL,
		LineCount:     st.Lines,
		SpeakerCount:  st.Speakers,
		LowConfidence: st.LowConfidence,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}
	if result, ok := job.Result(); ok {
		rec.SubtitlePath = result.SubtitlePath
		rec.DocumentPath = result.DocumentPath
		rec.TranscriptPath = result.TranscriptPath
		rec.Duration = result.Transcript.TotalDuration
	}
	if err := wp.db.SaveJob(rec); err != nil {
		log.Printf("Job %s: database save failed: %v", job.ID, err)
	}
}

// Status reports a job from memory, falling back to the metadata database
// for jobs from an earlier run.
func (wp *WorkerPool) Status(jobID string) (JobStatus, error) {
	if job, ok := wp.registry.Get(jobID); ok {
		return job.Status(), nil
	}
	rec, err := wp.record(jobID)
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{
		JobID:         rec.JobID,
		RequestName:   rec.RequestName,
		SourceType:    rec.SourceType,
		Status:        rec.Status,
		Stage:         rec.Stage,
		Reason:        rec.Reason,
		Lines:         rec.LineCount,
		Speakers:      rec.SpeakerCount,
		LowConfidence: rec.LowConfidence,
		GDriveURL:     rec.GDriveURL,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

// Result returns the artifacts of a ready job. Jobs from an earlier run are
// reloaded from the files their record points to.
func (wp *WorkerPool) Result(jobID string) (*types.JobResult, error) {
	if job, ok := wp.registry.Get(jobID); ok {
		result, ready := job.Result()
		if !ready {
			return nil, ErrJobNotReady
		}
		return result, nil
	}

	rec, err := wp.record(jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusReady {
		return nil, ErrJobNotReady
	}
	return loadResult(rec)
}

func (wp *WorkerPool) record(jobID string) (storage.JobRecord, error) {
	if wp.db == nil {
		return storage.JobRecord{}, ErrJobNotFound
	}
	rec, err := wp.db.GetJob(jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.JobRecord{}, ErrJobNotFound
	}
	return rec, err
}

func loadResult(rec storage.JobRecord) (*types.JobResult, error) {
	transcript, err := storage.LoadTranscript(rec.TranscriptPath)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.JobID, err)
	}
	subtitle, err := os.ReadFile(rec.SubtitlePath)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.JobID, err)
	}
	document, err := os.ReadFile(rec.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.JobID, err)
	}
	return &types.JobResult{
		JobID:          rec.JobID,
		Transcript:     transcript,
		Subtitle:       subtitle,
		Document:       string(document),
		LowConfidence:  rec.LowConfidence,
		SubtitlePath:   rec.SubtitlePath,
		DocumentPath:   rec.DocumentPath,
		TranscriptPath: rec.TranscriptPath,
		GDriveURL:      rec.GDriveURL,
		ProcessedAt:    rec.UpdatedAt,
	}, nil
}

// Jobs lists jobs known to this process, newest first.
func (wp *WorkerPool) Jobs() []JobStatus {
	return wp.registry.List()
}
