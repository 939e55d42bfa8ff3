package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobNotReady = errors.New("job is not ready")
	ErrJobFinished = errors.New("job already finished")
	ErrQueueFull   = errors.New("job queue is full")
	ErrStopped     = errors.New("worker pool is stopped")
)

// Job represents a transcription job
type Job struct {
	ID          string
	RequestName string
	SourceType  string
	UserID      string
	FilePath    string
	CreatedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	status    string
	stage     string
	reason    string
	err       error
	result    *types.JobResult
	updatedAt time.Time
}

// JobStatus is the caller-visible state of a job. Internal errors are never
// exposed, only the reason code.
type JobStatus struct {
	JobID         string    `json:"job_id"`
	RequestName   string    `json:"request_name"`
	SourceType    string    `json:"source_type"`
	Status        string    `json:"status"`
	Stage         string    `json:"stage"`
	Reason        string    `json:"reason,omitempty"`
	Lines         int       `json:"lines,omitempty"`
	Speakers      int       `json:"speakers,omitempty"`
	LowConfidence int       `json:"low_confidence,omitempty"`
	GDriveURL     string    `json:"gdrive_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewJob creates a new job with default values
func NewJob(id, requestName, sourceType, filePath string) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Job{
		ID:          id,
		RequestName: requestName,
		SourceType:  sourceType,
		FilePath:    filePath,
		CreatedAt:   now,
		ctx:         ctx,
		cancel:      cancel,
		status:      types.StatusPending,
		stage:       types.StageQueued,
		updatedAt:   now,
	}
}

// Context is canceled when the job is canceled.
func (j *Job) Context() context.Context {
	return j.ctx
}

func (j *Job) setStage(stage string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != types.StatusPending {
		return false
	}
	j.stage = stage
	j.updatedAt = time.Now()
	return true
}

// markReady publishes the result unless the job already reached a terminal
// state (e.g. it was canceled while finishing).
func (j *Job) markReady(result *types.JobResult) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != types.StatusPending {
		return false
	}
	j.status = types.StatusReady
	j.stage = types.StageDone
	j.result = result
	j.updatedAt = time.Now()
	j.cancel()
	return true
}

func (j *Job) markFailed(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != types.StatusPending {
		return false
	}
	j.status = types.StatusFailed
	j.reason = failure.ReasonCode(err)
	j.err = err
	j.updatedAt = time.Now()
	j.cancel()
	return true
}

// Cancel stops a pending job. In-flight adapter calls see their context
// canceled; nothing the job produced so far is kept.
func (j *Job) Cancel() error {
	if !j.markFailed(failure.Canceled("job", context.Canceled)) {
		return ErrJobFinished
	}
	return nil
}

// Err returns the internal error of a failed job, for logs.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Result returns the result of a ready job.
func (j *Job) Result() (*types.JobResult, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result, j.status == types.StatusReady
}

func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	st := JobStatus{
		JobID:       j.ID,
		RequestName: j.RequestName,
		SourceType:  j.SourceType,
		Status:      j.status,
		Stage:       j.stage,
		Reason:      j.reason,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.updatedAt,
	}
	if j.result != nil {
		st.Lines = len(j.result.Transcript.Lines)
		st.Speakers = len(j.result.Transcript.Speakers())
		st.LowConfidence = j.result.LowConfidence
		st.GDriveURL = j.result.GDriveURL
	}
	return st
}

// Registry holds the jobs known to this process.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// List returns the status of every job, newest first.
func (r *Registry) List() []JobStatus {
	r.mu.RLock()
	out := make([]JobStatus, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Status())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Prune forgets finished jobs last updated before cutoff. Their records stay
// in the metadata database. It returns the number of jobs removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		st := job.Status()
		if st.Status != types.StatusPending && st.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
