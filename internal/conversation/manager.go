// Package conversation keeps one session per active conversation about a
// transcript and mediates every question through the answering model.
package conversation

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-agent/internal/answering"
	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateClosed  State = "closed"
)

// Config tunes the session manager.
type Config struct {
	IdleTimeout time.Duration
	Window      WindowPolicy
	// Answer governs each answering-model call.
	Answer retrypolicy.Policy
}

// Session is one conversation. Its transcript is shared read-only; its
// history is owned by the session and only touched under mu. askMu
// serializes questions and is held across the model call, mu only for
// reads and writes of the fields below it.
type Session struct {
	ID        string
	JobID     string
	CreatedAt time.Time

	askMu sync.Mutex

	mu           sync.Mutex
	transcript   types.Transcript
	context      string
	state        State
	history      []types.Turn
	lastActivity time.Time
}

// Info is a point-in-time view of a session.
type Info struct {
	ID           string    `json:"session_id"`
	JobID        string    `json:"job_id"`
	State        State     `json:"state"`
	Turns        int       `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Manager is the process-wide session registry. Insert, lookup and evict are
// atomic under mu; each session serializes its own questions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	model answering.Model
	cfg   Config
	now   func() time.Time
}

func NewManager(model answering.Model, cfg Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		model:    model,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Start opens a session over an assembled transcript.
func (m *Manager) Start(jobID string, t types.Transcript) Info {
	now := m.now()
	s := &Session{
		ID:           uuid.New().String(),
		JobID:        jobID,
		CreatedAt:    now,
		transcript:   t,
		context:      answering.RenderContext(t),
		state:        StateCreated,
		lastActivity: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Printf("Session %s: started for job %s (%d lines)", s.ID, jobID, len(t.Lines))
	return s.info()
}

func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Get returns a snapshot of a live session.
func (m *Manager) Get(id string) (Info, error) {
	s, ok := m.lookup(id)
	if !ok {
		return Info{}, failure.UnknownSession(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return Info{}, failure.UnknownSession(id)
	}
	return s.info(), nil
}

// History returns a copy of a live session's turns.
func (m *Manager) History(id string) ([]types.Turn, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, failure.UnknownSession(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, failure.UnknownSession(id)
	}
	out := make([]types.Turn, len(s.history))
	copy(out, s.history)
	return out, nil
}

// Transcript returns the transcript a live session answers from.
func (m *Manager) Transcript(id string) (types.Transcript, error) {
	s, ok := m.lookup(id)
	if !ok {
		return types.Transcript{}, failure.UnknownSession(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return types.Transcript{}, failure.UnknownSession(id)
	}
	return s.transcript, nil
}

// Ask sends a question to the answering model with the full transcript and
// the windowed history. Both turns are appended only when an answer comes
// back; a failed or rejected question leaves the session untouched.
func (m *Manager) Ask(ctx context.Context, id, question string) (string, error) {
	s, ok := m.lookup(id)
	if !ok {
		return "", failure.UnknownSession(id)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", failure.EmptyQuestion()
	}

	s.askMu.Lock()
	defer s.askMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", failure.UnknownSession(id)
	}
	req := answering.Request{
		TranscriptContext: s.context,
		History:           Window(s.history, EstimateTokens(question), m.cfg.Window),
		Question:          question,
	}
	s.mu.Unlock()

	asked := m.now()
	var answer string
	err := m.cfg.Answer.Do(ctx, "answer", func(ctx context.Context) error {
		a, err := m.model.Answer(ctx, req)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	if err != nil {
		log.Printf("Session %s: answer failed: %v", s.ID, err)
		return "", err
	}

	answered := m.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		// Closed while the model was answering; the answer is dropped.
		return "", failure.UnknownSession(id)
	}
	s.history = append(s.history,
		types.Turn{Role: types.RoleUser, Content: question, Timestamp: asked},
		types.Turn{Role: types.RoleAgent, Content: answer, Timestamp: answered},
	)
	s.state = StateActive
	s.lastActivity = answered
	return answer, nil
}

// Close ends a session. A question still in flight finishes against the
// model but its answer is discarded.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return failure.UnknownSession(id)
	}

	s.mu.Lock()
	s.close()
	s.mu.Unlock()
	log.Printf("Session %s: closed", id)
	return nil
}

// EvictIdle closes every session idle for longer than the configured
// timeout and returns how many were closed. Sessions busy with a question are
// not idle and are skipped.
func (m *Manager) EvictIdle() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if !s.askMu.TryLock() {
			continue
		}
		s.mu.Lock()
		if idle := now.Sub(s.lastActivity); idle > m.cfg.IdleTimeout {
			s.close()
			delete(m.sessions, id)
			evicted++
			log.Printf("Session %s: evicted after %s idle", id, idle.Round(time.Second))
		}
		s.mu.Unlock()
		s.askMu.Unlock()
	}
	return evicted
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns snapshots of all live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// close must be called with s.mu held.
func (s *Session) close() {
	s.state = StateClosed
	s.history = nil
	s.transcript = types.Transcript{}
	s.context = ""
}

// info must be called with s.mu held, or before the session is shared.
func (s *Session) info() Info {
	return Info{
		ID:           s.ID,
		JobID:        s.JobID,
		State:        s.state,
		Turns:        len(s.history),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
}
