package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcript-agent/internal/answering"
	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingModel answers "answer N" and records every request it sees.
type recordingModel struct {
	mu       sync.Mutex
	requests []answering.Request
	err      error
}

func (m *recordingModel) Answer(ctx context.Context, req answering.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("answer %d", len(m.requests)), nil
}

func transcript() types.Transcript {
	return types.Transcript{
		SourceFileID:  "f",
		TotalDuration: 4 * time.Second,
		Lines: []types.TranscriptLine{
			{Index: 0, Start: 0, End: 2 * time.Second, Speaker: "A", Text: "We should ship on Friday."},
			{Index: 1, Start: 2 * time.Second, End: 4 * time.Second, Speaker: "B", Text: "Agreed."},
		},
	}
}

func newTestManager(model answering.Model, cfg Config) (*Manager, *fakeClock) {
	if cfg.Answer.Attempts == 0 {
		cfg.Answer = retrypolicy.Policy{Attempts: 3, BaseDelay: time.Millisecond}
	}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := NewManager(model, cfg)
	m.SetClock(clock.Now)
	return m, clock
}

func TestAskAppendsTurnsInOrder(t *testing.T) {
	model := &recordingModel{}
	m, _ := newTestManager(model, Config{})
	info := m.Start("job-1", transcript())
	assert.Equal(t, StateCreated, info.State)

	a1, err := m.Ask(context.Background(), info.ID, "  When do we ship?  ")
	require.NoError(t, err)
	a2, err := m.Ask(context.Background(), info.ID, "Who agreed?")
	require.NoError(t, err)
	assert.Equal(t, "answer 1", a1)
	assert.Equal(t, "answer 2", a2)

	history, err := m.History(info.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, types.Turn{Role: types.RoleUser, Content: "When do we ship?", Timestamp: history[0].Timestamp}, history[0])
	assert.Equal(t, types.RoleAgent, history[1].Role)
	assert.Equal(t, "Who agreed?", history[2].Content)
	assert.Equal(t, "answer 2", history[3].Content)

	// The second request carries the first exchange plus the new question.
	require.Len(t, model.requests, 2)
	assert.Empty(t, model.requests[0].History)
	assert.Equal(t, "When do we ship?", model.requests[0].Question)
	require.Len(t, model.requests[1].History, 2)
	assert.Equal(t, "Who agreed?", model.requests[1].Question)
	assert.Contains(t, model.requests[1].TranscriptContext, "A: We should ship on Friday.")

	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, 4, got.Turns)
}

func TestScenarioAskOnClosedSession(t *testing.T) {
	m, _ := newTestManager(&recordingModel{}, Config{})
	closed := m.Start("job-1", transcript())
	other := m.Start("job-2", transcript())
	require.NoError(t, m.Close(closed.ID))
	before := m.Len()

	_, err := m.Ask(context.Background(), closed.ID, "anything?")
	require.Error(t, err)
	assert.True(t, failure.IsUnknownSession(err))
	assert.Equal(t, failure.ReasonUnknownSession, failure.ReasonCode(err))
	assert.Equal(t, before, m.Len())

	_, err = m.Get(other.ID)
	assert.NoError(t, err)
}

func TestAskUnknownSession(t *testing.T) {
	m, _ := newTestManager(&recordingModel{}, Config{})
	_, err := m.Ask(context.Background(), "nope", "hello")
	assert.True(t, failure.IsUnknownSession(err))
	assert.True(t, failure.IsUnknownSession(m.Close("nope")))
}

func TestEmptyQuestionLeavesHistoryUntouched(t *testing.T) {
	model := &recordingModel{}
	m, _ := newTestManager(model, Config{})
	info := m.Start("job-1", transcript())

	_, err := m.Ask(context.Background(), info.ID, " \n\t ")
	require.Error(t, err)
	assert.True(t, failure.IsEmptyQuestion(err))
	assert.Empty(t, model.requests)

	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, got.State)
	assert.Zero(t, got.Turns)
}

func TestFailedAnswerLeavesHistoryUntouched(t *testing.T) {
	model := &recordingModel{err: failure.Transient("answer", errors.New("http 503: busy"))}
	m, _ := newTestManager(model, Config{})
	info := m.Start("job-1", transcript())

	_, err := m.Ask(context.Background(), info.ID, "hello?")
	require.Error(t, err)
	assert.True(t, failure.IsTransient(err))
	assert.Len(t, model.requests, 3)

	history, err := m.History(info.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPermanentAnswerFailureIsNotRetried(t *testing.T) {
	model := &recordingModel{err: failure.Permanent("answer", errors.New("http 403: forbidden"))}
	m, _ := newTestManager(model, Config{})
	info := m.Start("job-1", transcript())

	_, err := m.Ask(context.Background(), info.ID, "hello?")
	assert.True(t, failure.IsPermanent(err))
	assert.Len(t, model.requests, 1)
}

func TestHistoryBudgetDropsOldestAndKeepsTranscript(t *testing.T) {
	model := &recordingModel{}
	m, _ := newTestManager(model, Config{Window: WindowPolicy{MaxTurns: 4}})
	info := m.Start("job-1", transcript())

	for i := 0; i < 5; i++ {
		_, err := m.Ask(context.Background(), info.ID, fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	last := model.requests[len(model.requests)-1]
	require.Len(t, last.History, 4)
	assert.Equal(t, "question 2", last.History[0].Content)
	assert.Equal(t, "answer 3", last.History[1].Content)
	assert.Equal(t, "question 3", last.History[2].Content)
	assert.Equal(t, "answer 4", last.History[3].Content)

	want := answering.RenderContext(transcript())
	for _, req := range model.requests {
		assert.Equal(t, want, req.TranscriptContext)
	}

	// The session keeps its full history; only the request is windowed.
	history, err := m.History(info.ID)
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

func TestAskSerializesPerSession(t *testing.T) {
	var inFlight, peak atomic.Int32
	model := answering.ModelFunc(func(ctx context.Context, req answering.Request) (string, error) {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return "ok: " + req.Question, nil
	})
	m, _ := newTestManager(model, Config{})
	info := m.Start("job-1", transcript())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Ask(context.Background(), info.ID, fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, peak.Load())
	history, err := m.History(info.ID)
	require.NoError(t, err)
	require.Len(t, history, 16)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, types.RoleUser, history[i].Role)
		assert.Equal(t, types.RoleAgent, history[i+1].Role)
		assert.Equal(t, "ok: "+history[i].Content, history[i+1].Content)
	}
}

func TestDifferentSessionsRunInParallel(t *testing.T) {
	release := make(chan struct{})
	var entered atomic.Int32
	model := answering.ModelFunc(func(ctx context.Context, req answering.Request) (string, error) {
		if entered.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
			return "ok", nil
		case <-time.After(2 * time.Second):
			return "", errors.New("sessions did not overlap")
		}
	})
	m, _ := newTestManager(model, Config{Answer: retrypolicy.Policy{Attempts: 1}})
	s1 := m.Start("job-1", transcript())
	s2 := m.Start("job-2", transcript())

	var wg sync.WaitGroup
	for _, id := range []string{s1.ID, s2.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Ask(context.Background(), id, "q")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestEvictIdle(t *testing.T) {
	m, clock := newTestManager(&recordingModel{}, Config{IdleTimeout: 30 * time.Minute})
	idle := m.Start("job-1", transcript())
	clock.Advance(20 * time.Minute)
	fresh := m.Start("job-2", transcript())

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, m.EvictIdle())
	assert.Equal(t, 1, m.Len())

	_, err := m.Ask(context.Background(), idle.ID, "still there?")
	assert.True(t, failure.IsUnknownSession(err))

	// Activity resets the idle clock.
	_, err = m.Ask(context.Background(), fresh.ID, "still there?")
	require.NoError(t, err)
	clock.Advance(29 * time.Minute)
	assert.Zero(t, m.EvictIdle())
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, m.EvictIdle())
	assert.Zero(t, m.Len())
}

func TestEvictIdleSkipsBusySession(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	model := answering.ModelFunc(func(ctx context.Context, req answering.Request) (string, error) {
		close(started)
		<-release
		return "done", nil
	})
	m, clock := newTestManager(model, Config{IdleTimeout: time.Minute, Answer: retrypolicy.Policy{Attempts: 1}})
	info := m.Start("job-1", transcript())

	done := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), info.ID, "slow question")
		done <- err
	}()
	<-started

	clock.Advance(time.Hour)
	assert.Zero(t, m.EvictIdle())
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, m.Len())
}

func TestReadsDoNotWaitForInFlightAsk(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	model := answering.ModelFunc(func(ctx context.Context, req answering.Request) (string, error) {
		close(started)
		<-release
		return "done", nil
	})
	m, _ := newTestManager(model, Config{Answer: retrypolicy.Policy{Attempts: 1}})
	busy := m.Start("job-1", transcript())
	other := m.Start("job-2", transcript())

	done := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), busy.ID, "slow question")
		done <- err
	}()
	<-started
	defer close(release)

	listed := make(chan []Info, 1)
	go func() {
		_, _ = m.Get(busy.ID)
		_, _ = m.History(busy.ID)
		_, _ = m.Get(other.ID)
		listed <- m.List()
	}()

	select {
	case list := <-listed:
		assert.Len(t, list, 2)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("session reads waited for an in-flight answer")
	}
}

func TestCloseDuringAskDiscardsAnswer(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	model := answering.ModelFunc(func(ctx context.Context, req answering.Request) (string, error) {
		close(started)
		<-release
		return "late answer", nil
	})
	m, _ := newTestManager(model, Config{Answer: retrypolicy.Policy{Attempts: 1}})
	info := m.Start("job-1", transcript())

	done := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), info.ID, "slow question")
		done <- err
	}()
	<-started

	require.NoError(t, m.Close(info.ID))
	close(release)
	err := <-done
	assert.True(t, failure.IsUnknownSession(err))
	assert.Zero(t, m.Len())
}

func TestList(t *testing.T) {
	m, clock := newTestManager(&recordingModel{}, Config{})
	first := m.Start("job-1", transcript())
	clock.Advance(time.Second)
	second := m.Start("job-2", transcript())

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, "job-2", list[1].JobID)
}

func TestTranscriptAccessor(t *testing.T) {
	m, _ := newTestManager(&recordingModel{}, Config{})
	info := m.Start("job-1", transcript())

	tr, err := m.Transcript(info.ID)
	require.NoError(t, err)
	assert.Equal(t, transcript(), tr)
	require.NoError(t, m.Close(info.ID))
	_, err = m.Transcript(info.ID)
	assert.True(t, failure.IsUnknownSession(err))
}

func TestWindowTokenBudget(t *testing.T) {
	turn := func(role types.Role, content string) types.Turn {
		return types.Turn{Role: role, Content: content}
	}
	long := strings.Repeat("x", 400) // 100 tokens
	history := []types.Turn{
		turn(types.RoleUser, long),
		turn(types.RoleAgent, long),
		turn(types.RoleUser, long),
		turn(types.RoleAgent, long),
	}

	got := Window(history, 10, WindowPolicy{MaxTokens: 250})
	require.Len(t, got, 2)
	assert.Equal(t, types.RoleUser, got[0].Role)

	// A window that would start on an answer drops it as well.
	got = Window(history, 10, WindowPolicy{MaxTokens: 320})
	require.Len(t, got, 2)
	assert.Equal(t, types.RoleUser, got[0].Role)

	assert.Len(t, Window(history, 0, WindowPolicy{}), 4)
	assert.Empty(t, Window(history, 1000, WindowPolicy{MaxTokens: 500}))
}

func TestWindowDoesNotAliasHistory(t *testing.T) {
	history := []types.Turn{{Role: types.RoleUser, Content: "a"}, {Role: types.RoleAgent, Content: "b"}}
	got := Window(history, 0, WindowPolicy{})
	got[0].Content = "changed"
	assert.Equal(t, "a", history[0].Content)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("   "))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 3, EstimateTokens("twelve chars"))
}
