package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sertika/cbt-backend/internal/model"
)

// fakeMirror is an in-memory Mirror with scriptable failures.
type fakeMirror struct {
	mu     sync.Mutex
	saved  map[uuid.UUID]*model.UserAnswer
	fail   bool
	writes int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{saved: make(map[uuid.UUID]*model.UserAnswer)}
}

func (m *fakeMirror) Save(_ context.Context, questionID uuid.UUID, ans *model.UserAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.fail {
		return errors.New("mirror down")
	}
	cp := *ans
	m.saved[questionID] = &cp
	return nil
}

func (m *fakeMirror) Load(_ context.Context) (map[uuid.UUID]*model.UserAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]*model.UserAnswer, len(m.saved))
	for qid, ans := range m.saved {
		cp := *ans
		out[qid] = &cp
	}
	return out, nil
}

func (m *fakeMirror) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func (m *fakeMirror) get(qid uuid.UUID) *model.UserAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[qid]
}

func testExam() *model.ExamSession {
	return &model.ExamSession{
		ID:              uuid.New(),
		Title:           "Algorithms Midterm",
		DurationMinutes: 90,
		Status:          model.ExamStatusOngoing,
		Questions: []model.Question{
			{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, Weight: 10, CorrectAnswer: "B", OrderNum: 1},
			{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, Weight: 10, CorrectAnswer: "heap", OrderNum: 2},
			{ID: uuid.New(), Type: model.QuestionTypeEssay, Weight: 30, OrderNum: 3},
			{ID: uuid.New(), Type: model.QuestionTypeEssay, Weight: 30, OrderNum: 4},
		},
	}
}

func newTestAttempt(t *testing.T, exam *model.ExamSession, mirror Mirror) *Attempt {
	t.Helper()
	return New(exam, uuid.New(), "Dewi Lestari", -1, mirror, zerolog.Nop())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStoreWriteMirrorsAndRetriesDirty(t *testing.T) {
	mirror := newFakeMirror()
	store := NewStore(mirror, zerolog.Nop())
	qid := uuid.New()

	store.Write(context.Background(), qid, "first")
	waitFor(t, func() bool { return mirror.get(qid) != nil })
	assert.Equal(t, "first", mirror.get(qid).Answer)

	// A failed mirror write stays in memory and is retried alongside the
	// next write.
	mirror.setFail(true)
	other := uuid.New()
	store.Write(context.Background(), other, "lost for now")
	waitFor(t, func() bool {
		mirror.mu.Lock()
		defer mirror.mu.Unlock()
		return mirror.writes >= 2
	})
	assert.Nil(t, mirror.get(other))
	assert.Equal(t, "lost for now", store.Read(other).Answer)

	mirror.setFail(false)
	store.Write(context.Background(), qid, "second")
	waitFor(t, func() bool {
		saved := mirror.get(other)
		return saved != nil && mirror.get(qid).Answer == "second"
	})
	assert.Equal(t, "lost for now", mirror.get(other).Answer)
}

func TestStoreWriteNeverRemoves(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	qid := uuid.New()

	store.Write(context.Background(), qid, "answer")
	store.Write(context.Background(), qid, "")

	got := store.Read(qid)
	require.NotNil(t, got)
	assert.Equal(t, "", got.Answer)
	assert.Equal(t, 1, store.Len())
}

func TestStoreRestore(t *testing.T) {
	mirror := newFakeMirror()
	qid := uuid.New()
	mirror.saved[qid] = &model.UserAnswer{QuestionID: qid, Answer: "recovered", LastSaved: time.Now()}

	store := NewStore(mirror, zerolog.Nop())
	require.NoError(t, store.Restore(context.Background()))
	require.NotNil(t, store.Read(qid))
	assert.Equal(t, "recovered", store.Read(qid).Answer)
}

func TestNavigatorClamps(t *testing.T) {
	exam := testExam()
	nav := NewNavigator(exam.Questions)

	assert.Equal(t, 0, nav.Index())
	nav.Previous()
	assert.Equal(t, 0, nav.Index())

	nav.GoTo(99)
	assert.Equal(t, 3, nav.Index())
	nav.Next()
	assert.Equal(t, 3, nav.Index())

	nav.GoTo(-5)
	assert.Equal(t, 0, nav.Index())
	assert.Equal(t, exam.Questions[0].ID, nav.Current().ID)
}

func TestNavigatorAnsweredPartition(t *testing.T) {
	exam := testExam()
	store := NewStore(nil, zerolog.Nop())
	nav := NewNavigator(exam.Questions)

	store.Write(context.Background(), exam.Questions[0].ID, "B")
	store.Write(context.Background(), exam.Questions[2].ID, "essay text")

	assert.Len(t, nav.Answered(store), 2)
	assert.Len(t, nav.Unanswered(store), 2)
}

func TestClockExpiresOnce(t *testing.T) {
	fired := 0
	clock := NewClock(2, func() { fired++ })

	assert.False(t, clock.tick())
	assert.Equal(t, 1, clock.Remaining())
	assert.True(t, clock.tick())
	assert.Equal(t, 1, fired)
	assert.True(t, clock.tick())
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, clock.Remaining())
}

func TestClockStopPreventsExpiry(t *testing.T) {
	fired := 0
	clock := NewClock(1, func() { fired++ })
	clock.Stop()
	assert.True(t, clock.tick())
	assert.Equal(t, 0, fired)
}

func TestAttemptUpdateAnswerTracksProgress(t *testing.T) {
	exam := testExam()
	a := newTestAttempt(t, exam, nil)

	_, err := a.UpdateAnswer(context.Background(), exam.Questions[0].ID, "B")
	require.NoError(t, err)
	assert.Equal(t, 25, a.Submission().Progress)

	_, err = a.UpdateAnswer(context.Background(), exam.Questions[1].ID, "heap")
	require.NoError(t, err)
	assert.Equal(t, 50, a.Submission().Progress)

	_, err = a.UpdateAnswer(context.Background(), uuid.New(), "nope")
	assert.Error(t, err)
}

func TestAttemptFinalizeIdempotent(t *testing.T) {
	exam := testExam()
	a := newTestAttempt(t, exam, nil)

	_, err := a.UpdateAnswer(context.Background(), exam.Questions[0].ID, "B")
	require.NoError(t, err)
	_, err = a.UpdateAnswer(context.Background(), exam.Questions[1].ID, "stack")
	require.NoError(t, err)

	calls := 0
	a.OnFinalize(func(*model.Submission) { calls++ })

	sub := a.Finalize()
	again := a.Finalize()
	assert.Same(t, sub, again)
	assert.Equal(t, 1, calls)

	assert.Equal(t, model.MonitoringCompleted, sub.Status)
	assert.False(t, sub.IsOnline)
	assert.Equal(t, model.EventSubmitted, sub.TimelineEvents[len(sub.TimelineEvents)-1].Type)

	// Correct MC answer earns its weight, wrong short answer earns zero.
	mc := sub.Answers[exam.Questions[0].ID]
	require.True(t, mc.Scored())
	assert.Equal(t, 10.0, *mc.Score)
	assert.Equal(t, model.GradeStateAutoGraded, mc.GradeState)

	sa := sub.Answers[exam.Questions[1].ID]
	require.True(t, sa.Scored())
	assert.Equal(t, 0.0, *sa.Score)

	assert.Equal(t, 10.0, a.AutoScore())
}

func TestAttemptRejectsWritesAfterFinalize(t *testing.T) {
	exam := testExam()
	a := newTestAttempt(t, exam, nil)

	a.Finalize()
	_, err := a.UpdateAnswer(context.Background(), exam.Questions[0].ID, "late")
	assert.ErrorIs(t, err, ErrFinalized)
	assert.True(t, a.Finalized())
}

func TestAttemptClockExpiryForcesFinalization(t *testing.T) {
	exam := testExam()
	a := newTestAttempt(t, exam, nil)
	// Rewire to an immediate expiry.
	a.clock = NewClock(0, func() { a.Finalize() })

	done := make(chan struct{})
	a.OnFinalize(func(*model.Submission) { close(done) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.RunClock(ctx)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("clock expiry did not finalize the attempt")
	}
	assert.True(t, a.Finalized())
}

func TestAttemptAnomalyEventsFlagOnce(t *testing.T) {
	exam := testExam()
	a := newTestAttempt(t, exam, nil)

	a.RecordEvent(model.EventFocusLost, "Window focus lost")
	a.RecordEvent(model.EventFocusLost, "Window focus lost")
	a.RecordEvent(model.EventInactivityFlag, "Idle for 5 minutes")

	sub := a.Submission()
	assert.Equal(t, []string{"Window focus lost", "Idle for 5 minutes"}, sub.Flags)
	// Every occurrence still lands on the timeline.
	assert.Len(t, sub.TimelineEvents, 4) // SESSION_START + 3
}

func TestAttemptConnectionEventsTogglePresence(t *testing.T) {
	exam := testExam()
	a := newTestAttempt(t, exam, nil)

	a.RecordEvent(model.EventConnectionLost, "Connection lost")
	sub := a.Submission()
	assert.False(t, sub.IsOnline)
	assert.Equal(t, model.MonitoringDisconnected, sub.Status)

	a.RecordEvent(model.EventConnectionRestored, "Reconnected")
	assert.True(t, sub.IsOnline)
	assert.Equal(t, model.MonitoringActive, sub.Status)
}

func TestAttemptResumeRestoresLedger(t *testing.T) {
	exam := testExam()
	mirror := newFakeMirror()

	first := New(exam, uuid.New(), "Dewi Lestari", -1, mirror, zerolog.Nop())
	_, err := first.UpdateAnswer(context.Background(), exam.Questions[0].ID, "B")
	require.NoError(t, err)
	waitFor(t, func() bool { return mirror.get(exam.Questions[0].ID) != nil })

	second := New(exam, uuid.New(), "Dewi Lestari", 120, mirror, zerolog.Nop())
	require.NoError(t, second.Resume(context.Background()))
	assert.Equal(t, "B", second.Store.Read(exam.Questions[0].ID).Answer)
	assert.Equal(t, 25, second.Submission().Progress)
	assert.Equal(t, 120, second.TimeRemaining())
}
