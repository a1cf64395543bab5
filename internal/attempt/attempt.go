package attempt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sertika/cbt-backend/internal/grading"
	"github.com/sertika/cbt-backend/internal/model"
)

// ErrFinalized is returned for writes that arrive after finalization. The
// write is discarded; last-saved-before-deadline answers are what gets
// graded.
var ErrFinalized = errors.New("attempt already finalized")

// Attempt is one candidate's in-progress run through a timed exam: the
// answer ledger, the question pointer, the countdown, and the submission
// record being built. All mutations of a single attempt happen on one
// logical thread (the owning connection), the clock expiry callback aside,
// which is serialized through the attempt mutex.
type Attempt struct {
	mu sync.Mutex

	Exam      *model.ExamSession
	Store     *Store
	Navigator *Navigator

	clock      *Clock
	submission *model.Submission
	finalized  bool
	onFinalize func(*model.Submission)
	now        func() time.Time
	log        zerolog.Logger
}

// New starts an attempt for a candidate: an ACTIVE submission with a
// SESSION_START timeline event, an empty store, and a countdown primed to
// durationMinutes. remainingSeconds lets a resumed attempt keep its original
// deadline; pass a negative value to use the full duration.
func New(exam *model.ExamSession, submissionID uuid.UUID, candidateName string, remainingSeconds int, mirror Mirror, log zerolog.Logger) *Attempt {
	a := &Attempt{
		Exam:      exam,
		Store:     NewStore(mirror, log),
		Navigator: NewNavigator(exam.Questions),
		now:       time.Now,
		log:       log.With().Str("component", "attempt").Str("submission_id", submissionID.String()).Logger(),
	}

	if remainingSeconds < 0 {
		remainingSeconds = exam.DurationMinutes * 60
	}
	a.clock = NewClock(remainingSeconds, func() {
		a.log.Info().Msg("Time expired, forcing finalization")
		a.Finalize()
	})

	now := a.now()
	a.submission = &model.Submission{
		ID:            submissionID,
		CandidateName: candidateName,
		ExamID:        exam.ID,
		Status:        model.MonitoringActive,
		IsOnline:      true,
		LastActive:    &now,
		Answers:       make(map[uuid.UUID]*model.UserAnswer),
		Flags:         []string{},
	}
	a.submission.AppendEvent(model.EventSessionStart, "Session started", now)

	return a
}

// Resume restores the mirrored ledger into the store. Only meaningful for
// in-progress attempts; a finalized submission never resumes.
func (a *Attempt) Resume(ctx context.Context) error {
	if err := a.Store.Restore(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.submission.RecomputeProgress(len(a.Exam.Questions))
	a.mu.Unlock()
	return nil
}

// RunClock starts the countdown. Call in a goroutine.
func (a *Attempt) RunClock(ctx context.Context) {
	a.clock.Run(ctx)
}

// TimeRemaining returns the seconds left on the countdown.
func (a *Attempt) TimeRemaining() int {
	return a.clock.Remaining()
}

// UpdateAnswer writes a participant answer. Unknown question ids are
// rejected; writes after finalization are discarded.
func (a *Attempt) UpdateAnswer(ctx context.Context, questionID uuid.UUID, value string) (*model.UserAnswer, error) {
	a.mu.Lock()
	if a.finalized {
		a.mu.Unlock()
		return nil, ErrFinalized
	}
	if a.Exam.QuestionByID(questionID) == nil {
		a.mu.Unlock()
		return nil, errors.New("question does not belong to this exam")
	}
	a.mu.Unlock()

	ans := a.Store.Write(ctx, questionID, value)

	a.mu.Lock()
	now := a.now()
	a.submission.LastActive = &now
	a.submission.Answers = a.Store.Snapshot()
	a.submission.RecomputeProgress(len(a.Exam.Questions))
	a.mu.Unlock()

	return ans, nil
}

// RecordEvent appends a timeline event to the submission. Anomaly events
// also set a submission flag once.
func (a *Attempt) RecordEvent(typ model.EventType, label string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.submission.AppendEvent(typ, label, now)
	a.submission.LastActive = &now

	switch typ {
	case model.EventFocusLost, model.EventInactivityFlag, model.EventConnectionLost:
		a.flagOnceLocked(label)
	}
	if typ == model.EventConnectionLost {
		a.submission.IsOnline = false
		a.submission.Status = model.MonitoringDisconnected
	}
	if typ == model.EventConnectionRestored {
		a.submission.IsOnline = true
		a.submission.Status = model.MonitoringActive
	}
}

// Finalize freezes the attempt into a COMPLETED submission: the ledger is
// snapshotted, auto-gradable questions are scored against the answer key,
// and a single SUBMITTED event is appended. Repeated calls return the same
// submission unchanged.
func (a *Attempt) Finalize() *model.Submission {
	a.mu.Lock()

	if a.finalized {
		sub := a.submission
		a.mu.Unlock()
		return sub
	}
	a.finalized = true
	a.clock.Stop()

	now := a.now()
	a.submission.Answers = a.Store.Snapshot()
	a.submission.RecomputeProgress(len(a.Exam.Questions))
	a.submission.Status = model.MonitoringCompleted
	a.submission.IsOnline = false
	a.submission.LastActive = &now
	a.submission.AppendEvent(model.EventSubmitted, "Answers submitted", now)

	grading.AutoGrade(a.Exam, a.submission, now)

	sub := a.submission
	fn := a.onFinalize
	a.mu.Unlock()

	if fn != nil {
		fn(sub)
	}
	return sub
}

// OnFinalize registers a callback invoked exactly once when the attempt
// freezes, whether by explicit submit or clock expiry. Runs outside the
// attempt lock.
func (a *Attempt) OnFinalize(fn func(*model.Submission)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFinalize = fn
}

// AutoScore returns the key-matched portion of the score. Meaningful after
// Finalize has run the auto-grading pass.
func (a *Attempt) AutoScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return grading.AutoScore(a.Exam, a.submission)
}

// Finalized reports whether the attempt has been frozen.
func (a *Attempt) Finalized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized
}

// Submission returns the submission record being built.
func (a *Attempt) Submission() *model.Submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submission
}

func (a *Attempt) flagOnceLocked(label string) {
	if label == "" {
		return
	}
	for _, f := range a.submission.Flags {
		if f == label {
			return
		}
	}
	a.submission.Flags = append(a.submission.Flags, label)
}
