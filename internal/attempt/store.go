package attempt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sertika/cbt-backend/internal/model"
)

// Mirror persists the in-progress ledger outside process memory so that a
// reload or crash can resume the attempt. Finalized submissions never go
// through the mirror.
type Mirror interface {
	// Save durably records a single answer. Errors are non-fatal to the
	// attempt; the store retries on the next write.
	Save(ctx context.Context, questionID uuid.UUID, ans *model.UserAnswer) error
	// Load restores the last-saved ledger for the attempt.
	Load(ctx context.Context) (map[uuid.UUID]*model.UserAnswer, error)
}

// Store is the per-attempt answer ledger. The in-memory map is authoritative
// for the whole attempt; mirror writes are fire-and-forget and never block
// or fail the input path.
type Store struct {
	mu      sync.Mutex
	answers map[uuid.UUID]*model.UserAnswer
	dirty   map[uuid.UUID]struct{} // mirror writes that failed, retried next write
	mirror  Mirror
	now     func() time.Time
	log     zerolog.Logger
}

// NewStore creates an empty answer store. mirror may be nil (memory only).
func NewStore(mirror Mirror, log zerolog.Logger) *Store {
	return &Store{
		answers: make(map[uuid.UUID]*model.UserAnswer),
		dirty:   make(map[uuid.UUID]struct{}),
		mirror:  mirror,
		now:     time.Now,
		log:     log.With().Str("component", "answer_store").Logger(),
	}
}

// Restore loads the mirrored ledger into memory. Used when resuming an
// in-progress attempt after a reload.
func (s *Store) Restore(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	saved, err := s.mirror.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for qid, ans := range saved {
		s.answers[qid] = ans
	}
	return nil
}

// Write upserts an answer and stamps last_saved. It never removes an
// existing answer and never fails: a mirror error only marks the question
// dirty for retry alongside the next write.
func (s *Store) Write(ctx context.Context, questionID uuid.UUID, value string) *model.UserAnswer {
	s.mu.Lock()
	ans, ok := s.answers[questionID]
	if !ok {
		ans = &model.UserAnswer{QuestionID: questionID, GradeState: model.GradeStateUngraded}
		s.answers[questionID] = ans
	}
	ans.Answer = value
	ans.LastSaved = s.now()

	pending := s.collectPendingLocked(questionID)
	s.mu.Unlock()

	// Fire-and-forget: the caller's input path is never blocked by
	// storage latency.
	if s.mirror != nil {
		go s.flush(ctx, pending)
	}

	return ans
}

// Read returns the current answer for a question, or nil.
func (s *Store) Read(questionID uuid.UUID) *model.UserAnswer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers[questionID]
}

// Len returns the number of answered questions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

// Snapshot returns a deep copy of the ledger. Used by finalization to freeze
// the attempt into a submission.
func (s *Store) Snapshot() map[uuid.UUID]*model.UserAnswer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]*model.UserAnswer, len(s.answers))
	for qid, ans := range s.answers {
		cp := *ans
		out[qid] = &cp
	}
	return out
}

// collectPendingLocked returns copies of the given answer plus every dirty
// answer awaiting a mirror retry. Caller must hold s.mu.
func (s *Store) collectPendingLocked(questionID uuid.UUID) []*model.UserAnswer {
	s.dirty[questionID] = struct{}{}

	pending := make([]*model.UserAnswer, 0, len(s.dirty))
	for qid := range s.dirty {
		if ans, ok := s.answers[qid]; ok {
			cp := *ans
			pending = append(pending, &cp)
		}
	}
	return pending
}

func (s *Store) flush(ctx context.Context, pending []*model.UserAnswer) {
	for _, ans := range pending {
		if err := s.mirror.Save(ctx, ans.QuestionID, ans); err != nil {
			s.log.Warn().Err(err).
				Str("question_id", ans.QuestionID.String()).
				Msg("Mirror write failed, will retry on next write")
			continue
		}

		s.mu.Lock()
		// Only clear the dirty mark if the answer has not changed since this
		// flush was snapshotted; a newer write wins.
		if cur, ok := s.answers[ans.QuestionID]; ok && !cur.LastSaved.After(ans.LastSaved) {
			delete(s.dirty, ans.QuestionID)
		}
		s.mu.Unlock()
	}
}
