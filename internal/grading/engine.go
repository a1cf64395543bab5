package grading

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sertika/cbt-backend/internal/model"
)

// ErrUnknownQuestion is returned when a grading operation targets a question
// that does not belong to the submission's exam.
var ErrUnknownQuestion = errors.New("question does not belong to this exam")

// Engine reconciles automatic scores, manual overrides, and AI suggestions
// for one submission into its answer ledger.
// One engine lives per review session; the adopted set is what makes AI
// auto-adoption a once-per-question affair.
type Engine struct {
	exam    *model.ExamSession
	sub     *model.Submission
	adopted map[uuid.UUID]bool
	now     func() time.Time
}

// NewEngine creates a grading engine for a submission.
func NewEngine(exam *model.ExamSession, sub *model.Submission) *Engine {
	if sub.Answers == nil {
		sub.Answers = make(map[uuid.UUID]*model.UserAnswer)
	}
	return &Engine{
		exam:    exam,
		sub:     sub,
		adopted: make(map[uuid.UUID]bool),
		now:     time.Now,
	}
}

// Rebind points the engine at a freshly loaded copy of the same submission.
// The adoption set carries over, so a suggestion that already seeded a score
// once will not seed again.
func (e *Engine) Rebind(exam *model.ExamSession, sub *model.Submission) *Engine {
	if sub.Answers == nil {
		sub.Answers = make(map[uuid.UUID]*model.UserAnswer)
	}
	e.exam = exam
	e.sub = sub
	return e
}

// Submission returns the submission being graded.
func (e *Engine) Submission() *model.Submission {
	return e.sub
}

// SetScore records a manual score and feedback for a question. The score is
// clamped into [0, weight] rather than rejected, the entry is stamped, and
// the grade state moves to MANUALLY_GRADED. Available for every question
// type, including correcting an auto-grade. Returns the stored (possibly
// clamped) score.
func (e *Engine) SetScore(questionID uuid.UUID, score float64, feedback string) (float64, error) {
	q := e.exam.QuestionByID(questionID)
	if q == nil {
		return 0, ErrUnknownQuestion
	}

	score = clamp(score, float64(q.Weight))

	ans := e.ensureEntry(questionID)
	ans.Score = &score
	ans.Feedback = feedback
	ans.LastSaved = e.now()
	ans.GradeState = model.GradeStateManuallyGraded

	return score, nil
}

// ApplySuggestion stores an AI grading suggestion. The suggested score is
// clamped into [0, weight] before storage since the provider is an untrusted
// oracle. If the question has no manual score yet, the suggestion also seeds
// score and feedback; that auto-adoption happens at most once per question
// per session, so a later suggestion never clobbers an assessor's edit.
// Returns whether the suggestion was adopted as the working score.
func (e *Engine) ApplySuggestion(questionID uuid.UUID, score float64, feedback string) (bool, error) {
	q := e.exam.QuestionByID(questionID)
	if q == nil {
		return false, ErrUnknownQuestion
	}

	score = clamp(score, float64(q.Weight))

	ans := e.ensureEntry(questionID)
	ans.AISuggestedScore = &score
	ans.AIFeedback = feedback
	ans.LastSaved = e.now()
	if ans.GradeState != model.GradeStateManuallyGraded {
		ans.GradeState = model.GradeStateAISuggested
	}

	// A deliberate zero is a real manual grade; only a missing score adopts.
	if ans.Score != nil || e.adopted[questionID] {
		return false, nil
	}

	adoptedScore := score
	ans.Score = &adoptedScore
	ans.Feedback = feedback
	e.adopted[questionID] = true
	return true, nil
}

// ensureEntry returns the ledger entry for a question, creating an empty one
// if the participant never answered. Assessors may score blank essays.
func (e *Engine) ensureEntry(questionID uuid.UUID) *model.UserAnswer {
	ans := e.sub.Answer(questionID)
	if ans == nil {
		ans = &model.UserAnswer{QuestionID: questionID, GradeState: model.GradeStateUngraded}
		e.sub.Answers[questionID] = ans
	}
	return ans
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
