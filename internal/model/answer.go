package model

import (
	"time"

	"github.com/google/uuid"
)

// GradeState tracks how a question's score inside a submission was produced.
type GradeState string

const (
	GradeStateUngraded       GradeState = "UNGRADED"
	GradeStateAutoGraded     GradeState = "AUTO_GRADED"
	GradeStateAISuggested    GradeState = "AI_SUGGESTED"
	GradeStateManuallyGraded GradeState = "MANUALLY_GRADED"
)

// UserAnswer is one entry of the per-question answer ledger. It is written
// incrementally during the attempt and again during grading; Score and
// Feedback stay nil until a grading pass sets them.
type UserAnswer struct {
	QuestionID       uuid.UUID  `json:"question_id"`
	Answer           string     `json:"answer"`
	LastSaved        time.Time  `json:"last_saved"`
	Score            *float64   `json:"score,omitempty"`
	Feedback         string     `json:"feedback,omitempty"`
	AISuggestedScore *float64   `json:"ai_suggested_score,omitempty"`
	AIFeedback       string     `json:"ai_feedback,omitempty"`
	GradeState       GradeState `json:"grade_state"`
}

// Scored reports whether a score has been recorded. A deliberate zero counts
// as a real grade.
func (a *UserAnswer) Scored() bool {
	return a != nil && a.Score != nil
}

// SetScoreRequest is the payload for an assessor scoring a question.
type SetScoreRequest struct {
	Score    float64 `json:"score" binding:"min=0"`
	Feedback string  `json:"feedback" binding:"max=4000"`
}
