package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates exam lifecycle states.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusUpcoming  ExamStatus = "UPCOMING"
	ExamStatusOngoing   ExamStatus = "ONGOING"
	ExamStatusCompleted ExamStatus = "COMPLETED"
	ExamStatusExpired   ExamStatus = "EXPIRED"
)

// ExamConfig holds per-exam delivery options.
type ExamConfig struct {
	RandomizeQuestions     bool `json:"randomize_questions"`
	RandomizeOptions       bool `json:"randomize_options"`
	ShowResultsImmediately bool `json:"show_results_immediately"`
}

// ExamSession is an assembled exam: a titled, time-windowed, ordered set of
// questions. The core consumes it read-only; assembly happens elsewhere.
type ExamSession struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          ExamStatus `json:"status"`
	Questions       []Question `json:"questions,omitempty"`
	Config          ExamConfig `json:"config"`
}

// QuestionByID returns the question with the given id, or nil.
func (e *ExamSession) QuestionByID(id uuid.UUID) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}

// MaxScore is the sum of all question weights.
func (e *ExamSession) MaxScore() int {
	total := 0
	for i := range e.Questions {
		total += e.Questions[i].Weight
	}
	return total
}

// ExamPayload is the participant-facing exam document cached in Redis.
type ExamPayload struct {
	ExamID    uuid.UUID                `json:"exam_id"`
	Title     string                   `json:"title"`
	Duration  int                      `json:"duration"`
	Config    ExamConfig               `json:"config"`
	Questions []QuestionForParticipant `json:"questions"`
}

// JoinExamRequest is the payload for a participant joining an exam.
type JoinExamRequest struct {
	CandidateName string `json:"candidate_name" binding:"required,min=2,max=120"`
}
