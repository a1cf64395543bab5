package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// AutoGradable reports whether the type is scored by answer-key matching.
func (t QuestionType) AutoGradable() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeShortAnswer
}

// Difficulty is the assembly-time difficulty label of a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question is a single exam question. Immutable once the exam is assembled.
// CorrectAnswer is the answer key; it is required for auto-gradable types
// and never included in participant-facing payloads.
type Question struct {
	ID              uuid.UUID    `json:"id"`
	Type            QuestionType `json:"type"`
	Text            string       `json:"text"`
	Options         []string     `json:"options,omitempty"`
	Weight          int          `json:"weight"`
	Difficulty      Difficulty   `json:"difficulty"`
	Topic           string       `json:"topic"`
	CorrectAnswer   string       `json:"correct_answer,omitempty"`
	SourcePackageID *uuid.UUID   `json:"source_package_id,omitempty"`
	OrderNum        int          `json:"order_num"`
}

// QuestionForParticipant is the answer-key-stripped view served to candidates.
type QuestionForParticipant struct {
	ID       uuid.UUID    `json:"id"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	Options  []string     `json:"options,omitempty"`
	Weight   int          `json:"weight"`
	OrderNum int          `json:"order_num"`
}
