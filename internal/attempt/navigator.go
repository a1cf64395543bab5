package attempt

import (
	"github.com/google/uuid"
	"github.com/sertika/cbt-backend/internal/model"
)

// Navigator tracks the current question pointer over an ordered question
// list. All moves clamp silently into [0, N-1]; navigation has no effect on
// answers and never blocks finalization.
type Navigator struct {
	questions []model.Question
	index     int
}

// NewNavigator creates a navigator positioned on the first question.
func NewNavigator(questions []model.Question) *Navigator {
	return &Navigator{questions: questions}
}

// Index returns the current question index.
func (n *Navigator) Index() int {
	return n.index
}

// Current returns the question under the pointer, or nil for an empty exam.
func (n *Navigator) Current() *model.Question {
	if len(n.questions) == 0 {
		return nil
	}
	return &n.questions[n.index]
}

// GoTo moves the pointer to index, clamping into the valid range.
func (n *Navigator) GoTo(index int) {
	if index < 0 {
		index = 0
	}
	if max := len(n.questions) - 1; index > max {
		if max < 0 {
			max = 0
		}
		index = max
	}
	n.index = index
}

// Next advances the pointer by one, clamping at the last question.
func (n *Navigator) Next() {
	n.GoTo(n.index + 1)
}

// Previous moves the pointer back by one, clamping at the first question.
func (n *Navigator) Previous() {
	n.GoTo(n.index - 1)
}

// Answered returns the ids of questions with a saved answer in the store.
func (n *Navigator) Answered(store *Store) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(n.questions))
	for i := range n.questions {
		if store.Read(n.questions[i].ID) != nil {
			out = append(out, n.questions[i].ID)
		}
	}
	return out
}

// Unanswered returns the ids of questions without a saved answer.
func (n *Navigator) Unanswered(store *Store) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(n.questions))
	for i := range n.questions {
		if store.Read(n.questions[i].ID) == nil {
			out = append(out, n.questions[i].ID)
		}
	}
	return out
}
