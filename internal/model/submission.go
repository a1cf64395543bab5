package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// MonitoringStatus enumerates a candidate's live session state.
type MonitoringStatus string

const (
	MonitoringNotStarted   MonitoringStatus = "NOT_STARTED"
	MonitoringActive       MonitoringStatus = "ACTIVE"
	MonitoringCompleted    MonitoringStatus = "COMPLETED"
	MonitoringDisconnected MonitoringStatus = "DISCONNECTED"
)

// ReviewStatus is the derived manual-grading completeness indicator.
type ReviewStatus string

const (
	ReviewStatusNotReviewed       ReviewStatus = "NOT_REVIEWED"
	ReviewStatusPartiallyReviewed ReviewStatus = "PARTIALLY_REVIEWED"
	ReviewStatusReviewed          ReviewStatus = "REVIEWED"
)

// EventType enumerates submission timeline event kinds.
type EventType string

const (
	EventSessionStart        EventType = "SESSION_START"
	EventConnectionLost      EventType = "CONNECTION_LOST"
	EventConnectionRestored  EventType = "CONNECTION_RESTORED"
	EventAppRestart          EventType = "APP_RESTART"
	EventFocusLost           EventType = "FOCUS_LOST"
	EventInactivityFlag      EventType = "INACTIVITY_FLAG"
	EventSubmitted           EventType = "SUBMITTED"
)

// TimelineEvent is one append-only entry of a submission's activity log.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Label     string    `json:"label,omitempty"`
}

// Submission is the durable record of one candidate's attempt: the answer
// ledger plus monitoring state. Created at session start, appended to during
// the attempt and the grading pass, terminal once COMPLETED and fully graded.
type Submission struct {
	ID            uuid.UUID                `json:"id"`
	CandidateName string                   `json:"candidate_name"`
	ExamID        uuid.UUID                `json:"exam_id"`
	Status        MonitoringStatus         `json:"status"`
	Progress      int                      `json:"progress"`
	IsOnline      bool                     `json:"is_online"`
	LastActive    *time.Time               `json:"last_active,omitempty"`
	Answers       map[uuid.UUID]*UserAnswer `json:"answers"`
	Flags         []string                 `json:"flags"`
	TimelineEvents []TimelineEvent         `json:"timeline_events"`
}

// Answer returns the ledger entry for a question, or nil.
func (s *Submission) Answer(questionID uuid.UUID) *UserAnswer {
	if s.Answers == nil {
		return nil
	}
	return s.Answers[questionID]
}

// AppendEvent records a timeline event, keeping timestamps non-decreasing.
func (s *Submission) AppendEvent(typ EventType, label string, at time.Time) {
	if n := len(s.TimelineEvents); n > 0 && at.Before(s.TimelineEvents[n-1].Timestamp) {
		at = s.TimelineEvents[n-1].Timestamp
	}
	s.TimelineEvents = append(s.TimelineEvents, TimelineEvent{
		Timestamp: at,
		Type:      typ,
		Label:     label,
	})
}

// RecomputeProgress sets Progress to the rounded percentage of questions
// with a saved answer.
func (s *Submission) RecomputeProgress(totalQuestions int) {
	if totalQuestions <= 0 {
		s.Progress = 0
		return
	}
	s.Progress = int(math.Round(100 * float64(len(s.Answers)) / float64(totalQuestions)))
}
