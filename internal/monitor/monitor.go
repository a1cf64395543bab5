package monitor

import (
	"context"
	"sync"

	"github.com/sertika/cbt-backend/internal/model"
)

// FilterAllExams selects submissions from every exam.
const FilterAllExams = "ALL"

const dateLayout = "2006-01-02"

// Filter is the monitoring dashboard's selection criteria. The zero value
// selects nothing useful; use NewFilter for the match-everything default.
type Filter struct {
	ExamID string // exam id, or FilterAllExams
	Date   string // YYYY-MM-DD against last activity, empty means any day
}

// NewFilter returns the default criteria: every exam, any day.
func NewFilter() Filter {
	return Filter{ExamID: FilterAllExams}
}

// Match reports whether a submission satisfies the criteria. A date filter
// compares the calendar day of the submission's last activity; submissions
// that were never active cannot match any date.
func (f Filter) Match(sub *model.Submission) bool {
	if f.ExamID != FilterAllExams && sub.ExamID.String() != f.ExamID {
		return false
	}
	if f.Date != "" {
		if sub.LastActive == nil {
			return false
		}
		if sub.LastActive.Format(dateLayout) != f.Date {
			return false
		}
	}
	return true
}

// FilterSubmissions returns the subset matching the criteria, preserving
// input order.
func FilterSubmissions(subs []*model.Submission, f Filter) []*model.Submission {
	out := make([]*model.Submission, 0, len(subs))
	for _, sub := range subs {
		if f.Match(sub) {
			out = append(out, sub)
		}
	}
	return out
}

// Stats is the dashboard's aggregate counters over one filtered view.
type Stats struct {
	Total        int `json:"total"`
	NotStarted   int `json:"not_started"`
	Active       int `json:"active"`
	Completed    int `json:"completed"`
	Disconnected int `json:"disconnected"`
	Online       int `json:"online"`
	Started      int `json:"started"`
}

// Summarize computes aggregate counters over a set of submissions. Started
// counts everything past NOT_STARTED, including completed ones.
func Summarize(subs []*model.Submission) Stats {
	s := Stats{Total: len(subs)}
	for _, sub := range subs {
		switch sub.Status {
		case model.MonitoringNotStarted:
			s.NotStarted++
		case model.MonitoringActive:
			s.Active++
		case model.MonitoringCompleted:
			s.Completed++
		case model.MonitoringDisconnected:
			s.Disconnected++
		}
		if sub.IsOnline {
			s.Online++
		}
		if sub.Status != model.MonitoringNotStarted {
			s.Started++
		}
	}
	return s
}

// Source supplies the submission population a Monitor filters over.
type Source func(ctx context.Context) ([]*model.Submission, error)

// Monitor is one dashboard viewer's session: pending criteria edits plus the
// last applied view. Criteria edits do not touch the view until Apply; any
// edit invalidates the previous materialization.
type Monitor struct {
	mu      sync.Mutex
	source  Source
	pending Filter
	applied Filter
	view    []*model.Submission
	fresh   bool
}

func New(source Source) *Monitor {
	return &Monitor{
		source:  source,
		pending: NewFilter(),
		applied: NewFilter(),
	}
}

// SetExamID stages an exam criterion. The current view stays untouched but
// is marked stale.
func (m *Monitor) SetExamID(examID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if examID == "" {
		examID = FilterAllExams
	}
	m.pending.ExamID = examID
	m.fresh = false
}

// SetDate stages a date criterion (YYYY-MM-DD, empty clears it).
func (m *Monitor) SetDate(date string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.Date = date
	m.fresh = false
}

// Reset restores the default criteria and drops the current view.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = NewFilter()
	m.applied = NewFilter()
	m.view = nil
	m.fresh = false
}

// Apply materializes a view: fetches the current population from the source
// and filters it with the staged criteria.
func (m *Monitor) Apply(ctx context.Context) ([]*model.Submission, Stats, error) {
	m.mu.Lock()
	source := m.source
	criteria := m.pending
	m.mu.Unlock()

	subs, err := source(ctx)
	if err != nil {
		return nil, Stats{}, err
	}

	view := FilterSubmissions(subs, criteria)
	stats := Summarize(view)

	m.mu.Lock()
	m.applied = criteria
	m.view = view
	m.fresh = true
	m.mu.Unlock()

	return view, stats, nil
}

// View returns the last applied materialization and whether it still matches
// the staged criteria. A false second return means Apply is needed.
func (m *Monitor) View() ([]*model.Submission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view, m.fresh
}

// Criteria returns the staged criteria.
func (m *Monitor) Criteria() Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}
