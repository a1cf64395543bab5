package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sertika/cbt-backend/internal/model"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func population(examA, examB uuid.UUID) []*model.Submission {
	return []*model.Submission{
		{
			ID: uuid.New(), ExamID: examA, CandidateName: "Andi",
			Status: model.MonitoringActive, IsOnline: true,
			LastActive: ts("2026-08-28T09:15:00Z"),
		},
		{
			ID: uuid.New(), ExamID: examA, CandidateName: "Budi",
			Status:     model.MonitoringCompleted,
			LastActive: ts("2026-08-27T16:40:00Z"),
		},
		{
			ID: uuid.New(), ExamID: examB, CandidateName: "Citra",
			Status: model.MonitoringDisconnected,
			LastActive: ts("2026-08-28T08:02:00Z"),
		},
		{
			ID: uuid.New(), ExamID: examB, CandidateName: "Dewi",
			Status: model.MonitoringNotStarted,
		},
	}
}

func TestFilterByExam(t *testing.T) {
	examA, examB := uuid.New(), uuid.New()
	subs := population(examA, examB)

	got := FilterSubmissions(subs, Filter{ExamID: examA.String()})
	require.Len(t, got, 2)
	assert.Equal(t, "Andi", got[0].CandidateName)
	assert.Equal(t, "Budi", got[1].CandidateName)

	got = FilterSubmissions(subs, NewFilter())
	assert.Len(t, got, 4)
}

func TestFilterByDateExcludesNeverActive(t *testing.T) {
	examA, examB := uuid.New(), uuid.New()
	subs := population(examA, examB)

	got := FilterSubmissions(subs, Filter{ExamID: FilterAllExams, Date: "2026-08-28"})
	require.Len(t, got, 2)
	for _, sub := range got {
		assert.NotEqual(t, "Dewi", sub.CandidateName, "never-active submissions match no date")
	}

	got = FilterSubmissions(subs, Filter{ExamID: FilterAllExams, Date: "2026-08-27"})
	require.Len(t, got, 1)
	assert.Equal(t, "Budi", got[0].CandidateName)
}

func TestFilterCombined(t *testing.T) {
	examA, examB := uuid.New(), uuid.New()
	subs := population(examA, examB)

	got := FilterSubmissions(subs, Filter{ExamID: examB.String(), Date: "2026-08-28"})
	require.Len(t, got, 1)
	assert.Equal(t, "Citra", got[0].CandidateName)
}

func TestSummarize(t *testing.T) {
	examA, examB := uuid.New(), uuid.New()
	stats := Summarize(population(examA, examB))

	assert.Equal(t, Stats{
		Total:        4,
		NotStarted:   1,
		Active:       1,
		Completed:    1,
		Disconnected: 1,
		Online:       1,
		Started:      3,
	}, stats)
}

func TestMonitorApplyAndInvalidate(t *testing.T) {
	examA, examB := uuid.New(), uuid.New()
	subs := population(examA, examB)
	fetches := 0
	m := New(func(ctx context.Context) ([]*model.Submission, error) {
		fetches++
		return subs, nil
	})

	_, fresh := m.View()
	assert.False(t, fresh, "no view before the first apply")

	view, stats, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Len(t, view, 4)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, fetches)

	_, fresh = m.View()
	assert.True(t, fresh)

	// Editing criteria leaves the view in place but stale.
	m.SetExamID(examA.String())
	held, fresh := m.View()
	assert.False(t, fresh)
	assert.Len(t, held, 4, "previous materialization kept until apply")
	assert.Equal(t, 1, fetches, "no fetch on criteria edits")

	view, stats, err = m.Apply(context.Background())
	require.NoError(t, err)
	assert.Len(t, view, 2)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, fetches)
}

func TestMonitorReset(t *testing.T) {
	m := New(func(ctx context.Context) ([]*model.Submission, error) {
		return nil, nil
	})
	m.SetExamID(uuid.NewString())
	m.SetDate("2026-08-28")
	m.Reset()

	assert.Equal(t, NewFilter(), m.Criteria())
	view, fresh := m.View()
	assert.Nil(t, view)
	assert.False(t, fresh)
}
