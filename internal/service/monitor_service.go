package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/monitor"
	"github.com/sertika/cbt-backend/internal/repository"
)

// MonitorService orchestrates the live monitoring dashboard.
type MonitorService struct {
	subRepo  *repository.SubmissionRepository
	examRepo *repository.ExamRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(subRepo *repository.SubmissionRepository, examRepo *repository.ExamRepository) *MonitorService {
	return &MonitorService{subRepo: subRepo, examRepo: examRepo}
}

// DashboardSnapshot is one materialized monitoring view: the filtered
// submissions, their aggregate stats, and the exams available as filter
// options.
type DashboardSnapshot struct {
	Submissions []*model.Submission `json:"submissions"`
	Stats       monitor.Stats       `json:"stats"`
	Exams       []model.ExamSession `json:"exams"`
}

// Snapshot materializes a dashboard view for the given criteria. The
// submission population and the exam list are independent fetches, so they
// run in parallel to minimize latency.
func (s *MonitorService) Snapshot(ctx context.Context, f monitor.Filter) (*DashboardSnapshot, error) {
	examID := uuid.Nil
	if f.ExamID != monitor.FilterAllExams {
		parsed, err := uuid.Parse(f.ExamID)
		if err == nil {
			examID = parsed
		}
	}

	var (
		subs    []*model.Submission
		exams   []model.ExamSession
		subErr  error
		examErr error
		wg      sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		subs, subErr = s.subRepo.ListSnapshot(ctx, examID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		exams, examErr = s.examRepo.ListActive(ctx)
	}()

	wg.Wait()

	// Submissions are critical; the exam selector is best-effort.
	if subErr != nil {
		return nil, subErr
	}
	if examErr != nil {
		exams = nil
	}

	filtered := monitor.FilterSubmissions(subs, f)
	return &DashboardSnapshot{
		Submissions: filtered,
		Stats:       monitor.Summarize(filtered),
		Exams:       exams,
	}, nil
}

// Source adapts the service into the monitor package's population source for
// a session-scoped monitor.
func (s *MonitorService) Source() monitor.Source {
	return func(ctx context.Context) ([]*model.Submission, error) {
		return s.subRepo.ListSnapshot(ctx, uuid.Nil)
	}
}

// Timeline returns one submission's full event history.
func (s *MonitorService) Timeline(ctx context.Context, id uuid.UUID) ([]model.TimelineEvent, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub.TimelineEvents, nil
}
