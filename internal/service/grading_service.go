package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/ai"
	"github.com/sertika/cbt-backend/internal/grading"
	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/monitor"
	"github.com/sertika/cbt-backend/internal/repository"
)

var ErrAISuggesterUnavailable = errors.New("AI grading is not configured")

// SubmissionReview is a submission decorated with derived grading fields for
// the review list and detail views.
type SubmissionReview struct {
	*model.Submission
	ReviewStatus model.ReviewStatus `json:"review_status"`
	AutoScore    float64            `json:"auto_score"`
	FinalScore   float64            `json:"final_score"`
	MaxScore     int                `json:"max_score"`
}

// GradingService orchestrates the assessor review flow: filtered listings,
// manual scoring, AI suggestions and review finalization.
type GradingService struct {
	subRepo   *repository.SubmissionRepository
	examRepo  *repository.ExamRepository
	suggester ai.Suggester
	log       zerolog.Logger

	// Per-submission adoption ledgers survive across requests within one
	// process so repeated AI calls never re-adopt.
	enginesMu sync.Mutex
	engines   map[uuid.UUID]*grading.Engine
}

// NewGradingService creates a new GradingService. suggester may be nil when
// no AI provider is configured.
func NewGradingService(
	subRepo *repository.SubmissionRepository,
	examRepo *repository.ExamRepository,
	suggester ai.Suggester,
	log zerolog.Logger,
) *GradingService {
	return &GradingService{
		subRepo:   subRepo,
		examRepo:  examRepo,
		suggester: suggester,
		log:       log.With().Str("component", "grading_service").Logger(),
		engines:   make(map[uuid.UUID]*grading.Engine),
	}
}

// ListSubmissions returns the filtered review list with aggregate stats.
func (s *GradingService) ListSubmissions(ctx context.Context, f monitor.Filter) ([]*SubmissionReview, monitor.Stats, error) {
	examID := uuid.Nil
	if f.ExamID != monitor.FilterAllExams {
		parsed, err := uuid.Parse(f.ExamID)
		if err != nil {
			return nil, monitor.Stats{}, fmt.Errorf("invalid exam id: %w", err)
		}
		examID = parsed
	}

	subs, err := s.subRepo.ListSnapshot(ctx, examID)
	if err != nil {
		return nil, monitor.Stats{}, err
	}

	filtered := monitor.FilterSubmissions(subs, f)
	stats := monitor.Summarize(filtered)

	exams := make(map[uuid.UUID]*model.ExamSession)
	reviews := make([]*SubmissionReview, 0, len(filtered))
	for _, sub := range filtered {
		exam, ok := exams[sub.ExamID]
		if !ok {
			exam, err = s.examRepo.GetByID(ctx, sub.ExamID)
			if err != nil {
				return nil, monitor.Stats{}, fmt.Errorf("get exam %s: %w", sub.ExamID, err)
			}
			exams[sub.ExamID] = exam
		}
		reviews = append(reviews, s.decorate(exam, sub))
	}
	return reviews, stats, nil
}

// GetSubmission returns one submission with its full ledger, timeline and
// derived grading fields.
func (s *GradingService) GetSubmission(ctx context.Context, id uuid.UUID) (*SubmissionReview, *model.ExamSession, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	exam, err := s.examRepo.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, nil, err
	}
	return s.decorate(exam, sub), exam, nil
}

func (s *GradingService) decorate(exam *model.ExamSession, sub *model.Submission) *SubmissionReview {
	return &SubmissionReview{
		Submission:   sub,
		ReviewStatus: grading.ReviewStatusOf(exam, sub),
		AutoScore:    grading.AutoScore(exam, sub),
		FinalScore:   grading.FinalScore(sub),
		MaxScore:     exam.MaxScore(),
	}
}

// SetScore records an assessor's score for one question and persists it.
func (s *GradingService) SetScore(ctx context.Context, submissionID, questionID uuid.UUID, score float64, feedback string) (*SubmissionReview, error) {
	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	exam, err := s.examRepo.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}

	eng := s.engine(exam, sub, submissionID)
	stored, err := eng.SetScore(questionID, score, feedback)
	if err != nil {
		return nil, err
	}

	if err := s.subRepo.UpdateScore(ctx, submissionID, questionID, stored, feedback, model.GradeStateManuallyGraded); err != nil {
		return nil, fmt.Errorf("persist score: %w", err)
	}
	return s.decorate(exam, sub), nil
}

// SuggestScore asks the AI provider for a grade on one essay answer and
// reconciles it into the ledger. A cancelled context discards the response:
// the assessor moved on, a stale suggestion must not land on another
// question.
func (s *GradingService) SuggestScore(ctx context.Context, submissionID, questionID uuid.UUID) (*ai.Suggestion, bool, error) {
	if s.suggester == nil {
		return nil, false, ErrAISuggesterUnavailable
	}

	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, false, err
	}
	exam, err := s.examRepo.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, false, err
	}
	q := exam.QuestionByID(questionID)
	if q == nil {
		return nil, false, grading.ErrUnknownQuestion
	}

	answerText := ""
	if ans := sub.Answer(questionID); ans != nil {
		answerText = ans.Answer
	}

	suggestion, err := s.suggester.SuggestGrade(ctx, q, answerText)
	if err != nil {
		// AI failures are never fatal for the review flow.
		s.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("AI suggestion failed")
		return nil, false, err
	}

	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	eng := s.engine(exam, sub, submissionID)
	adopted, err := eng.ApplySuggestion(questionID, suggestion.Score, suggestion.Feedback)
	if err != nil {
		return nil, false, err
	}

	clamped := *sub.Answer(questionID).AISuggestedScore
	if err := s.subRepo.SetSuggestion(ctx, submissionID, questionID, clamped, suggestion.Feedback); err != nil {
		return nil, false, fmt.Errorf("persist suggestion: %w", err)
	}
	if adopted {
		if err := s.subRepo.UpdateScore(ctx, submissionID, questionID, clamped, suggestion.Feedback, model.GradeStateAISuggested); err != nil {
			return nil, false, fmt.Errorf("persist adopted score: %w", err)
		}
	}
	return suggestion, adopted, nil
}

// CompleteReview finalizes grading for a submission. Rejected until every
// essay carries a score.
func (s *GradingService) CompleteReview(ctx context.Context, submissionID uuid.UUID) (*SubmissionReview, error) {
	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	exam, err := s.examRepo.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}

	if err := grading.CheckReviewComplete(exam, sub); err != nil {
		return nil, err
	}

	final := grading.FinalScore(sub)
	if err := s.subRepo.SetReviewCompleted(ctx, submissionID, final); err != nil {
		return nil, fmt.Errorf("finalize review: %w", err)
	}

	s.enginesMu.Lock()
	delete(s.engines, submissionID)
	s.enginesMu.Unlock()
	s.log.Info().
		Str("submission_id", submissionID.String()).
		Float64("final_score", final).
		Msg("Review completed")
	return s.decorate(exam, sub), nil
}

func (s *GradingService) engine(exam *model.ExamSession, sub *model.Submission, id uuid.UUID) *grading.Engine {
	s.enginesMu.Lock()
	defer s.enginesMu.Unlock()
	if eng, ok := s.engines[id]; ok {
		// Rebind to the freshly loaded submission; the adoption ledger is
		// what must survive.
		return eng.Rebind(exam, sub)
	}
	eng := grading.NewEngine(exam, sub)
	s.engines[id] = eng
	return eng
}
