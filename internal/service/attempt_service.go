package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/attempt"
	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/repository"
)

var (
	ErrAttemptCompleted = errors.New("attempt is already completed")
	ErrNoAttempt        = errors.New("candidate has not joined this exam")
)

// AttemptState is the recovery payload served when a participant's client
// restarts mid-exam.
type AttemptState struct {
	ExamID           uuid.UUID         `json:"exam_id"`
	SubmissionID     uuid.UUID         `json:"submission_id"`
	AutosavedAnswers map[string]string `json:"autosaved_answers"`
	RemainingTime    float64           `json:"remaining_time"`
}

// AttemptService handles the participant attempt lifecycle: joining, state
// recovery, live engine construction and finalization hand-off.
type AttemptService struct {
	subRepo  *repository.SubmissionRepository
	examRepo *repository.ExamRepository
	examSvc  *ExamService
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	subRepo *repository.SubmissionRepository,
	examRepo *repository.ExamRepository,
	examSvc *ExamService,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		subRepo:  subRepo,
		examRepo: examRepo,
		examSvc:  examSvc,
		rdb:      rdb,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// JoinExam creates a submission for the candidate, or returns the existing
// one. Joining is idempotent: refreshing or switching devices never creates
// a second attempt. The start time is cached so clock recovery stays off the
// database.
func (s *AttemptService) JoinExam(ctx context.Context, examID uuid.UUID, candidateID int, candidateName string) (*model.Submission, error) {
	// The payload cache doubles as the "is this exam open" check.
	if _, err := s.examSvc.GetExamPayload(ctx, examID); err != nil {
		return nil, err
	}

	sub, err := s.subRepo.Create(ctx, examID, candidateID, candidateName)
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	startedAt, err := s.subRepo.GetStartedAt(ctx, examID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("read start time: %w", err)
	}

	startKey := config.CacheKey.AttemptStartKey(examID.String(), candidateID)
	if err := s.rdb.Set(ctx, startKey, startedAt.Unix(), 0).Err(); err != nil {
		// Recoverable: GetAttemptState falls back to PostgreSQL.
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache start time")
	}

	return sub, nil
}

// VerifyActiveSubmission checks that a candidate has a live submission for
// the given exam.
func (s *AttemptService) VerifyActiveSubmission(ctx context.Context, examID uuid.UUID, candidateID int) (*model.Submission, error) {
	sub, err := s.subRepo.GetByExamAndCandidate(ctx, examID, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoAttempt
		}
		return nil, err
	}
	if sub.Status == model.MonitoringCompleted {
		return nil, ErrAttemptCompleted
	}
	return sub, nil
}

// GetAttemptState rebuilds the participant's live state: autosaved answers
// plus the remaining seconds computed from the original start time.
func (s *AttemptService) GetAttemptState(ctx context.Context, examID uuid.UUID, candidateID int) (*AttemptState, error) {
	answersKey := config.CacheKey.AttemptAnswersKey(examID.String(), candidateID)
	raw, err := s.rdb.HGetAll(ctx, answersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("get autosaved answers: %w", err)
	}

	answers := make(map[string]string, len(raw))
	for field, val := range raw {
		var entry struct {
			Answer string `json:"answer"`
		}
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			continue
		}
		answers[field] = entry.Answer
	}

	durationMinutes, err := s.examSvc.GetDuration(ctx, examID)
	if err != nil {
		return nil, err
	}

	startTime, err := s.attemptStartTime(ctx, examID, candidateID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subRepo.GetByExamAndCandidate(ctx, examID, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoAttempt
		}
		return nil, err
	}

	remaining := time.Until(startTime.Add(time.Duration(durationMinutes) * time.Minute))
	if remaining < 0 {
		remaining = 0
	}

	return &AttemptState{
		ExamID:           examID,
		SubmissionID:     sub.ID,
		AutosavedAnswers: answers,
		RemainingTime:    remaining.Seconds(),
	}, nil
}

// attemptStartTime resolves the attempt start with a failover strategy:
// Redis first, PostgreSQL on a miss, self-healing the cache afterwards.
func (s *AttemptService) attemptStartTime(ctx context.Context, examID uuid.UUID, candidateID int) (time.Time, error) {
	startKey := config.CacheKey.AttemptStartKey(examID.String(), candidateID)

	val, err := s.rdb.Get(ctx, startKey).Result()
	if errors.Is(err, redis.Nil) {
		// Cache miss (evicted or joined before a restart). PostgreSQL is the
		// source of truth.
		startedAt, dbErr := s.subRepo.GetStartedAt(ctx, examID, candidateID)
		if dbErr != nil {
			if errors.Is(dbErr, repository.ErrNotFound) {
				return time.Time{}, ErrNoAttempt
			}
			return time.Time{}, fmt.Errorf("start time not in cache or db: %w", dbErr)
		}

		_ = s.rdb.Set(ctx, startKey, startedAt.Unix(), 0)
		return startedAt, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis error getting start time: %w", err)
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time format in cache: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// BuildEngine assembles the in-process attempt engine for one live
// connection: exam, restored ledger, clock from the persisted start time.
func (s *AttemptService) BuildEngine(ctx context.Context, examID uuid.UUID, candidateID int, candidateName string) (*attempt.Attempt, error) {
	sub, err := s.VerifyActiveSubmission(ctx, examID, candidateID)
	if err != nil {
		return nil, err
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	durationMinutes, err := s.examSvc.GetDuration(ctx, examID)
	if err != nil {
		return nil, err
	}

	startTime, err := s.attemptStartTime(ctx, examID, candidateID)
	if err != nil {
		return nil, err
	}

	remaining := int(time.Until(startTime.Add(time.Duration(durationMinutes) * time.Minute)).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	mirror := attempt.NewRedisMirror(s.rdb, examID, candidateID, sub.ID)
	eng := attempt.New(exam, sub.ID, candidateName, remaining, mirror, s.log)
	if err := eng.Resume(ctx); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	return eng, nil
}

// QueueFinalize hands a finalized attempt to the persistence worker and
// notifies monitor streams.
func (s *AttemptService) QueueFinalize(ctx context.Context, eng *attempt.Attempt, candidateID int) error {
	sub := eng.Submission()

	// Persist the full graded ledger synchronously so a crash between queue
	// and worker never loses essay answers.
	answers := make([]*model.UserAnswer, 0, len(sub.Answers))
	for _, a := range sub.Answers {
		answers = append(answers, a)
	}
	if err := s.subRepo.SaveAnswersBulk(ctx, sub.ID, answers); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"submission_id": sub.ID.String(),
		"exam_id":       sub.ExamID.String(),
		"candidate_id":  candidateID,
		"auto_score":    eng.AutoScore(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, payload).Err(); err != nil {
		return fmt.Errorf("queue finalize: %w", err)
	}

	s.PublishMonitorUpdate(ctx, sub)
	return nil
}

// QueueEvent pushes a timeline event to the durable event queue.
func (s *AttemptService) QueueEvent(ctx context.Context, submissionID uuid.UUID, ev model.TimelineEvent) {
	payload, _ := json.Marshal(map[string]interface{}{
		"submission_id": submissionID.String(),
		"type":          string(ev.Type),
		"label":         ev.Label,
		"occurred_at":   ev.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Str("submission_id", submissionID.String()).Msg("Failed to queue event")
	}
}

// SyncPresence persists a submission's live fields and notifies monitors.
func (s *AttemptService) SyncPresence(ctx context.Context, sub *model.Submission) {
	lastActive := time.Now()
	if sub.LastActive != nil {
		lastActive = *sub.LastActive
	}
	if err := s.subRepo.UpdatePresence(ctx, sub.ID, sub.IsOnline, sub.Status, sub.Progress, sub.Flags, lastActive); err != nil {
		s.log.Error().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to sync presence")
		return
	}
	s.PublishMonitorUpdate(ctx, sub)
}

// PublishMonitorUpdate broadcasts a submission snapshot on the exam's
// monitor channel. Best-effort: monitors refresh periodically anyway.
func (s *AttemptService) PublishMonitorUpdate(ctx context.Context, sub *model.Submission) {
	snapshot, err := json.Marshal(sub)
	if err != nil {
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(sub.ExamID.String())
	if err := s.rdb.Publish(ctx, channel, snapshot).Err(); err != nil {
		s.log.Debug().Err(err).Msg("Monitor publish failed")
	}
}
