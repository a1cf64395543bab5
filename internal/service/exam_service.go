package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/model"
	"github.com/sertika/cbt-backend/internal/repository"
	"github.com/sertika/cbt-backend/internal/response"
)

// Domain errors.
var (
	ErrExamNotOngoing = errors.New("exam is not open for participants")
	ErrNoQuestions    = errors.New("exam has no questions, cannot activate")
)

// ExamService handles exam business logic and Redis caching.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam with its questions.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return s.examRepo.GetByID(ctx, id)
}

// List retrieves exams with pagination.
func (s *ExamService) List(ctx context.Context, page, perPage int) ([]model.ExamSession, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	exams, total, err := s.examRepo.ListPaginated(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if exams == nil {
		exams = []model.ExamSession{}
	}

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
	return exams, pagination, nil
}

// Activate moves an exam to ONGOING and warms the participant cache. This is
// the critical path that populates the fast lane.
func (s *ExamService) Activate(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusOngoing); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam activated")
	return nil
}

// WarmExamCache loads an exam's participant payload, answer key and duration
// from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.ExamSession) error {
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}

	questions := make([]model.QuestionForParticipant, len(exam.Questions))
	for i, q := range exam.Questions {
		questions[i] = model.QuestionForParticipant{
			ID:       q.ID,
			Type:     q.Type,
			Text:     q.Text,
			Options:  q.Options,
			Weight:   q.Weight,
			OrderNum: q.OrderNum,
		}
	}

	payload := model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Duration:  exam.DurationMinutes,
		Config:    exam.Config,
		Questions: questions,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Answer key hash covers only auto-gradable questions.
	answerKey := make(map[string]interface{})
	for i := range exam.Questions {
		q := &exam.Questions[i]
		if q.Type.AutoGradable() {
			answerKey[q.ID.String()] = q.CorrectAnswer
		}
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamDurationKey(exam.ID.String()), exam.DurationMinutes, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(exam.ID.String()))
	if len(answerKey) > 0 {
		pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(exam.ID.String()), answerKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(exam.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all ongoing exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No ongoing exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(exams)).Msg("Prewarming complete")
	return nil
}

// GetExamPayload retrieves the cached participant payload from Redis.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExamNotOngoing
		}
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// GetPayloadForCandidate returns the participant payload with this
// candidate's question and option order applied. The shuffled question order
// is cached so reconnects see the same paper.
func (s *ExamService) GetPayloadForCandidate(ctx context.Context, examID uuid.UUID, candidateID int) (*model.ExamPayload, error) {
	payload, err := s.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}

	if payload.Config.RandomizeQuestions {
		order, err := s.questionOrder(ctx, examID, candidateID, payload.Questions)
		if err != nil {
			return nil, err
		}
		byID := make(map[uuid.UUID]model.QuestionForParticipant, len(payload.Questions))
		for _, q := range payload.Questions {
			byID[q.ID] = q
		}
		shuffled := make([]model.QuestionForParticipant, 0, len(order))
		for _, id := range order {
			if q, ok := byID[id]; ok {
				shuffled = append(shuffled, q)
			}
		}
		payload.Questions = shuffled
	}

	if payload.Config.RandomizeOptions {
		// Option order is deterministic per candidate so reconnects and the
		// grading view agree.
		seed := int64(candidateID)
		for i := range payload.Questions {
			q := &payload.Questions[i]
			if len(q.Options) < 2 {
				continue
			}
			rng := rand.New(rand.NewSource(seed ^ int64(q.ID[0])<<8 ^ int64(q.ID[1])))
			opts := make([]string, len(q.Options))
			copy(opts, q.Options)
			rng.Shuffle(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
			q.Options = opts
		}
	}

	return payload, nil
}

// questionOrder returns the cached shuffled order for a candidate, creating
// and caching one on first access.
func (s *ExamService) questionOrder(ctx context.Context, examID uuid.UUID, candidateID int, questions []model.QuestionForParticipant) ([]uuid.UUID, error) {
	key := config.CacheKey.AttemptQuestionOrderKey(examID.String(), candidateID)

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		var ids []uuid.UUID
		if err := json.Unmarshal([]byte(raw), &ids); err == nil && len(ids) == len(questions) {
			return ids, nil
		}
		// Stale entry (question set changed), reshuffle below.
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get question order: %w", err)
	}

	ids := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	rand.Shuffle(len(ids), func(a, b int) { ids[a], ids[b] = ids[b], ids[a] })

	encoded, _ := json.Marshal(ids)
	if err := s.rdb.Set(ctx, key, encoded, 0).Err(); err != nil {
		return nil, fmt.Errorf("cache question order: %w", err)
	}
	return ids, nil
}

// GetAnswerKey retrieves the answer key from Redis for instant grading.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error) {
	result, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(result) == 0 {
		return nil, errors.New("answer key not found in cache")
	}
	return result, nil
}

// GetDuration retrieves the cached duration in minutes.
func (s *ExamService) GetDuration(ctx context.Context, examID uuid.UUID) (int, error) {
	durationStr, err := s.rdb.Get(ctx, config.CacheKey.ExamDurationKey(examID.String())).Result()
	if err != nil {
		return 0, fmt.Errorf("get exam duration: %w", err)
	}
	minutes, err := strconv.Atoi(durationStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format in redis: %w", err)
	}
	return minutes, nil
}
