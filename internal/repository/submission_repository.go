package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sertika/cbt-backend/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SubmissionRepository handles submission, answer-ledger and timeline data
// access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id, exam_id, candidate_id, candidate_name, status,
	progress, is_online, last_active, flags, started_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	var candidateID int
	var startedAt *time.Time
	err := row.Scan(&s.ID, &s.ExamID, &candidateID, &s.CandidateName, &s.Status,
		&s.Progress, &s.IsOnline, &s.LastActive, &s.Flags, &startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// Create inserts a submission for a candidate joining an exam. Joining is
// idempotent: a second join returns the existing submission unchanged.
func (r *SubmissionRepository) Create(ctx context.Context, examID uuid.UUID, candidateID int, candidateName string) (*model.Submission, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submissions (exam_id, candidate_id, candidate_name, status, started_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (exam_id, candidate_id) DO NOTHING
		 RETURNING id`,
		examID, candidateID, candidateName, model.MonitoringActive,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict path: the candidate already joined.
		return r.GetByExamAndCandidate(ctx, examID, candidateID)
	}
	if err != nil {
		return nil, err
	}

	return &model.Submission{
		ID:            id,
		ExamID:        examID,
		CandidateName: candidateName,
		Status:        model.MonitoringActive,
		Answers:       make(map[uuid.UUID]*model.UserAnswer),
	}, nil
}

// GetByExamAndCandidate retrieves a submission without its ledger.
func (r *SubmissionRepository) GetByExamAndCandidate(ctx context.Context, examID uuid.UUID, candidateID int) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE exam_id = $1 AND candidate_id = $2`, examID, candidateID))
}

// GetByID retrieves a submission with its full answer ledger and timeline.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if err := r.loadAnswers(ctx, s); err != nil {
		return nil, err
	}
	if err := r.loadEvents(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SubmissionRepository) loadAnswers(ctx context.Context, s *model.Submission) error {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer, last_saved, score, feedback,
		        ai_suggested_score, ai_feedback, grade_state
		 FROM submission_answers
		 WHERE submission_id = $1`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.Answers = make(map[uuid.UUID]*model.UserAnswer)
	for rows.Next() {
		a := &model.UserAnswer{}
		if err := rows.Scan(&a.QuestionID, &a.Answer, &a.LastSaved, &a.Score,
			&a.Feedback, &a.AISuggestedScore, &a.AIFeedback, &a.GradeState); err != nil {
			return err
		}
		s.Answers[a.QuestionID] = a
	}
	return rows.Err()
}

func (r *SubmissionRepository) loadEvents(ctx context.Context, s *model.Submission) error {
	rows, err := r.pool.Query(ctx,
		`SELECT occurred_at, type, label
		 FROM submission_events
		 WHERE submission_id = $1
		 ORDER BY occurred_at ASC, id ASC`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ev model.TimelineEvent
		if err := rows.Scan(&ev.Timestamp, &ev.Type, &ev.Label); err != nil {
			return err
		}
		s.TimelineEvents = append(s.TimelineEvents, ev)
	}
	return rows.Err()
}

// ListSnapshot loads every submission for the monitoring and grading views,
// ledgers included. Pass uuid.Nil to cover all exams.
func (r *SubmissionRepository) ListSnapshot(ctx context.Context, examID uuid.UUID) ([]*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions`
	args := []any{}
	if examID != uuid.Nil {
		query += ` WHERE exam_id = $1`
		args = append(args, examID)
	}
	query += ` ORDER BY candidate_name ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*model.Submission
	byID := make(map[uuid.UUID]*model.Submission)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		s.Answers = make(map[uuid.UUID]*model.UserAnswer)
		subs = append(subs, s)
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return subs, nil
	}

	ansQuery := `SELECT submission_id, question_id, answer, last_saved, score,
	                    feedback, ai_suggested_score, ai_feedback, grade_state
	             FROM submission_answers`
	if examID != uuid.Nil {
		ansQuery += ` WHERE submission_id IN (SELECT id FROM submissions WHERE exam_id = $1)`
	}

	ansRows, err := r.pool.Query(ctx, ansQuery, args...)
	if err != nil {
		return nil, err
	}
	defer ansRows.Close()

	for ansRows.Next() {
		var sid uuid.UUID
		a := &model.UserAnswer{}
		if err := ansRows.Scan(&sid, &a.QuestionID, &a.Answer, &a.LastSaved,
			&a.Score, &a.Feedback, &a.AISuggestedScore, &a.AIFeedback, &a.GradeState); err != nil {
			return nil, err
		}
		if s, ok := byID[sid]; ok {
			s.Answers[a.QuestionID] = a
		}
	}
	return subs, ansRows.Err()
}

// UpsertAnswer persists one autosaved answer. Last write wins by timestamp,
// so a delayed queue item never rolls back a newer answer.
func (r *SubmissionRepository) UpsertAnswer(ctx context.Context, submissionID, questionID uuid.UUID, answer string, lastSaved time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submission_answers (submission_id, question_id, answer, last_saved, grade_state)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (submission_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, last_saved = EXCLUDED.last_saved
		 WHERE submission_answers.last_saved <= EXCLUDED.last_saved`,
		submissionID, questionID, answer, lastSaved, model.GradeStateUngraded)
	return err
}

// UpdateScore records a grading decision on one ledger entry, creating the
// entry if the question was never answered.
func (r *SubmissionRepository) UpdateScore(ctx context.Context, submissionID, questionID uuid.UUID, score float64, feedback string, state model.GradeState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submission_answers (submission_id, question_id, answer, last_saved, score, feedback, grade_state)
		 VALUES ($1, $2, '', NOW(), $3, $4, $5)
		 ON CONFLICT (submission_id, question_id) DO UPDATE
		 SET score = EXCLUDED.score,
		     feedback = EXCLUDED.feedback,
		     grade_state = EXCLUDED.grade_state,
		     last_saved = NOW()`,
		submissionID, questionID, score, feedback, state)
	return err
}

// SetSuggestion stores an AI suggestion alongside the ledger entry without
// touching the working score.
func (r *SubmissionRepository) SetSuggestion(ctx context.Context, submissionID, questionID uuid.UUID, score float64, feedback string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submission_answers
		 SET ai_suggested_score = $1, ai_feedback = $2
		 WHERE submission_id = $3 AND question_id = $4`,
		score, feedback, submissionID, questionID)
	return err
}

// SaveAnswersBulk upserts a finalized ledger in one round trip using UNNEST.
func (r *SubmissionRepository) SaveAnswersBulk(ctx context.Context, submissionID uuid.UUID, answers []*model.UserAnswer) error {
	n := len(answers)
	if n == 0 {
		return nil
	}

	questionIDs := make([]uuid.UUID, 0, n)
	texts := make([]string, 0, n)
	savedAts := make([]time.Time, 0, n)
	scores := make([]*float64, 0, n)
	feedbacks := make([]string, 0, n)
	states := make([]string, 0, n)
	for _, a := range answers {
		questionIDs = append(questionIDs, a.QuestionID)
		texts = append(texts, a.Answer)
		savedAts = append(savedAts, a.LastSaved)
		scores = append(scores, a.Score)
		feedbacks = append(feedbacks, a.Feedback)
		states = append(states, string(a.GradeState))
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO submission_answers (submission_id, question_id, answer, last_saved, score, feedback, grade_state)
		 SELECT $1, u.question_id, u.answer, u.last_saved, u.score, u.feedback, u.grade_state
		 FROM UNNEST($2::uuid[], $3::text[], $4::timestamptz[], $5::float8[], $6::text[], $7::text[])
		      AS u (question_id, answer, last_saved, score, feedback, grade_state)
		 ON CONFLICT (submission_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer,
		     last_saved = EXCLUDED.last_saved,
		     score = EXCLUDED.score,
		     feedback = EXCLUDED.feedback,
		     grade_state = EXCLUDED.grade_state`,
		submissionID, questionIDs, texts, savedAts, scores, feedbacks, states)
	return err
}

// CompleteBulk marks a batch of submissions COMPLETED with their auto scores
// in a single UNNEST update.
func (r *SubmissionRepository) CompleteBulk(ctx context.Context, ids []uuid.UUID, scores []float64, finishedAt time.Time) error {
	n := len(ids)
	finishedAts := make([]time.Time, n)
	for i := range finishedAts {
		finishedAts[i] = finishedAt
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE submissions AS s
		 SET status = 'COMPLETED',
		     is_online = FALSE,
		     auto_score = t.score,
		     finished_at = t.finished_at
		 FROM (
			SELECT u.id, u.score, u.finished_at
			FROM UNNEST($1::uuid[], $2::float8[], $3::timestamptz[])
			     AS u (id, score, finished_at)
		 ) AS t
		 WHERE s.id = t.id`,
		ids, scores, finishedAts)
	return err
}

// CompleteSingle is the row-by-row fallback for CompleteBulk.
func (r *SubmissionRepository) CompleteSingle(ctx context.Context, id uuid.UUID, score float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = 'COMPLETED', is_online = FALSE, auto_score = $1, finished_at = NOW()
		 WHERE id = $2`,
		score, id)
	return err
}

// InsertEventsBulk appends timeline events via CopyFrom.
func (r *SubmissionRepository) InsertEventsBulk(ctx context.Context, events []EventRow) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []any{ev.SubmissionID, ev.Type, ev.Label, ev.OccurredAt})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"submission_events"},
		[]string{"submission_id", "type", "label", "occurred_at"},
		pgx.CopyFromRows(rows))
	return err
}

// InsertEvent is the row-by-row fallback for InsertEventsBulk.
func (r *SubmissionRepository) InsertEvent(ctx context.Context, ev EventRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submission_events (submission_id, type, label, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		ev.SubmissionID, ev.Type, ev.Label, ev.OccurredAt)
	return err
}

// EventRow is one durable timeline event.
type EventRow struct {
	SubmissionID uuid.UUID
	Type         model.EventType
	Label        string
	OccurredAt   time.Time
}

// UpdatePresence records liveness changes pushed from the attempt stream.
func (r *SubmissionRepository) UpdatePresence(ctx context.Context, id uuid.UUID, online bool, status model.MonitoringStatus, progress int, flags []string, lastActive time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET is_online = $1, status = $2, progress = $3, flags = $4, last_active = $5
		 WHERE id = $6`,
		online, status, progress, flags, lastActive, id)
	return err
}

// GetStartedAt returns the persisted attempt start time. Source of truth when
// the cached copy is gone.
func (r *SubmissionRepository) GetStartedAt(ctx context.Context, examID uuid.UUID, candidateID int) (time.Time, error) {
	var startedAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT started_at FROM submissions
		 WHERE exam_id = $1 AND candidate_id = $2`, examID, candidateID,
	).Scan(&startedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return startedAt, err
}

// SetReviewCompleted stamps a submission's grading finalization.
func (r *SubmissionRepository) SetReviewCompleted(ctx context.Context, id uuid.UUID, finalScore float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET final_score = $1, review_completed_at = NOW()
		 WHERE id = $2`,
		finalScore, id)
	return err
}
