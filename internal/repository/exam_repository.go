package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sertika/cbt-backend/internal/model"
)

// ExamRepository handles exam and question data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam with its questions in stored order.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	e := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, start_time, end_time, duration_minutes, status,
		        randomize_questions, randomize_options, show_results_immediately
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.StartTime, &e.EndTime,
		&e.DurationMinutes, &e.Status,
		&e.Config.RandomizeQuestions, &e.Config.RandomizeOptions, &e.Config.ShowResultsImmediately)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, type, text, options, weight, difficulty, topic,
		        correct_answer, source_package_id, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &q.Options, &q.Weight,
			&q.Difficulty, &q.Topic, &q.CorrectAnswer, &q.SourcePackageID, &q.OrderNum); err != nil {
			return nil, err
		}
		e.Questions = append(e.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

// ListPaginated retrieves exams ordered by start time, newest first.
func (r *ExamRepository) ListPaginated(ctx context.Context, limit, offset int) ([]model.ExamSession, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, start_time, end_time, duration_minutes, status,
		        randomize_questions, randomize_options, show_results_immediately
		 FROM exams
		 ORDER BY start_time DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.ExamSession
	for rows.Next() {
		var e model.ExamSession
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.StartTime, &e.EndTime,
			&e.DurationMinutes, &e.Status,
			&e.Config.RandomizeQuestions, &e.Config.RandomizeOptions, &e.Config.ShowResultsImmediately); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// ListActive returns exams in the ONGOING window. Used for cache prewarming
// on application startup.
func (r *ExamRepository) ListActive(ctx context.Context) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, start_time, end_time, duration_minutes, status,
		        randomize_questions, randomize_options, show_results_immediately
		 FROM exams
		 WHERE status = $1
		 ORDER BY start_time ASC`, model.ExamStatusOngoing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.ExamSession
	for rows.Next() {
		var e model.ExamSession
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.StartTime, &e.EndTime,
			&e.DurationMinutes, &e.Status,
			&e.Config.RandomizeQuestions, &e.Config.RandomizeOptions, &e.Config.ShowResultsImmediately); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpdateStatus moves an exam through its lifecycle.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}
