package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sertika/cbt-backend/internal/model"
)

var ErrDuplicateUsername = errors.New("username already exists")

// CandidateRepository handles candidate account data access.
type CandidateRepository struct {
	pool *pgxpool.Pool
}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository(pool *pgxpool.Pool) *CandidateRepository {
	return &CandidateRepository{pool: pool}
}

// GetByID retrieves a candidate by ID.
func (r *CandidateRepository) GetByID(ctx context.Context, id int) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, name, password_hash, created_at, updated_at
		 FROM candidates WHERE id = $1`, id,
	).Scan(&c.ID, &c.Username, &c.Name, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByUsername retrieves a candidate by their unique username.
func (r *CandidateRepository) GetByUsername(ctx context.Context, username string) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, name, password_hash, created_at, updated_at
		 FROM candidates WHERE username = $1`, username,
	).Scan(&c.ID, &c.Username, &c.Name, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts a candidate account.
func (r *CandidateRepository) Create(ctx context.Context, c *model.Candidate) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO candidates (username, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		c.Username, c.Name, c.PasswordHash,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateUsername
	}
	return err
}

// AssessorRepository handles assessor account data access.
type AssessorRepository struct {
	pool *pgxpool.Pool
}

// NewAssessorRepository creates a new AssessorRepository.
func NewAssessorRepository(pool *pgxpool.Pool) *AssessorRepository {
	return &AssessorRepository{pool: pool}
}

// GetByUsername retrieves an assessor by their unique username.
func (r *AssessorRepository) GetByUsername(ctx context.Context, username string) (*model.Assessor, error) {
	a := &model.Assessor{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, name, password_hash, created_at, updated_at
		 FROM assessors WHERE username = $1`, username,
	).Scan(&a.ID, &a.Username, &a.Name, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts an assessor account.
func (r *AssessorRepository) Create(ctx context.Context, a *model.Assessor) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO assessors (username, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		a.Username, a.Name, a.PasswordHash,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateUsername
	}
	return err
}
