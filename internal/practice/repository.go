package practice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chessblunders/analysis-core/internal/domain"
)

var ErrBlunderNotFound = errors.New("blunder not found")

type Repository interface {
	LoadBlunder(ctx context.Context, userID string, analysisID int64, blunderIndex int) (*domain.Blunder, error)
	CurrentRun(ctx context.Context, userID string) (int, error)
	IncrementRun(ctx context.Context, userID string) (int, error)
	RecordAttempt(ctx context.Context, userID string, analysisID int64, blunderIndex, run int, correct bool, rank int) (*domain.UserProgress, error)
	ListRunProgress(ctx context.Context, userID string, run int) ([]domain.UserProgress, error)
	CountBlunders(ctx context.Context, userID string) (int, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) LoadBlunder(ctx context.Context, userID string, analysisID int64, blunderIndex int) (*domain.Blunder, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT blunders FROM analyses WHERE id = $1 AND user_id = $2`,
		analysisID, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrBlunderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select blunders: %w", err)
	}

	var blunders []domain.Blunder
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &blunders); err != nil {
			return nil, fmt.Errorf("unmarshal blunders: %w", err)
		}
	}
	if blunderIndex < 0 || blunderIndex >= len(blunders) {
		return nil, ErrBlunderNotFound
	}
	return &blunders[blunderIndex], nil
}

// CurrentRun reads the user's practice epoch, creating the profile at run 1
// on first contact.
func (r *repository) CurrentRun(ctx context.Context, userID string) (int, error) {
	const query = `
		INSERT INTO practice_profiles (user_id, current_run, created_at, updated_at)
		VALUES ($1, 1, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING current_run`
	var run int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&run); err != nil {
		return 0, fmt.Errorf("current run: %w", err)
	}
	return run, nil
}

// IncrementRun bumps the epoch atomically and returns the new value. Prior
// progress rows are kept, scoped to their own run.
func (r *repository) IncrementRun(ctx context.Context, userID string) (int, error) {
	const query = `
		INSERT INTO practice_profiles (user_id, current_run, created_at, updated_at)
		VALUES ($1, 2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET current_run = practice_profiles.current_run + 1, updated_at = NOW()
		RETURNING current_run`
	var run int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&run); err != nil {
		return 0, fmt.Errorf("increment run: %w", err)
	}
	return run, nil
}

// RecordAttempt is a single upsert: attempts increments on every call,
// solved latches on the first correct attempt and never un-latches.
func (r *repository) RecordAttempt(ctx context.Context, userID string, analysisID int64, blunderIndex, run int, correct bool, rank int) (*domain.UserProgress, error) {
	const query = `
		INSERT INTO user_progress (user_id, analysis_id, blunder_index, practice_run,
		                           solved, solved_rank, attempts, last_solved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), 1,
		        CASE WHEN $5 THEN NOW() END, NOW())
		ON CONFLICT (user_id, analysis_id, blunder_index, practice_run) DO UPDATE SET
			attempts = user_progress.attempts + 1,
			solved = user_progress.solved OR EXCLUDED.solved,
			solved_rank = CASE WHEN user_progress.solved
				THEN user_progress.solved_rank ELSE EXCLUDED.solved_rank END,
			last_solved_at = CASE WHEN NOT user_progress.solved AND EXCLUDED.solved
				THEN NOW() ELSE user_progress.last_solved_at END,
			updated_at = NOW()
		RETURNING solved, COALESCE(solved_rank, 0), attempts, last_solved_at`

	p := &domain.UserProgress{
		UserID:       userID,
		AnalysisID:   analysisID,
		BlunderIndex: blunderIndex,
		PracticeRun:  run,
	}
	err := r.db.QueryRowContext(ctx, query, userID, analysisID, blunderIndex, run, correct, rank).
		Scan(&p.Solved, &p.SolvedRank, &p.Attempts, &p.LastSolvedAt)
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	return p, nil
}

// ListRunProgress returns the run's rows plus legacy rows (run 0), ordered
// by solve time for streak derivation.
func (r *repository) ListRunProgress(ctx context.Context, userID string, run int) ([]domain.UserProgress, error) {
	const query = `
		SELECT user_id, analysis_id, blunder_index, practice_run,
		       solved, COALESCE(solved_rank, 0), attempts, last_solved_at, updated_at
		FROM user_progress
		WHERE user_id = $1 AND (practice_run = $2 OR practice_run = 0)
		ORDER BY last_solved_at NULLS LAST, updated_at`

	rows, err := r.db.QueryContext(ctx, query, userID, run)
	if err != nil {
		return nil, fmt.Errorf("select run progress: %w", err)
	}
	defer rows.Close()

	var out []domain.UserProgress
	for rows.Next() {
		var p domain.UserProgress
		if err := rows.Scan(&p.UserID, &p.AnalysisID, &p.BlunderIndex, &p.PracticeRun,
			&p.Solved, &p.SolvedRank, &p.Attempts, &p.LastSolvedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) CountBlunders(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(jsonb_array_length(blunders)), 0) FROM analyses WHERE user_id = $1`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count blunders: %w", err)
	}
	return n, nil
}
