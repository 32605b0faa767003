package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chessblunders/analysis-core/internal/domain"
)

var (
	// ErrAnalysisExists is returned by InsertAnalysis when the game already
	// has an analysis row. It is the idempotency signal, not a failure.
	ErrAnalysisExists = errors.New("analysis already exists for game")

	// ErrJobConflict is returned by ClaimJob when the user already has a
	// non-terminal job.
	ErrJobConflict = errors.New("non-terminal analysis job already exists")

	ErrGameNotFound = errors.New("game not found")
)

// maxPageSize caps paginated id reads regardless of the caller's limit.
const maxPageSize = 500

type Repository interface {
	InsertGame(ctx context.Context, game *domain.Game) (int64, error)
	GetGame(ctx context.Context, userID string, gameID int64) (*domain.Game, error)
	ListGameIDs(ctx context.Context, userID string, afterID int64, limit int) ([]int64, error)
	ListAnalyzedGameIDs(ctx context.Context, userID string, afterID int64, limit int) ([]int64, error)
	CountAnalyses(ctx context.Context, userID string) (int, error)
	AnalysisExists(ctx context.Context, gameID int64) (bool, error)
	InsertAnalysis(ctx context.Context, a *domain.Analysis) (int64, error)
	GetAnalysis(ctx context.Context, userID string, analysisID int64) (*domain.Analysis, error)

	ClaimJob(ctx context.Context, job *domain.AnalysisJob) error
	LatestJob(ctx context.Context, userID string) (*domain.AnalysisJob, error)
	UpdateJobProgress(ctx context.Context, jobID string, analyzed, failed int) error
	FinishJob(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error
	FailStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertGame(ctx context.Context, game *domain.Game) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil game payload")
	}
	const query = `
		INSERT INTO games (user_id, moves_text, user_color, result, time_class, played_at, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	playedAt := game.PlayedAt
	if playedAt.IsZero() {
		playedAt = time.Now()
	}
	importedAt := game.ImportedAt
	if importedAt.IsZero() {
		importedAt = time.Now()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		game.UserID, game.MovesText, string(game.UserColor),
		game.Result, game.TimeClass, playedAt, importedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}
	return id, nil
}

func (r *repository) GetGame(ctx context.Context, userID string, gameID int64) (*domain.Game, error) {
	const query = `
		SELECT id, user_id, moves_text, user_color, result, time_class, played_at, imported_at
		FROM games
		WHERE id = $1 AND user_id = $2`

	var (
		g     domain.Game
		color string
	)
	err := r.db.QueryRowContext(ctx, query, gameID, userID).Scan(
		&g.ID, &g.UserID, &g.MovesText, &color,
		&g.Result, &g.TimeClass, &g.PlayedAt, &g.ImportedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	g.UserColor = domain.Color(color)
	return &g, nil
}

func (r *repository) ListGameIDs(ctx context.Context, userID string, afterID int64, limit int) ([]int64, error) {
	const query = `
		SELECT id FROM games
		WHERE user_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3`
	return r.listIDs(ctx, query, userID, afterID, limit)
}

func (r *repository) ListAnalyzedGameIDs(ctx context.Context, userID string, afterID int64, limit int) ([]int64, error) {
	const query = `
		SELECT game_id FROM analyses
		WHERE user_id = $1 AND game_id > $2
		ORDER BY game_id
		LIMIT $3`
	return r.listIDs(ctx, query, userID, afterID, limit)
}

func (r *repository) listIDs(ctx context.Context, query, userID string, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	rows, err := r.db.QueryContext(ctx, query, userID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) CountAnalyses(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return n, nil
}

func (r *repository) AnalysisExists(ctx context.Context, gameID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM analyses WHERE game_id = $1)`, gameID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("analysis exists: %w", err)
	}
	return exists, nil
}

func (r *repository) InsertAnalysis(ctx context.Context, a *domain.Analysis) (int64, error) {
	if a == nil {
		return 0, fmt.Errorf("nil analysis payload")
	}
	blunders, err := json.Marshal(a.Blunders)
	if err != nil {
		return 0, fmt.Errorf("marshal blunders: %w", err)
	}

	const query = `
		INSERT INTO analyses (game_id, user_id, threshold_cp, moves_analyzed, eval_failures, blunders, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, NOW())
		ON CONFLICT (game_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(ctx, query,
		a.GameID, a.UserID, a.ThresholdCP, a.MovesAnalyzed, a.EvalFailures, blunders,
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrAnalysisExists
	}
	if err != nil {
		return 0, fmt.Errorf("insert analysis: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetAnalysis(ctx context.Context, userID string, analysisID int64) (*domain.Analysis, error) {
	const query = `
		SELECT id, game_id, user_id, threshold_cp, moves_analyzed, eval_failures, blunders, created_at
		FROM analyses
		WHERE id = $1 AND user_id = $2`

	var (
		a        domain.Analysis
		blunders []byte
	)
	err := r.db.QueryRowContext(ctx, query, analysisID, userID).Scan(
		&a.ID, &a.GameID, &a.UserID, &a.ThresholdCP,
		&a.MovesAnalyzed, &a.EvalFailures, &blunders, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("select analysis: %w", err)
	}
	if len(blunders) > 0 {
		if err := json.Unmarshal(blunders, &a.Blunders); err != nil {
			return nil, fmt.Errorf("unmarshal blunders: %w", err)
		}
	}
	return &a, nil
}

// ClaimJob inserts the job row. The partial unique index on user_id over
// non-terminal statuses makes this the atomic one-job-per-user claim.
func (r *repository) ClaimJob(ctx context.Context, job *domain.AnalysisJob) error {
	if job == nil {
		return fmt.Errorf("nil job payload")
	}
	const query = `
		INSERT INTO analysis_jobs (id, user_id, status, total_games, analyzed_count, failed_count, started_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id) WHERE status IN ('pending', 'running') DO NOTHING
		RETURNING id`

	var id sql.NullString
	err := r.db.QueryRowContext(ctx, query,
		job.ID, job.UserID, string(job.Status), job.TotalGames,
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return ErrJobConflict
	}
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	return nil
}

func (r *repository) LatestJob(ctx context.Context, userID string) (*domain.AnalysisJob, error) {
	const query = `
		SELECT id, user_id, status, total_games, analyzed_count, failed_count,
		       COALESCE(error, ''), started_at, updated_at, completed_at
		FROM analysis_jobs
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT 1`

	var (
		job    domain.AnalysisJob
		status string
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&job.ID, &job.UserID, &status, &job.TotalGames,
		&job.AnalyzedCount, &job.FailedCount, &job.Error,
		&job.StartedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func (r *repository) UpdateJobProgress(ctx context.Context, jobID string, analyzed, failed int) error {
	const query = `
		UPDATE analysis_jobs
		SET status = 'running', analyzed_count = $2, failed_count = $3, updated_at = NOW()
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, jobID, analyzed, failed); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (r *repository) FinishJob(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	const query = `
		UPDATE analysis_jobs
		SET status = $2, error = NULLIF($3, ''), completed_at = NOW(), updated_at = NOW()
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, jobID, string(status), errMsg); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// FailStaleJobs marks non-terminal jobs whose progress stopped advancing as
// failed. This is the crash-recovery path; a fresh StartJob re-scans the
// unanalyzed set, which excludes everything already persisted.
func (r *repository) FailStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	const query = `
		UPDATE analysis_jobs
		SET status = 'failed', error = 'interrupted', completed_at = NOW(), updated_at = NOW()
		WHERE status IN ('pending', 'running')
		  AND updated_at < NOW() - ($1 * INTERVAL '1 second')`
	res, err := r.db.ExecContext(ctx, query, int64(staleAfter.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
