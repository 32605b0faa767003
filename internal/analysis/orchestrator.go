package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chessblunders/analysis-core/internal/decode"
	"github.com/chessblunders/analysis-core/internal/domain"
	"github.com/chessblunders/analysis-core/internal/tier"
)

// ErrLimitReached signals the tier retention cap. It is a normal stop
// condition, not a failure; match with errors.Is and read the counts off the
// concrete *LimitError.
var ErrLimitReached = errors.New("analysis retention limit reached")

// LimitError carries the counts the caller needs to render an upgrade
// prompt ("87 of 100 analyzed") instead of a bare rejection.
type LimitError struct {
	Analyzed int
	Limit    int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("analysis retention limit reached (%d of %d)", e.Analyzed, e.Limit)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitReached }

// JobSnapshot is the poll-able view of a user's most recent job.
type JobSnapshot struct {
	HasJob        bool
	JobID         string
	Status        domain.JobStatus
	AnalyzedCount int
	TotalCount    int
	FailedCount   int
	StartedAt     time.Time
	CompletedAt   *time.Time
	Error         string
}

// OneResult is the outcome of the synchronous single-game entry point.
type OneResult struct {
	AlreadyAnalyzed bool
	Analysis        *domain.Analysis
}

// Orchestrator drives bulk and single-game analysis under tier and
// concurrency caps.
type Orchestrator struct {
	repo        Repository
	analyzer    *GameAnalyzer
	tiers       tier.Service
	thresholdCP int
	batchSize   int
	log         *zap.Logger

	mu    sync.Mutex
	stops map[string]*atomic.Bool
	wg    sync.WaitGroup
}

func NewOrchestrator(repo Repository, analyzer *GameAnalyzer, tiers tier.Service, thresholdCP, batchSize int, log *zap.Logger) *Orchestrator {
	if batchSize < 1 {
		batchSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		repo:        repo,
		analyzer:    analyzer,
		tiers:       tiers,
		thresholdCP: thresholdCP,
		batchSize:   batchSize,
		log:         log,
		stops:       make(map[string]*atomic.Bool),
	}
}

// StartJob computes the user's unanalyzed game set, claims a job and runs it
// detached. The bool reports whether a new job was started; when the user
// already has a non-terminal job, the existing job is returned instead.
// ErrLimitReached is returned before any engine traffic when the retention
// cap is already met.
func (o *Orchestrator) StartJob(ctx context.Context, userID string) (*domain.AnalysisJob, bool, error) {
	limits := o.tiers.LimitsFor(userID)

	unanalyzed, analyzedCount, err := o.unanalyzedGameIDs(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	unanalyzed, err = applyRetention(unanalyzed, analyzedCount, limits.RetentionLimit)
	if err != nil {
		return nil, false, err
	}

	job := &domain.AnalysisJob{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     domain.JobPending,
		TotalGames: len(unanalyzed),
		StartedAt:  time.Now(),
	}
	if err := o.repo.ClaimJob(ctx, job); err != nil {
		if errors.Is(err, ErrJobConflict) {
			existing, lerr := o.repo.LatestJob(ctx, userID)
			if lerr != nil {
				return nil, false, lerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	stop := &atomic.Bool{}
	o.mu.Lock()
	o.stops[userID] = stop
	o.mu.Unlock()

	o.wg.Add(1)
	go o.runJob(context.WithoutCancel(ctx), job, unanalyzed, limits.MaxDepth, stop)

	return job, true, nil
}

// AnalyzeOne analyzes a single game synchronously. The existence check comes
// first so a repeated call performs zero evaluator calls.
func (o *Orchestrator) AnalyzeOne(ctx context.Context, userID string, gameID int64) (*OneResult, error) {
	exists, err := o.repo.AnalysisExists(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &OneResult{AlreadyAnalyzed: true}, nil
	}

	limits := o.tiers.LimitsFor(userID)
	if limits.RetentionLimit > 0 {
		analyzed, err := o.repo.CountAnalyses(ctx, userID)
		if err != nil {
			return nil, err
		}
		if analyzed >= limits.RetentionLimit {
			return nil, &LimitError{Analyzed: analyzed, Limit: limits.RetentionLimit}
		}
	}

	game, err := o.repo.GetGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	a, err := o.analyzeAndPersist(ctx, game, limits.MaxDepth)
	if errors.Is(err, ErrAnalysisExists) {
		return &OneResult{AlreadyAnalyzed: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &OneResult{Analysis: a}, nil
}

// Status reports the latest job for the user regardless of terminal state.
func (o *Orchestrator) Status(ctx context.Context, userID string) (*JobSnapshot, error) {
	job, err := o.repo.LatestJob(ctx, userID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &JobSnapshot{}, nil
	}
	return &JobSnapshot{
		HasJob:        true,
		JobID:         job.ID,
		Status:        job.Status,
		AnalyzedCount: job.AnalyzedCount,
		TotalCount:    job.TotalGames,
		FailedCount:   job.FailedCount,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		Error:         job.Error,
	}, nil
}

// Stop requests a cooperative stop of the user's running job: the in-flight
// batch finishes, no further batches start. Reports whether a job in this
// process picked up the request.
func (o *Orchestrator) Stop(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stop, ok := o.stops[userID]; ok {
		stop.Store(true)
		return true
	}
	return false
}

// Shutdown stops all running jobs and waits for their current batch to
// drain, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, stop := range o.stops {
		stop.Store(true)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// unanalyzedGameIDs pages through both id sets and returns allGames minus
// gamesWithExistingAnalysis, in import order, plus the analyzed count.
func (o *Orchestrator) unanalyzedGameIDs(ctx context.Context, userID string) ([]int64, int, error) {
	analyzed := make(map[int64]struct{})
	var after int64
	for {
		page, err := o.repo.ListAnalyzedGameIDs(ctx, userID, after, maxPageSize)
		if err != nil {
			return nil, 0, err
		}
		for _, id := range page {
			analyzed[id] = struct{}{}
		}
		if len(page) < maxPageSize {
			break
		}
		after = page[len(page)-1]
	}

	var unanalyzed []int64
	after = 0
	for {
		page, err := o.repo.ListGameIDs(ctx, userID, after, maxPageSize)
		if err != nil {
			return nil, 0, err
		}
		for _, id := range page {
			if _, ok := analyzed[id]; !ok {
				unanalyzed = append(unanalyzed, id)
			}
		}
		if len(page) < maxPageSize {
			break
		}
		after = page[len(page)-1]
	}
	return unanalyzed, len(analyzed), nil
}

// applyRetention truncates the unanalyzed set to the remaining free-tier
// quota. Limit 0 means unlimited.
func applyRetention(unanalyzed []int64, analyzedCount, limit int) ([]int64, error) {
	if limit <= 0 {
		return unanalyzed, nil
	}
	remaining := limit - analyzedCount
	if remaining <= 0 {
		return nil, &LimitError{Analyzed: analyzedCount, Limit: limit}
	}
	if len(unanalyzed) > remaining {
		unanalyzed = unanalyzed[:remaining]
	}
	return unanalyzed, nil
}

func (o *Orchestrator) runJob(ctx context.Context, job *domain.AnalysisJob, gameIDs []int64, depth int, stop *atomic.Bool) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.stops, job.UserID)
		o.mu.Unlock()
	}()

	var analyzedCount, failedCount int
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("analysis job panicked",
				zap.String("job_id", job.ID), zap.Any("panic", r))
			_ = o.repo.FinishJob(ctx, job.ID, domain.JobFailed, fmt.Sprintf("unhandled: %v", r))
		}
	}()

	log := o.log.With(zap.String("job_id", job.ID), zap.String("user_id", job.UserID))
	log.Info("analysis job started", zap.Int("total_games", len(gameIDs)))

	for start := 0; start < len(gameIDs); start += o.batchSize {
		if stop.Load() {
			log.Info("analysis job stopped", zap.Int("analyzed", analyzedCount))
			break
		}

		end := start + o.batchSize
		if end > len(gameIDs) {
			end = len(gameIDs)
		}
		batch := gameIDs[start:end]

		// All-settled: workers record their outcome and never return an
		// error, so one game cannot cancel its batch siblings.
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, gameID := range batch {
			gameID := gameID
			g.Go(func() error {
				ok := o.analyzeForJob(gctx, job.UserID, gameID, depth)
				mu.Lock()
				if ok {
					analyzedCount++
				} else {
					failedCount++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := o.repo.UpdateJobProgress(ctx, job.ID, analyzedCount, failedCount); err != nil {
			log.Warn("persist job progress failed", zap.Error(err))
		}
	}

	if err := o.repo.FinishJob(ctx, job.ID, domain.JobCompleted, ""); err != nil {
		log.Error("finish job failed", zap.Error(err))
		return
	}
	log.Info("analysis job completed",
		zap.Int("analyzed", analyzedCount), zap.Int("failed", failedCount))
}

// analyzeForJob reports whether the game counts as analyzed. A concurrent
// duplicate insert counts as analyzed; a game whose evaluator calls all
// failed counts as failed and stays unanalyzed for a later job.
func (o *Orchestrator) analyzeForJob(ctx context.Context, userID string, gameID int64, depth int) bool {
	game, err := o.repo.GetGame(ctx, userID, gameID)
	if err != nil {
		o.log.Warn("load game failed", zap.Int64("game_id", gameID), zap.Error(err))
		return false
	}
	_, err = o.analyzeAndPersist(ctx, game, depth)
	if errors.Is(err, ErrAnalysisExists) {
		return true
	}
	if err != nil {
		o.log.Warn("game analysis failed", zap.Int64("game_id", gameID), zap.Error(err))
		return false
	}
	return true
}

// analyzeAndPersist runs the analyzer and writes the Analysis row. A
// malformed record persists an empty analysis so the game is skipped, not
// retried. A game where every user ply failed to evaluate is a failure and
// persists nothing.
func (o *Orchestrator) analyzeAndPersist(ctx context.Context, game *domain.Game, depth int) (*domain.Analysis, error) {
	var result *GameResult
	res, err := o.analyzer.Analyze(ctx, game, depth)
	switch {
	case errors.Is(err, decode.ErrMalformedGameRecord):
		o.log.Warn("malformed game record skipped",
			zap.Int64("game_id", game.ID), zap.Error(err))
		result = &GameResult{}
	case err != nil:
		return nil, err
	default:
		result = res
	}

	if result.MovesAnalyzed == 0 && result.EvalFailures > 0 {
		return nil, fmt.Errorf("all %d evaluations failed for game %d", result.EvalFailures, game.ID)
	}

	a := &domain.Analysis{
		GameID:        game.ID,
		UserID:        game.UserID,
		ThresholdCP:   o.thresholdCP,
		MovesAnalyzed: result.MovesAnalyzed,
		EvalFailures:  result.EvalFailures,
		Blunders:      result.Blunders,
	}
	id, err := o.repo.InsertAnalysis(ctx, a)
	if err != nil {
		return nil, err
	}
	a.ID = id
	a.CreatedAt = time.Now()
	return a, nil
}
