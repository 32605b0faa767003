package practice

import (
	"context"

	"go.uber.org/zap"
)

// AttemptResult is the feedback for one practice attempt.
type AttemptResult struct {
	Rank     Rank
	Correct  bool
	Solved   bool
	Attempts int
}

// Stats summarizes the user's current practice run.
type Stats struct {
	Run           int
	Solved        int
	TotalPuzzles  int
	CompletionPct float64
	CurrentStreak int
	BestStreak    int
}

type Service struct {
	repo Repository
	log  *zap.Logger
}

func NewService(repo Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log}
}

// Attempt scores one move against a stored blunder and records it. Every
// attempt counts; an incorrect one leaves the puzzle unsolved so the caller
// presents the same position again.
func (s *Service) Attempt(ctx context.Context, userID string, analysisID int64, blunderIndex int, moveUCI string) (*AttemptResult, error) {
	blunder, err := s.repo.LoadBlunder(ctx, userID, analysisID, blunderIndex)
	if err != nil {
		return nil, err
	}

	rank := ScoreAttempt(blunder, moveUCI)
	correct := rank.Correct()

	run, err := s.repo.CurrentRun(ctx, userID)
	if err != nil {
		return nil, err
	}
	progress, err := s.repo.RecordAttempt(ctx, userID, analysisID, blunderIndex, run, correct, int(rank))
	if err != nil {
		return nil, err
	}

	s.log.Debug("practice attempt",
		zap.String("user_id", userID),
		zap.Int64("analysis_id", analysisID),
		zap.Int("blunder_index", blunderIndex),
		zap.Int("rank", int(rank)),
		zap.Bool("correct", correct))

	return &AttemptResult{
		Rank:     rank,
		Correct:  correct,
		Solved:   progress.Solved,
		Attempts: progress.Attempts,
	}, nil
}

// StartNewRun bumps the practice epoch and returns the new run number.
func (s *Service) StartNewRun(ctx context.Context, userID string) (int, error) {
	run, err := s.repo.IncrementRun(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info("practice run started", zap.String("user_id", userID), zap.Int("run", run))
	return run, nil
}

// StatsFor reports completion and streaks for the user's current run.
// Streaks are derived from the rows, never stored.
func (s *Service) StatsFor(ctx context.Context, userID string) (*Stats, error) {
	run, err := s.repo.CurrentRun(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListRunProgress(ctx, userID, run)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountBlunders(ctx, userID)
	if err != nil {
		return nil, err
	}

	solved := 0
	for _, row := range rows {
		if row.Solved {
			solved++
		}
	}
	current, best := computeStreaks(rows)

	st := &Stats{
		Run:           run,
		Solved:        solved,
		TotalPuzzles:  total,
		CurrentStreak: current,
		BestStreak:    best,
	}
	if total > 0 {
		st.CompletionPct = float64(solved) / float64(total) * 100
	}
	return st, nil
}
