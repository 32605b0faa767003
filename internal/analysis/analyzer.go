package analysis

import (
	"context"

	"go.uber.org/zap"

	"github.com/chessblunders/analysis-core/internal/decode"
	"github.com/chessblunders/analysis-core/internal/domain"
	"github.com/chessblunders/analysis-core/internal/engine"
)

// UsageRecorder bills one engine call attempt against a user.
type UsageRecorder interface {
	Increment(ctx context.Context, userID string) (int64, error)
}

// GameResult is the outcome of analyzing a single game. EvalFailures counts
// user plies skipped because an evaluator call failed; a game where every
// ply failed looks identical to a clean game except through this counter.
type GameResult struct {
	Blunders      []domain.Blunder
	MovesAnalyzed int
	EvalFailures  int
}

// GameAnalyzer replays one game and evaluates every user ply twice, before
// and after the move.
type GameAnalyzer struct {
	eval           engine.Evaluator
	usage          UsageRecorder
	classifier     Classifier
	candidateCount int
	log            *zap.Logger
}

func NewGameAnalyzer(eval engine.Evaluator, usage UsageRecorder, classifier Classifier, candidateCount int, log *zap.Logger) *GameAnalyzer {
	if candidateCount < 1 {
		candidateCount = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GameAnalyzer{
		eval:           eval,
		usage:          usage,
		classifier:     classifier,
		candidateCount: candidateCount,
		log:            log,
	}
}

// Analyze decodes and evaluates one game at the given depth. Evaluator
// failures skip the ply and continue; decode failures abort the game with
// decode.ErrMalformedGameRecord.
func (a *GameAnalyzer) Analyze(ctx context.Context, game *domain.Game, depth int) (*GameResult, error) {
	plies, err := decode.Game(game.MovesText, game.UserColor)
	if err != nil {
		return nil, err
	}

	res := &GameResult{}
	for _, ply := range plies {
		if !ply.UserMove {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		before, ok := a.evaluate(ctx, game.UserID, ply.FENBefore, depth, a.candidateCount)
		if !ok {
			res.EvalFailures++
			continue
		}
		after, ok := a.evaluate(ctx, game.UserID, ply.FENAfter, depth, 1)
		if !ok {
			res.EvalFailures++
			continue
		}

		res.MovesAnalyzed++
		if b, hit := a.classifier.Classify(ply, before, after); hit {
			a.log.Debug("blunder detected",
				zap.Int64("game_id", game.ID),
				zap.Int("move", b.MoveNumber),
				zap.Int("drop_cp", b.EvalDropCP))
			res.Blunders = append(res.Blunders, *b)
		}
	}
	return res, nil
}

// evaluate bills usage on every attempt, then calls the evaluator. Usage is
// charged on request, not on result.
func (a *GameAnalyzer) evaluate(ctx context.Context, userID, fen string, depth, multiPV int) (*domain.Evaluation, bool) {
	if a.usage != nil {
		if _, err := a.usage.Increment(ctx, userID); err != nil {
			a.log.Warn("usage increment failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	eval, err := a.eval.Evaluate(ctx, fen, depth, multiPV)
	if err != nil {
		a.log.Debug("evaluation failed", zap.String("fen", fen), zap.Error(err))
		return nil, false
	}
	return eval, true
}
