// Package analysis detects blunders in replayed games and runs bulk
// analysis jobs.
package analysis

import (
	"github.com/chessblunders/analysis-core/internal/decode"
	"github.com/chessblunders/analysis-core/internal/domain"
)

// NormalizedDrop re-signs a pair of engine evaluations into the user's
// perspective and returns the evaluation drop caused by the user's move.
// Both inputs are from the side to move's perspective: the user is to move in
// the before position, the opponent in the after position. Because the frame
// follows the side to move, the arithmetic is identical for both colors —
// only the after score flips sign.
func NormalizedDrop(evalBefore, evalAfter int) (beforeNorm, afterNorm, drop int) {
	beforeNorm = evalBefore
	afterNorm = -evalAfter
	return beforeNorm, afterNorm, beforeNorm - afterNorm
}

// Classifier decides whether one user ply is a blunder.
type Classifier struct {
	ThresholdCP int
	// SkipCeilingCP suppresses flagging in positions the user has already
	// lost by at least this margin. Zero disables the ceiling.
	SkipCeilingCP int
}

// Classify returns the Blunder record for a qualifying drop, or false.
// Candidates come from the before evaluation so practice scoring can rank
// attempts against what the user should have played.
func (c Classifier) Classify(ply decode.Ply, before, after *domain.Evaluation) (*domain.Blunder, bool) {
	beforeNorm, afterNorm, drop := NormalizedDrop(before.ScoreCP, after.ScoreCP)
	if c.SkipCeilingCP > 0 && beforeNorm <= -c.SkipCeilingCP {
		return nil, false
	}
	if drop < c.ThresholdCP {
		return nil, false
	}

	best := ""
	candidates := acceptableCandidates(before.Candidates, c.ThresholdCP)
	if len(candidates) > 0 {
		best = candidates[0].MoveUCI
	}
	return &domain.Blunder{
		MoveNumber:    ply.Number,
		Ply:           ply.Index + 1,
		FENBefore:     ply.FENBefore,
		MovePlayedSAN: ply.SAN,
		MovePlayedUCI: ply.UCI,
		BestMoveUCI:   best,
		Candidates:    candidates,
		EvalBeforeCP:  beforeNorm,
		EvalAfterCP:   afterNorm,
		EvalDropCP:    drop,
	}, true
}

// acceptableCandidates keeps the ranked lines scoring strictly less than
// thresholdCP below the best line. These are the moves practice scoring will
// accept; a move that loses exactly the threshold is itself a blunder.
func acceptableCandidates(ranked []domain.Candidate, thresholdCP int) []domain.Candidate {
	if len(ranked) == 0 {
		return nil
	}
	best := ranked[0].ScoreCP
	out := make([]domain.Candidate, 0, len(ranked))
	for _, cand := range ranked {
		if best-cand.ScoreCP >= thresholdCP {
			continue
		}
		out = append(out, cand)
	}
	return out
}
