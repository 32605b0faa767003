// Package practice turns stored blunders into retryable puzzles and keeps
// per-run progress.
package practice

import (
	"strings"

	"github.com/chessblunders/analysis-core/internal/domain"
)

// Ranks 1..3 all count as correct; the feedback just gets less enthusiastic.
const maxCorrectRank = 3

// Rank is the 1-based position of an attempt in the blunder's candidate
// list. Zero means the move matched nothing.
type Rank int

func (r Rank) Correct() bool { return r >= 1 && r <= maxCorrectRank }

// ScoreAttempt matches a move against the blunder's ranked candidates.
// Blunders stored before candidate lists existed collapse to
// best-move-or-wrong.
func ScoreAttempt(b *domain.Blunder, moveUCI string) Rank {
	move := strings.ToLower(strings.TrimSpace(moveUCI))
	if move == "" {
		return 0
	}
	if len(b.Candidates) > 0 {
		for i, cand := range b.Candidates {
			if cand.MoveUCI == move {
				return Rank(i + 1)
			}
		}
		return 0
	}
	if b.BestMoveUCI != "" && b.BestMoveUCI == move {
		return 1
	}
	return 0
}

// computeStreaks derives streaks from solved rows ordered by solve time.
// Only rank-1 solves extend a streak; any other solve breaks it.
func computeStreaks(rows []domain.UserProgress) (current, best int) {
	run := 0
	for _, row := range rows {
		if !row.Solved {
			continue
		}
		if row.SolvedRank == 1 {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return run, best
}
