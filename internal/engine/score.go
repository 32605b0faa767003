// Package engine talks to the external position evaluator service.
package engine

// MateScoreCP is the centipawn sentinel that forced-mate scores clamp to.
const MateScoreCP = 10000

// Score is an engine score: either a centipawn value or a forced mate in N
// moves, always from the side to move's perspective.
type Score struct {
	CP     int
	MateIn int
	IsMate bool
}

func Centipawns(cp int) Score { return Score{CP: cp} }

func MateIn(n int) Score { return Score{MateIn: n, IsMate: true} }

// Clamped collapses the score to a plain centipawn value. Mate scores become
// the +/-MateScoreCP sentinel regardless of the mate distance; a non-positive
// mate count means the side to move is the one getting mated.
func (s Score) Clamped() int {
	if !s.IsMate {
		return s.CP
	}
	if s.MateIn > 0 {
		return MateScoreCP
	}
	return -MateScoreCP
}
