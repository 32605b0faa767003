package analysis

import (
	"testing"

	"github.com/chessblunders/analysis-core/internal/decode"
	"github.com/chessblunders/analysis-core/internal/domain"
)

func TestNormalizedDrop_Scenario(t *testing.T) {
	// User at +50 to move, position after the move evaluates +380 for the
	// opponent to move.
	before, after, drop := NormalizedDrop(50, 380)
	if before != 50 {
		t.Fatalf("beforeNorm = %d", before)
	}
	if after != -380 {
		t.Fatalf("afterNorm = %d", after)
	}
	if drop != 430 {
		t.Fatalf("drop = %d, want 430", drop)
	}
}

func TestNormalizedDrop_ColorIndependent(t *testing.T) {
	// Scores are relative to the side to move, so a black user handing the
	// opponent +380 from a +50 position is the same 430cp drop as for white.
	// No re-signing by user color may happen here.
	_, _, drop := NormalizedDrop(50, 380)
	if drop != 430 {
		t.Fatalf("drop = %d, want 430 regardless of user color", drop)
	}
}

func TestNormalizedDrop_MirroredEvalsFlipSign(t *testing.T) {
	// Swapping which side is "the user" negates both raw evaluations; the
	// drop must come back with the same magnitude and opposite sign.
	pairs := [][2]int{{50, 380}, {0, 0}, {-200, 150}, {9999, -9999}, {-75, -30}}
	for _, p := range pairs {
		_, _, asUser := NormalizedDrop(p[0], p[1])
		_, _, asOpponent := NormalizedDrop(-p[0], -p[1])
		if asUser != -asOpponent {
			t.Fatalf("(%d,%d): drop %d, mirrored drop %d; want opposite signs, same magnitude",
				p[0], p[1], asUser, asOpponent)
		}
	}
}

func testPly() decode.Ply {
	return decode.Ply{
		Index:     4,
		Number:    3,
		FENBefore: "r1bqkbnr/pppp1ppp/2n5/4p2Q/4P3/8/PPPP1PPP/RNB1KBNR b KQkq - 3 3",
		SAN:       "Nf6",
		UCI:       "g8f6",
		UserMove:  true,
	}
}

func TestClassifierThreshold(t *testing.T) {
	c := Classifier{ThresholdCP: 100}
	ply := testPly()

	// afterNorm = -evalAfter: evalAfter 49 → drop 99
	if _, hit := c.Classify(ply, &domain.Evaluation{ScoreCP: 50}, &domain.Evaluation{ScoreCP: 49}); hit {
		t.Fatalf("drop 99 flagged at threshold 100")
	}
	b, hit := c.Classify(ply, &domain.Evaluation{ScoreCP: 50}, &domain.Evaluation{ScoreCP: 50})
	if !hit {
		t.Fatalf("drop exactly at threshold not flagged")
	}
	if b.EvalDropCP != 100 || b.EvalBeforeCP != 50 || b.EvalAfterCP != -50 {
		t.Fatalf("blunder evals = %+v", b)
	}
	if b.MoveNumber != 3 || b.Ply != 5 || b.MovePlayedSAN != "Nf6" {
		t.Fatalf("blunder ply context = %+v", b)
	}
}

func TestClassifierSkipCeiling(t *testing.T) {
	ply := testPly()
	// beforeNorm -950, afterNorm -1200: drop 250 in an already-lost position
	before := &domain.Evaluation{ScoreCP: -950}
	after := &domain.Evaluation{ScoreCP: 1200}

	withCeiling := Classifier{ThresholdCP: 100, SkipCeilingCP: 900}
	if _, hit := withCeiling.Classify(ply, before, after); hit {
		t.Fatalf("already-lost position flagged despite skip ceiling")
	}

	disabled := Classifier{ThresholdCP: 100}
	if _, hit := disabled.Classify(ply, before, after); !hit {
		t.Fatalf("ceiling 0 should not suppress flagging")
	}
}

func TestClassifierCandidateList(t *testing.T) {
	c := Classifier{ThresholdCP: 100}
	before := &domain.Evaluation{
		ScoreCP: 100,
		Candidates: []domain.Candidate{
			{MoveUCI: "d2d4", ScoreCP: 100},
			{MoveUCI: "g1f3", ScoreCP: 40},
			{MoveUCI: "c2c4", ScoreCP: 0},
			{MoveUCI: "a2a3", ScoreCP: -50},
		},
	}
	after := &domain.Evaluation{ScoreCP: 200}

	b, hit := c.Classify(testPly(), before, after)
	if !hit {
		t.Fatalf("expected blunder")
	}
	if b.BestMoveUCI != "d2d4" {
		t.Fatalf("best move = %q", b.BestMoveUCI)
	}
	// c2c4 loses exactly the threshold and a2a3 more; neither is acceptable
	if len(b.Candidates) != 2 || b.Candidates[1].MoveUCI != "g1f3" {
		t.Fatalf("candidates = %+v", b.Candidates)
	}
}
