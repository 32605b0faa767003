package domain

import "time"

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) IsWhite() bool { return c == White }

// Game is an imported game record. Immutable once written.
type Game struct {
	ID         int64
	UserID     string
	MovesText  string
	UserColor  Color
	Result     string
	TimeClass  string
	PlayedAt   time.Time
	ImportedAt time.Time
}

// Candidate is one ranked engine line for a position. ScoreCP is from the
// perspective of the side to move at that position.
type Candidate struct {
	MoveUCI      string   `json:"move_uci"`
	ScoreCP      int      `json:"score_cp"`
	Continuation []string `json:"continuation,omitempty"`
}

// Evaluation is the normalized result of one engine call. ScoreCP is the
// top line's score from the side to move's perspective, mate scores already
// clamped to the centipawn sentinel range.
type Evaluation struct {
	ScoreCP    int
	Candidates []Candidate
}

// Blunder is a user move whose evaluation drop met the threshold.
// Eval fields are normalized to the user's perspective.
type Blunder struct {
	MoveNumber    int         `json:"move_number"`
	Ply           int         `json:"ply"`
	FENBefore     string      `json:"fen_before"`
	MovePlayedSAN string      `json:"move_played_san"`
	MovePlayedUCI string      `json:"move_played_uci"`
	BestMoveUCI   string      `json:"best_move_uci"`
	Candidates    []Candidate `json:"candidates,omitempty"`
	EvalBeforeCP  int         `json:"eval_before_cp"`
	EvalAfterCP   int         `json:"eval_after_cp"`
	EvalDropCP    int         `json:"eval_drop_cp"`
}

// Analysis is the write-once result of analyzing one game for one user.
// Its existence for a game id is the marker that the game was analyzed.
type Analysis struct {
	ID            int64
	GameID        int64
	UserID        string
	ThresholdCP   int
	MovesAnalyzed int
	EvalFailures  int
	Blunders      []Blunder
	CreatedAt     time.Time
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// AnalysisJob tracks one "analyze all remaining games" run for a user.
type AnalysisJob struct {
	ID            string
	UserID        string
	Status        JobStatus
	TotalGames    int
	AnalyzedCount int
	FailedCount   int
	Error         string
	StartedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// UserProgress records practice attempts on one blunder within one practice
// run. PracticeRun 0 marks legacy rows written before runs existed.
type UserProgress struct {
	UserID       string
	AnalysisID   int64
	BlunderIndex int
	PracticeRun  int
	Solved       bool
	SolvedRank   int
	Attempts     int
	LastSolvedAt *time.Time
	UpdatedAt    time.Time
}

// PracticeProfile holds the user's current practice-run epoch.
type PracticeProfile struct {
	UserID     string
	CurrentRun int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TierLimits are the per-account-tier analysis caps. RetentionLimit 0 means
// unlimited.
type TierLimits struct {
	MaxDepth       int
	RetentionLimit int
}
