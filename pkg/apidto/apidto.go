// Package apidto holds the JSON shapes of the public HTTP API.
package apidto

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type ImportGameRequest struct {
	MovesText string     `json:"moves_text"`
	UserColor string     `json:"user_color"`
	Result    string     `json:"result,omitempty"`
	TimeClass string     `json:"time_class,omitempty"`
	PlayedAt  *time.Time `json:"played_at,omitempty"`
}

type ImportGameResponse struct {
	GameID int64 `json:"game_id"`
}

type JobResponse struct {
	HasJob        bool       `json:"has_job"`
	JobID         string     `json:"job_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	AnalyzedCount int        `json:"analyzed_count"`
	TotalCount    int        `json:"total_count"`
	FailedCount   int        `json:"failed_count"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// LimitReachedResponse carries the counts for the upgrade prompt.
type LimitReachedResponse struct {
	LimitReached   bool `json:"limit_reached"`
	AnalyzedCount  int  `json:"analyzed_count"`
	RetentionLimit int  `json:"retention_limit"`
}

type StopJobResponse struct {
	Stopping bool `json:"stopping"`
}

type Candidate struct {
	MoveUCI      string   `json:"move_uci"`
	ScoreCP      int      `json:"score_cp"`
	Continuation []string `json:"continuation,omitempty"`
}

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

type Analysis struct {
	ID            int64     `json:"id"`
	GameID        int64     `json:"game_id"`
	ThresholdCP   int       `json:"threshold_cp"`
	MovesAnalyzed int       `json:"moves_analyzed"`
	EvalFailures  int       `json:"eval_failures"`
	Blunders      []Blunder `json:"blunders"`
}

type AnalyzeGameResponse struct {
	Success         bool      `json:"success"`
	AlreadyAnalyzed bool      `json:"already_analyzed"`
	Analysis        *Analysis `json:"analysis,omitempty"`
}

// UsageResponse reports engine calls billed against the user since UTC
// midnight.
type UsageResponse struct {
	EngineCallsToday int64 `json:"engine_calls_today"`
}

type PracticeAttemptRequest struct {
	AnalysisID   int64  `json:"analysis_id"`
	BlunderIndex int    `json:"blunder_index"`
	MoveUCI      string `json:"move_uci"`
}

type PracticeAttemptResponse struct {
	Rank     int  `json:"rank"`
	Correct  bool `json:"correct"`
	Solved   bool `json:"solved"`
	Attempts int  `json:"attempts"`
}

type PracticeRunResponse struct {
	Run int `json:"run"`
}

type PracticeStatsResponse struct {
	Run           int     `json:"run"`
	Solved        int     `json:"solved"`
	TotalPuzzles  int     `json:"total_puzzles"`
	CompletionPct float64 `json:"completion_pct"`
	CurrentStreak int     `json:"current_streak"`
	BestStreak    int     `json:"best_streak"`
}
