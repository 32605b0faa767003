package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chessblunders/analysis-core/internal/analysis"
	"github.com/chessblunders/analysis-core/internal/domain"
	"github.com/chessblunders/analysis-core/internal/practice"
	"github.com/chessblunders/analysis-core/pkg/apidto"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImportGame(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req apidto.ImportGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.MovesText) == "" {
		writeError(w, http.StatusBadRequest, "moves_text is required")
		return
	}
	color := domain.Color(strings.ToLower(strings.TrimSpace(req.UserColor)))
	if color != domain.White && color != domain.Black {
		writeError(w, http.StatusBadRequest, "user_color must be white or black")
		return
	}

	game := &domain.Game{
		UserID:    userID,
		MovesText: req.MovesText,
		UserColor: color,
		Result:    req.Result,
		TimeClass: req.TimeClass,
	}
	if req.PlayedAt != nil {
		game.PlayedAt = *req.PlayedAt
	}

	id, err := s.repo.InsertGame(r.Context(), game)
	if err != nil {
		s.log.Error("import game failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}
	writeJSON(w, http.StatusCreated, apidto.ImportGameResponse{GameID: id})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	job, started, err := s.orch.StartJob(r.Context(), userID)
	if err != nil {
		var le *analysis.LimitError
		if errors.As(err, &le) {
			writeJSON(w, http.StatusConflict, apidto.LimitReachedResponse{
				LimitReached:   true,
				AnalyzedCount:  le.Analyzed,
				RetentionLimit: le.Limit,
			})
			return
		}
		s.log.Error("start job failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start analysis job")
		return
	}

	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, jobToDTO(job))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	snap, err := s.orch.Status(r.Context(), userID)
	if err != nil {
		s.log.Error("job status failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load job status")
		return
	}
	writeJSON(w, http.StatusOK, snapshotToDTO(snap))
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusAccepted, apidto.StopJobResponse{Stopping: s.orch.Stop(userID)})
}

func (s *Server) handleAnalyzeOne(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	gameID, err := strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}

	res, err := s.orch.AnalyzeOne(r.Context(), userID, gameID)
	if err != nil {
		var le *analysis.LimitError
		switch {
		case errors.As(err, &le):
			writeJSON(w, http.StatusConflict, apidto.LimitReachedResponse{
				LimitReached:   true,
				AnalyzedCount:  le.Analyzed,
				RetentionLimit: le.Limit,
			})
		case errors.Is(err, analysis.ErrGameNotFound):
			writeError(w, http.StatusNotFound, "game not found")
		default:
			s.log.Error("analyze game failed",
				zap.String("user_id", userID), zap.Int64("game_id", gameID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "analysis failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, apidto.AnalyzeGameResponse{
		Success:         true,
		AlreadyAnalyzed: res.AlreadyAnalyzed,
		Analysis:        analysisToDTO(res.Analysis),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	calls, err := s.usage.Today(r.Context(), userID)
	if err != nil {
		s.log.Error("usage lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load usage")
		return
	}
	writeJSON(w, http.StatusOK, apidto.UsageResponse{EngineCallsToday: calls})
}

func (s *Server) handlePracticeAttempt(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req apidto.PracticeAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.MoveUCI) == "" {
		writeError(w, http.StatusBadRequest, "move_uci is required")
		return
	}

	res, err := s.practice.Attempt(r.Context(), userID, req.AnalysisID, req.BlunderIndex, req.MoveUCI)
	if err != nil {
		if errors.Is(err, practice.ErrBlunderNotFound) {
			writeError(w, http.StatusNotFound, "blunder not found")
			return
		}
		s.log.Error("practice attempt failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "attempt failed")
		return
	}

	writeJSON(w, http.StatusOK, apidto.PracticeAttemptResponse{
		Rank:     int(res.Rank),
		Correct:  res.Correct,
		Solved:   res.Solved,
		Attempts: res.Attempts,
	})
}

func (s *Server) handlePracticeRun(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	run, err := s.practice.StartNewRun(r.Context(), userID)
	if err != nil {
		s.log.Error("start practice run failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start practice run")
		return
	}
	writeJSON(w, http.StatusCreated, apidto.PracticeRunResponse{Run: run})
}

func (s *Server) handlePracticeStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	st, err := s.practice.StatsFor(r.Context(), userID)
	if err != nil {
		s.log.Error("practice stats failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load practice stats")
		return
	}
	writeJSON(w, http.StatusOK, apidto.PracticeStatsResponse{
		Run:           st.Run,
		Solved:        st.Solved,
		TotalPuzzles:  st.TotalPuzzles,
		CompletionPct: st.CompletionPct,
		CurrentStreak: st.CurrentStreak,
		BestStreak:    st.BestStreak,
	})
}

func jobToDTO(job *domain.AnalysisJob) apidto.JobResponse {
	if job == nil {
		return apidto.JobResponse{}
	}
	started := job.StartedAt
	return apidto.JobResponse{
		HasJob:        true,
		JobID:         job.ID,
		Status:        string(job.Status),
		AnalyzedCount: job.AnalyzedCount,
		TotalCount:    job.TotalGames,
		FailedCount:   job.FailedCount,
		StartedAt:     &started,
		CompletedAt:   job.CompletedAt,
		Error:         job.Error,
	}
}

func snapshotToDTO(snap *analysis.JobSnapshot) apidto.JobResponse {
	if snap == nil || !snap.HasJob {
		return apidto.JobResponse{}
	}
	started := snap.StartedAt
	return apidto.JobResponse{
		HasJob:        true,
		JobID:         snap.JobID,
		Status:        string(snap.Status),
		AnalyzedCount: snap.AnalyzedCount,
		TotalCount:    snap.TotalCount,
		FailedCount:   snap.FailedCount,
		StartedAt:     &started,
		CompletedAt:   snap.CompletedAt,
		Error:         snap.Error,
	}
}

func analysisToDTO(a *domain.Analysis) *apidto.Analysis {
	if a == nil {
		return nil
	}
	out := &apidto.Analysis{
		ID:            a.ID,
		GameID:        a.GameID,
		ThresholdCP:   a.ThresholdCP,
		MovesAnalyzed: a.MovesAnalyzed,
		EvalFailures:  a.EvalFailures,
		Blunders:      make([]apidto.Blunder, 0, len(a.Blunders)),
	}
	for _, b := range a.Blunders {
		cands := make([]apidto.Candidate, 0, len(b.Candidates))
		for _, c := range b.Candidates {
			cands = append(cands, apidto.Candidate{
				MoveUCI:      c.MoveUCI,
				ScoreCP:      c.ScoreCP,
				Continuation: c.Continuation,
			})
		}
		out.Blunders = append(out.Blunders, apidto.Blunder{
			MoveNumber:    b.MoveNumber,
			Ply:           b.Ply,
			FENBefore:     b.FENBefore,
			MovePlayedSAN: b.MovePlayedSAN,
			MovePlayedUCI: b.MovePlayedUCI,
			BestMoveUCI:   b.BestMoveUCI,
			Candidates:    cands,
			EvalBeforeCP:  b.EvalBeforeCP,
			EvalAfterCP:   b.EvalAfterCP,
			EvalDropCP:    b.EvalDropCP,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apidto.ErrorResponse{Error: msg})
}
