package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chessblunders/analysis-core/internal/analysis"
	"github.com/chessblunders/analysis-core/internal/domain"
	"github.com/chessblunders/analysis-core/internal/practice"
	"github.com/chessblunders/analysis-core/pkg/apidto"
)

type stubTier struct{}

func (stubTier) IsPremium(string) bool              { return false }
func (stubTier) LimitsFor(string) domain.TierLimits { return domain.TierLimits{MaxDepth: 12, RetentionLimit: 100} }

type stubEvaluator struct{}

func (stubEvaluator) Evaluate(context.Context, string, int, int) (*domain.Evaluation, error) {
	return &domain.Evaluation{ScoreCP: 0, Candidates: []domain.Candidate{{MoveUCI: "e2e4"}}}, nil
}

type memRepo struct {
	mu       sync.Mutex
	nextGame int64
	games    map[int64]*domain.Game
	analyses map[int64]*domain.Analysis
	nextAnID int64
	jobs     map[string]*domain.AnalysisJob
}

func newMemRepo() *memRepo {
	return &memRepo{
		games:    make(map[int64]*domain.Game),
		analyses: make(map[int64]*domain.Analysis),
		jobs:     make(map[string]*domain.AnalysisJob),
	}
}

func (r *memRepo) InsertGame(_ context.Context, g *domain.Game) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGame++
	g.ID = r.nextGame
	r.games[g.ID] = g
	return g.ID, nil
}

func (r *memRepo) GetGame(_ context.Context, userID string, gameID int64) (*domain.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[gameID]
	if !ok || g.UserID != userID {
		return nil, analysis.ErrGameNotFound
	}
	return g, nil
}

func (r *memRepo) ListGameIDs(_ context.Context, userID string, afterID int64, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, g := range r.games {
		if g.UserID == userID && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memRepo) ListAnalyzedGameIDs(_ context.Context, userID string, afterID int64, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for gameID, a := range r.analyses {
		if a.UserID == userID && gameID > afterID {
			ids = append(ids, gameID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memRepo) CountAnalyses(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.analyses {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) AnalysisExists(_ context.Context, gameID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.analyses[gameID]
	return ok, nil
}

func (r *memRepo) InsertAnalysis(_ context.Context, a *domain.Analysis) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.analyses[a.GameID]; ok {
		return 0, analysis.ErrAnalysisExists
	}
	r.nextAnID++
	cp := *a
	cp.ID = r.nextAnID
	r.analyses[a.GameID] = &cp
	return cp.ID, nil
}

func (r *memRepo) GetAnalysis(_ context.Context, userID string, analysisID int64) (*domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.analyses {
		if a.ID == analysisID && a.UserID == userID {
			return a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memRepo) ClaimJob(_ context.Context, job *domain.AnalysisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.UserID == job.UserID && !j.Status.Terminal() {
			return analysis.ErrJobConflict
		}
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memRepo) LatestJob(_ context.Context, userID string) (*domain.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.AnalysisJob
	for _, j := range r.jobs {
		if j.UserID == userID && (latest == nil || j.StartedAt.After(latest.StartedAt)) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memRepo) UpdateJobProgress(_ context.Context, jobID string, analyzed, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.Status = domain.JobRunning
		j.AnalyzedCount = analyzed
		j.FailedCount = failed
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memRepo) FinishJob(_ context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		now := time.Now()
		j.Status = status
		j.Error = errMsg
		j.CompletedAt = &now
	}
	return nil
}

func (r *memRepo) FailStaleJobs(context.Context, time.Duration) (int64, error) { return 0, nil }

type memPracticeRepo struct {
	blunders map[int64][]domain.Blunder
	runs     map[string]int
}

func (m *memPracticeRepo) LoadBlunder(_ context.Context, _ string, analysisID int64, idx int) (*domain.Blunder, error) {
	bs, ok := m.blunders[analysisID]
	if !ok || idx < 0 || idx >= len(bs) {
		return nil, practice.ErrBlunderNotFound
	}
	return &bs[idx], nil
}

func (m *memPracticeRepo) CurrentRun(_ context.Context, userID string) (int, error) {
	if m.runs[userID] == 0 {
		m.runs[userID] = 1
	}
	return m.runs[userID], nil
}

func (m *memPracticeRepo) IncrementRun(_ context.Context, userID string) (int, error) {
	if m.runs[userID] == 0 {
		m.runs[userID] = 1
	}
	m.runs[userID]++
	return m.runs[userID], nil
}

func (m *memPracticeRepo) RecordAttempt(_ context.Context, userID string, analysisID int64, idx, run int, correct bool, rank int) (*domain.UserProgress, error) {
	return &domain.UserProgress{
		UserID: userID, AnalysisID: analysisID, BlunderIndex: idx,
		PracticeRun: run, Solved: correct, SolvedRank: rank, Attempts: 1,
	}, nil
}

func (m *memPracticeRepo) ListRunProgress(context.Context, string, int) ([]domain.UserProgress, error) {
	return nil, nil
}

func (m *memPracticeRepo) CountBlunders(context.Context, string) (int, error) { return 0, nil }

// memUsage stands in for the Redis counter on both sides: the analyzer bills
// through Increment, the usage endpoint reads through Today.
type memUsage struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memUsage) Increment(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[userID]++
	return m.counts[userID], nil
}

func (m *memUsage) Today(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[userID], nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	usageCounter := &memUsage{counts: map[string]int64{}}
	analyzer := analysis.NewGameAnalyzer(stubEvaluator{}, usageCounter, analysis.Classifier{ThresholdCP: 100}, 3, nil)
	orch := analysis.NewOrchestrator(repo, analyzer, stubTier{}, 100, 5, nil)
	practiceSvc := practice.NewService(&memPracticeRepo{
		blunders: map[int64][]domain.Blunder{7: {{BestMoveUCI: "d2d4", Candidates: []domain.Candidate{{MoveUCI: "d2d4"}}}}},
		runs:     map[string]int{},
	}, nil)

	srv := httptest.NewServer(NewServer(repo, orch, practiceSvc, usageCounter, nil).Router())
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestImportGameValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/api/v1/users/u1/games"

	resp := postJSON(t, url, apidto.ImportGameRequest{MovesText: "1. e4 e5", UserColor: "purple"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad color status = %d", resp.StatusCode)
	}

	resp = postJSON(t, url, apidto.ImportGameRequest{MovesText: "1. e4 e5", UserColor: "white"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d", resp.StatusCode)
	}
	var out apidto.ImportGameResponse
	decodeInto(t, resp, &out)
	if out.GameID != 1 {
		t.Fatalf("game id = %d", out.GameID)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1/users/u1"

	resp := postJSON(t, base+"/games", apidto.ImportGameRequest{MovesText: "1. e4 e5", UserColor: "white"})
	resp.Body.Close()

	resp = postJSON(t, base+"/analysis/jobs", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start job status = %d", resp.StatusCode)
	}
	var job apidto.JobResponse
	decodeInto(t, resp, &job)
	if !job.HasJob || job.TotalCount != 1 {
		t.Fatalf("job response = %+v", job)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/analysis/jobs/latest")
		if err != nil {
			t.Fatalf("GET latest: %v", err)
		}
		var snap apidto.JobResponse
		decodeInto(t, resp, &snap)
		if snap.Status == string(domain.JobCompleted) {
			if snap.AnalyzedCount != 1 || snap.FailedCount != 0 {
				t.Fatalf("final snapshot = %+v", snap)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAnalyzeOneOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1/users/u1"

	resp := postJSON(t, base+"/games", apidto.ImportGameRequest{MovesText: "1. e4 e5", UserColor: "white"})
	resp.Body.Close()

	resp = postJSON(t, base+"/games/1/analyze", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d", resp.StatusCode)
	}
	var first apidto.AnalyzeGameResponse
	decodeInto(t, resp, &first)
	if !first.Success || first.AlreadyAnalyzed || first.Analysis == nil {
		t.Fatalf("first analyze = %+v", first)
	}

	resp = postJSON(t, base+"/games/1/analyze", nil)
	var second apidto.AnalyzeGameResponse
	decodeInto(t, resp, &second)
	if !second.AlreadyAnalyzed {
		t.Fatalf("second analyze = %+v", second)
	}

	resp = postJSON(t, base+"/games/999/analyze", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing game status = %d", resp.StatusCode)
	}
}

func TestUsageEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1/users/u1"

	resp, err := http.Get(base + "/usage")
	if err != nil {
		t.Fatalf("GET usage: %v", err)
	}
	var before apidto.UsageResponse
	decodeInto(t, resp, &before)
	if before.EngineCallsToday != 0 {
		t.Fatalf("fresh user usage = %d", before.EngineCallsToday)
	}

	resp = postJSON(t, base+"/games", apidto.ImportGameRequest{MovesText: "1. e4 e5", UserColor: "white"})
	resp.Body.Close()
	resp = postJSON(t, base+"/games/1/analyze", nil)
	resp.Body.Close()

	resp, err = http.Get(base + "/usage")
	if err != nil {
		t.Fatalf("GET usage: %v", err)
	}
	var after apidto.UsageResponse
	decodeInto(t, resp, &after)
	// one user ply, evaluated before and after the move
	if after.EngineCallsToday != 2 {
		t.Fatalf("usage after analysis = %d, want 2", after.EngineCallsToday)
	}
}

func TestPracticeEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1/users/u1"

	resp := postJSON(t, base+"/practice/attempts", apidto.PracticeAttemptRequest{AnalysisID: 7, BlunderIndex: 0, MoveUCI: "d2d4"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("attempt status = %d", resp.StatusCode)
	}
	var attempt apidto.PracticeAttemptResponse
	decodeInto(t, resp, &attempt)
	if attempt.Rank != 1 || !attempt.Correct {
		t.Fatalf("attempt = %+v", attempt)
	}

	resp = postJSON(t, base+"/practice/attempts", apidto.PracticeAttemptRequest{AnalysisID: 99, BlunderIndex: 0, MoveUCI: "d2d4"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing blunder status = %d", resp.StatusCode)
	}

	resp = postJSON(t, base+"/practice/runs", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("new run status = %d", resp.StatusCode)
	}
	var run apidto.PracticeRunResponse
	decodeInto(t, resp, &run)
	if run.Run != 2 {
		t.Fatalf("run = %d", run.Run)
	}

	resp, err := http.Get(base + "/practice/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
}
