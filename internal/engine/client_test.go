package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestClientEvaluate_ParsesLines(t *testing.T) {
	var gotReq evalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lines":[
			{"score":{"cp":42},"pv":["E2E4","e7e5"]},
			{"score":{"mate":2},"pv":["d2d4"]},
			{"score":{"mate":-1},"pv":["g1f3"]},
			{"score":{"cp":0},"pv":[]}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTimeout(2*time.Second))
	eval, err := c.Evaluate(context.Background(), testFEN, 12, 3)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if gotReq.FEN != testFEN || gotReq.Depth != 12 || gotReq.MultiPV != 3 {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
	if eval.ScoreCP != 42 {
		t.Fatalf("ScoreCP = %d", eval.ScoreCP)
	}
	if len(eval.Candidates) != 3 {
		t.Fatalf("expected empty-pv line dropped, got %d candidates", len(eval.Candidates))
	}
	if eval.Candidates[0].MoveUCI != "e2e4" {
		t.Fatalf("top move = %q, want lowercased e2e4", eval.Candidates[0].MoveUCI)
	}
	if eval.Candidates[1].ScoreCP != MateScoreCP || eval.Candidates[2].ScoreCP != -MateScoreCP {
		t.Fatalf("mate clamping: %d / %d", eval.Candidates[1].ScoreCP, eval.Candidates[2].ScoreCP)
	}
}

func TestClientEvaluate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"lines":[{"score":{"cp":-7},"pv":["e2e4"]}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTimeout(2*time.Second), WithRetry(3))
	eval, err := c.Evaluate(context.Background(), testFEN, 12, 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.ScoreCP != -7 {
		t.Fatalf("ScoreCP = %d", eval.ScoreCP)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestClientEvaluate_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	_, err := c.Evaluate(context.Background(), "not a fen", 12, 1)
	if !errors.Is(err, ErrEvalFailed) {
		t.Fatalf("expected ErrEvalFailed, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestClientEvaluate_EmptyLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lines":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Evaluate(context.Background(), testFEN, 12, 3); !errors.Is(err, ErrEvalFailed) {
		t.Fatalf("expected ErrEvalFailed, got %v", err)
	}
}
