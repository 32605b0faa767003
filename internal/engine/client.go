package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/chessblunders/analysis-core/internal/domain"
)

// ErrEvalFailed marks an evaluator call that produced no usable result after
// retries. Analysis treats the affected ply as skipped, not fatal.
var ErrEvalFailed = errors.New("engine evaluation failed")

// Evaluator scores a single position.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string, depth, multiPV int) (*domain.Evaluation, error)
}

type evalRequest struct {
	FEN     string `json:"fen"`
	Depth   int    `json:"depth"`
	MultiPV int    `json:"multipv"`
}

type wireScore struct {
	CP   *int `json:"cp,omitempty"`
	Mate *int `json:"mate,omitempty"`
}

type wireLine struct {
	Score wireScore `json:"score"`
	PV    []string  `json:"pv"`
}

type evalResponse struct {
	Lines []wireLine `json:"lines"`
}

// Client is a fasthttp-backed Evaluator.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 30 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate posts one position and normalizes the ranked lines into an
// Evaluation. Mate scores are clamped at this boundary; everything past it
// works in plain centipawns.
func (c *Client) Evaluate(ctx context.Context, fen string, depth, multiPV int) (*domain.Evaluation, error) {
	var out evalResponse
	in := evalRequest{FEN: fen, Depth: depth, MultiPV: multiPV}
	if err := c.doJSON(ctx, "/evaluate", in, &out); err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(out.Lines))
	for _, line := range out.Lines {
		if len(line.PV) == 0 {
			continue
		}
		score, err := line.Score.toScore()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEvalFailed, err)
		}
		candidates = append(candidates, domain.Candidate{
			MoveUCI:      strings.ToLower(line.PV[0]),
			ScoreCP:      score.Clamped(),
			Continuation: line.PV,
		})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no lines returned", ErrEvalFailed)
	}
	return &domain.Evaluation{ScoreCP: candidates[0].ScoreCP, Candidates: candidates}, nil
}

func (s wireScore) toScore() (Score, error) {
	switch {
	case s.Mate != nil:
		return MateIn(*s.Mate), nil
	case s.CP != nil:
		return Centipawns(*s.CP), nil
	default:
		return Score{}, errors.New("line score has neither cp nor mate")
	}
}

func (c *Client) doJSON(ctx context.Context, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := c.computeDeadline(ctx)
		if err := c.http.DoDeadline(req, resp, deadline); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrEvalFailed, err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("%w: status=%d body=%s", ErrEvalFailed, status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrEvalFailed, err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
