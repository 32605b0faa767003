// Package builder wires configuration into the service graph.
package builder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chessblunders/analysis-core/internal/analysis"
	"github.com/chessblunders/analysis-core/internal/config"
	"github.com/chessblunders/analysis-core/internal/engine"
	"github.com/chessblunders/analysis-core/internal/practice"
	"github.com/chessblunders/analysis-core/internal/tier"
	"github.com/chessblunders/analysis-core/internal/usage"
	"github.com/chessblunders/analysis-core/migrations"
)

type Deps struct {
	DB    *sql.DB
	Redis *redis.Client

	Repo         analysis.Repository
	Orchestrator *analysis.Orchestrator
	Watchdog     *analysis.Watchdog
	Practice     *practice.Service
	Usage        *usage.Counter
	Tiers        tier.Service
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.Up(db); err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	usageCounter := usage.NewCounter(rdb)
	tiers := tier.NewConfigService(cfg)

	evalClient := engine.NewClient(cfg.EvaluatorURL, engine.WithTimeout(cfg.EvaluatorTimeout()))
	classifier := analysis.Classifier{
		ThresholdCP:   cfg.BlunderThresholdCP,
		SkipCeilingCP: cfg.SkipCeilingCP,
	}
	analyzer := analysis.NewGameAnalyzer(evalClient, usageCounter, classifier, cfg.CandidateCount, logger)

	repo := analysis.NewRepository(db)
	orch := analysis.NewOrchestrator(repo, analyzer, tiers, cfg.BlunderThresholdCP, cfg.BatchSize, logger)

	watchdog, err := analysis.NewWatchdog(repo, cfg.WatchdogSchedule, cfg.JobStaleAfter(), logger)
	if err != nil {
		return nil, fmt.Errorf("init watchdog: %w", err)
	}

	practiceSvc := practice.NewService(practice.NewRepository(db), logger)

	return &Deps{
		DB:           db,
		Redis:        rdb,
		Repo:         repo,
		Orchestrator: orch,
		Watchdog:     watchdog,
		Practice:     practiceSvc,
		Usage:        usageCounter,
		Tiers:        tiers,
	}, nil
}

func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
