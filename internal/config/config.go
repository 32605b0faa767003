package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	DatabaseURL  string `yaml:"database_url"`
	RedisURL     string `yaml:"redis_url"`
	EvaluatorURL string `yaml:"evaluator_url"`

	EvaluatorTimeoutSec int `yaml:"evaluator_timeout_sec"`

	BlunderThresholdCP int `yaml:"blunder_threshold_cp"`
	SkipCeilingCP      int `yaml:"skip_ceiling_cp"`
	CandidateCount     int `yaml:"candidate_count"`

	BatchSize int `yaml:"batch_size"`

	FreeMaxDepth       int `yaml:"free_max_depth"`
	FreeRetentionLimit int `yaml:"free_retention_limit"`
	PremiumMaxDepth    int `yaml:"premium_max_depth"`

	PremiumUsers []string `yaml:"premium_users"`

	WatchdogSchedule string `yaml:"watchdog_schedule"`
	JobStaleAfterSec int    `yaml:"job_stale_after_sec"`
}

func (c *AppConfig) EvaluatorTimeout() time.Duration {
	return time.Duration(c.EvaluatorTimeoutSec) * time.Second
}

func (c *AppConfig) JobStaleAfter() time.Duration {
	return time.Duration(c.JobStaleAfterSec) * time.Second
}

// Load reads configuration from an optional YAML file (CONFIG_FILE), with
// environment variables taking precedence over file values.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:          ":8080",
		EvaluatorTimeoutSec: 30,
		BlunderThresholdCP:  100,
		SkipCeilingCP:       0,
		CandidateCount:      3,
		BatchSize:           5,
		FreeMaxDepth:        12,
		FreeRetentionLimit:  100,
		PremiumMaxDepth:     25,
		WatchdogSchedule:    "*/5 * * * *",
		JobStaleAfterSec:    900,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("EVALUATOR_URL")); v != "" {
		cfg.EvaluatorURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WATCHDOG_SCHEDULE")); v != "" {
		cfg.WatchdogSchedule = v
	}
	if v := strings.TrimSpace(os.Getenv("PREMIUM_USERS")); v != "" {
		cfg.PremiumUsers = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.PremiumUsers = append(cfg.PremiumUsers, s)
			}
		}
	}

	intVars := []struct {
		env string
		dst *int
	}{
		{"EVALUATOR_TIMEOUT_SEC", &cfg.EvaluatorTimeoutSec},
		{"BLUNDER_THRESHOLD_CP", &cfg.BlunderThresholdCP},
		{"SKIP_CEILING_CP", &cfg.SkipCeilingCP},
		{"CANDIDATE_COUNT", &cfg.CandidateCount},
		{"BATCH_SIZE", &cfg.BatchSize},
		{"FREE_MAX_DEPTH", &cfg.FreeMaxDepth},
		{"FREE_RETENTION_LIMIT", &cfg.FreeRetentionLimit},
		{"PREMIUM_MAX_DEPTH", &cfg.PremiumMaxDepth},
		{"JOB_STALE_AFTER_SEC", &cfg.JobStaleAfterSec},
	}
	for _, iv := range intVars {
		if v := strings.TrimSpace(os.Getenv(iv.env)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iv.env, err)
			}
			*iv.dst = n
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.EvaluatorURL == "" {
		return nil, errors.New("EVALUATOR_URL is required")
	}
	if cfg.BlunderThresholdCP <= 0 {
		return nil, errors.New("blunder threshold must be positive")
	}
	if cfg.CandidateCount < 1 {
		return nil, errors.New("candidate count must be at least 1")
	}
	if cfg.BatchSize < 1 {
		return nil, errors.New("batch size must be at least 1")
	}

	return cfg, nil
}
