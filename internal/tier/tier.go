// Package tier resolves account tiers to analysis limits.
package tier

import (
	"strings"

	"github.com/chessblunders/analysis-core/internal/config"
	"github.com/chessblunders/analysis-core/internal/domain"
)

// Service answers tier questions for a user.
type Service interface {
	IsPremium(userID string) bool
	LimitsFor(userID string) domain.TierLimits
}

// ConfigService is a Service backed by the static premium list in the app
// config.
type ConfigService struct {
	premium map[string]struct{}
	free    domain.TierLimits
	paid    domain.TierLimits
}

func NewConfigService(cfg *config.AppConfig) *ConfigService {
	premium := make(map[string]struct{}, len(cfg.PremiumUsers))
	for _, u := range cfg.PremiumUsers {
		if s := strings.TrimSpace(u); s != "" {
			premium[s] = struct{}{}
		}
	}
	return &ConfigService{
		premium: premium,
		free:    domain.TierLimits{MaxDepth: cfg.FreeMaxDepth, RetentionLimit: cfg.FreeRetentionLimit},
		paid:    domain.TierLimits{MaxDepth: cfg.PremiumMaxDepth, RetentionLimit: 0},
	}
}

func (s *ConfigService) IsPremium(userID string) bool {
	_, ok := s.premium[strings.TrimSpace(userID)]
	return ok
}

func (s *ConfigService) LimitsFor(userID string) domain.TierLimits {
	if s.IsPremium(userID) {
		return s.paid
	}
	return s.free
}
