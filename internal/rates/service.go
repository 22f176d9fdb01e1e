package rates

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// RuleSource loads the active rules of a company and scope.
type RuleSource interface {
	ListActiveRules(ctx context.Context, companyID uuid.UUID, scope Scope) ([]Rule, error)
}

// Service resolves corporate prices against cached rule sets.
type Service struct {
	source RuleSource
	cache  *RuleCache
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService builds the rate service. cache may be nil.
func NewService(source RuleSource, cache *RuleCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Resolve prices one billable item. A zero AsOf means now.
func (s *Service) Resolve(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.AsOf.IsZero() {
		req.AsOf = s.now()
	}
	rules, err := s.rules(ctx, req.CompanyID, req.Scope)
	if err != nil {
		return Result{}, err
	}
	return Resolve(rules, req), nil
}

// InvalidateRules drops every cached rule set after an administrative edit.
func (s *Service) InvalidateRules(ctx context.Context) error {
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("rate rule cache invalidated", slog.Int64("version", ver))
	return nil
}

func (s *Service) rules(ctx context.Context, companyID uuid.UUID, scope Scope) ([]Rule, error) {
	key, err := s.cache.Key(ctx, companyID, scope)
	if err != nil {
		s.logger.Warn("rate cache unavailable", slog.Any("error", err))
		return s.source.ListActiveRules(ctx, companyID, scope)
	}
	resultChan := s.group.DoChan(key, func() (interface{}, error) {
		return s.cache.FetchRules(ctx, key, func(ctx context.Context) ([]Rule, error) {
			return s.source.ListActiveRules(ctx, companyID, scope)
		})
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Rule), nil
	}
}
