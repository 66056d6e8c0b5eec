package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// CacheInvalidator drops cached keyword lists.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// DomainService administers the allowed-topic keywords.
type DomainService struct {
	domains store.DomainStore
	cache   CacheInvalidator
	logger  *logger.Logger
	now     func() time.Time
}

// NewDomainService creates a domain service.
func NewDomainService(domains store.DomainStore, cache CacheInvalidator, log *logger.Logger) *DomainService {
	return &DomainService{
		domains: domains,
		cache:   cache,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns every domain, active or not.
func (s *DomainService) List(ctx context.Context) ([]model.AllowedDomain, error) {
	return s.domains.ListDomains(ctx)
}

// ListByCategory returns the domains of one category, compared without case.
func (s *DomainService) ListByCategory(ctx context.Context, category string) ([]model.AllowedDomain, error) {
	all, err := s.domains.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.AllowedDomain, 0, len(all))
	for _, d := range all {
		if strings.EqualFold(d.Category, strings.TrimSpace(category)) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Create registers an active keyword. Keywords are stored lower-cased.
func (s *DomainService) Create(ctx context.Context, req model.CreateDomainRequest) (*model.AllowedDomain, error) {
	keyword := strings.ToLower(strings.TrimSpace(req.Keyword))
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is required", model.ErrValidation)
	}

	now := s.now()
	domain := &model.AllowedDomain{
		Keyword:     keyword,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.domains.CreateDomain(ctx, domain); err != nil {
		return nil, err
	}

	s.logger.Info("allowed domain created", zap.String("keyword", keyword))
	s.invalidate(ctx)
	return domain, nil
}

// SetActive activates or deactivates a keyword.
func (s *DomainService) SetActive(ctx context.Context, keyword string, active bool) error {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if err := s.domains.SetDomainActive(ctx, keyword, active); err != nil {
		return err
	}
	s.logger.Info("allowed domain toggled", zap.String("keyword", keyword), zap.Bool("active", active))
	s.invalidate(ctx)
	return nil
}

// Delete removes a keyword.
func (s *DomainService) Delete(ctx context.Context, keyword string) error {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if err := s.domains.DeleteDomain(ctx, keyword); err != nil {
		return err
	}
	s.logger.Info("allowed domain deleted", zap.String("keyword", keyword))
	s.invalidate(ctx)
	return nil
}

// ClearCache forces the next keyword read to hit storage.
func (s *DomainService) ClearCache(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("clear keyword cache: %w", err)
	}
	return nil
}

// invalidate only logs failures; the local cache is dropped regardless.
func (s *DomainService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("keyword cache invalidation failed", zap.Error(err))
	}
}
