package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/capitalize-ai/guarded-chat/internal/model"
)

// Memory keeps everything in process. It backs tests and single-instance
// development runs.
type Memory struct {
	mu       sync.RWMutex
	turns    map[string][]model.ConversationTurn
	profiles map[string]*model.UserProfile
	domains  map[string]*model.AllowedDomain
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		turns:    make(map[string][]model.ConversationTurn),
		profiles: make(map[string]*model.UserProfile),
		domains:  make(map[string]*model.AllowedDomain),
	}
}

// Backend exposes m through every store interface.
func (m *Memory) Backend() *Backend {
	return &Backend{Name: "memory", Turns: m, Profiles: m, Domains: m}
}

// AppendTurn implements TurnStore.
func (m *Memory) AppendTurn(ctx context.Context, turn *model.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := *turn
	t.QuickReplies = slices.Clone(turn.QuickReplies)
	m.turns[turn.ConversationID] = append(m.turns[turn.ConversationID], t)
	return nil
}

// RecentTurns implements TurnStore.
func (m *Memory) RecentTurns(ctx context.Context, conversationID string, limit int) ([]model.ConversationTurn, error) {
	m.mu.RLock()
	turns := slices.Clone(m.turns[conversationID])
	m.mu.RUnlock()

	slices.Reverse(turns)
	SortNewestFirst(turns)
	if limit > 0 && len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

// SortNewestFirst orders turns by creation time, newest first.
func SortNewestFirst(turns []model.ConversationTurn) {
	slices.SortStableFunc(turns, func(a, b model.ConversationTurn) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// GetProfile implements ProfileStore.
func (m *Memory) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, model.ErrNotFound)
	}
	return p.Clone(), nil
}

// CreateProfile implements ProfileStore.
func (m *Memory) CreateProfile(ctx context.Context, profile *model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[profile.UserID]; ok {
		return fmt.Errorf("profile %s: %w", profile.UserID, model.ErrAlreadyExists)
	}
	profile.Version = 0
	m.profiles[profile.UserID] = profile.Clone()
	return nil
}

// UpdateProfile implements ProfileStore.
func (m *Memory) UpdateProfile(ctx context.Context, profile *model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.profiles[profile.UserID]
	if !ok {
		return fmt.Errorf("profile %s: %w", profile.UserID, model.ErrNotFound)
	}
	if current.Version != profile.Version {
		return fmt.Errorf("profile %s at version %d, write based on %d: %w",
			profile.UserID, current.Version, profile.Version, model.ErrConcurrencyConflict)
	}
	profile.Version++
	m.profiles[profile.UserID] = profile.Clone()
	return nil
}

// ActiveKeywords implements DomainStore.
func (m *Memory) ActiveKeywords(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, d := range m.domains {
		if d.Active {
			out = append(out, d.Keyword)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ListDomains implements DomainStore.
func (m *Memory) ListDomains(ctx context.Context) ([]model.AllowedDomain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.AllowedDomain, 0, len(m.domains))
	for _, d := range m.domains {
		out = append(out, *d)
	}
	SortDomains(out)
	return out, nil
}

// SortDomains orders domains by category, then keyword.
func SortDomains(domains []model.AllowedDomain) {
	slices.SortFunc(domains, func(a, b model.AllowedDomain) int {
		return cmp.Or(cmp.Compare(a.Category, b.Category), cmp.Compare(a.Keyword, b.Keyword))
	})
}

// CreateDomain implements DomainStore.
func (m *Memory) CreateDomain(ctx context.Context, domain *model.AllowedDomain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.domains[domain.Keyword]; ok {
		return fmt.Errorf("domain %q: %w", domain.Keyword, model.ErrAlreadyExists)
	}
	d := *domain
	m.domains[domain.Keyword] = &d
	return nil
}

// SetDomainActive implements DomainStore.
func (m *Memory) SetDomainActive(ctx context.Context, keyword string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.domains[keyword]
	if !ok {
		return fmt.Errorf("domain %q: %w", keyword, model.ErrNotFound)
	}
	d.Active = active
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteDomain implements DomainStore.
func (m *Memory) DeleteDomain(ctx context.Context, keyword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.domains[keyword]; !ok {
		return fmt.Errorf("domain %q: %w", keyword, model.ErrNotFound)
	}
	delete(m.domains, keyword)
	return nil
}
