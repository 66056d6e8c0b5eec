// Package store defines the persistence collaborators used by the chat
// pipeline and an in-memory implementation of each.
package store

import (
	"context"

	"github.com/capitalize-ai/guarded-chat/internal/model"
)

// TurnStore is an append-only log of conversation turns.
type TurnStore interface {
	// AppendTurn persists an immutable turn.
	AppendTurn(ctx context.Context, turn *model.ConversationTurn) error
	// RecentTurns returns up to limit turns of a conversation, newest first
	// by creation time.
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]model.ConversationTurn, error)
}

// ProfileStore persists one versioned profile per user id.
type ProfileStore interface {
	// GetProfile returns model.ErrNotFound when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	// CreateProfile stores a new profile at version 0. It returns
	// model.ErrAlreadyExists when another writer created it first.
	CreateProfile(ctx context.Context, profile *model.UserProfile) error
	// UpdateProfile writes profile only if the stored version still equals
	// profile.Version, then increments profile.Version. A stale version
	// returns model.ErrConcurrencyConflict.
	UpdateProfile(ctx context.Context, profile *model.UserProfile) error
}

// DomainStore holds the allowed-topic keywords.
type DomainStore interface {
	ActiveKeywords(ctx context.Context) ([]string, error)
	ListDomains(ctx context.Context) ([]model.AllowedDomain, error)
	// CreateDomain returns model.ErrAlreadyExists for a duplicate keyword.
	CreateDomain(ctx context.Context, domain *model.AllowedDomain) error
	// SetDomainActive and DeleteDomain return model.ErrNotFound for an
	// unknown keyword.
	SetDomainActive(ctx context.Context, keyword string, active bool) error
	DeleteDomain(ctx context.Context, keyword string) error
}

// Backend bundles the stores of one storage engine.
type Backend struct {
	Name     string
	Turns    TurnStore
	Profiles ProfileStore
	Domains  DomainStore
	// Ping reports whether the engine is reachable; nil means always ready.
	Ping func(ctx context.Context) error
}
