package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
	"github.com/capitalize-ai/guarded-chat/pkg/metrics"
)

// ProfileService owns the read-modify-write cycle of user profiles.
type ProfileService struct {
	profiles store.ProfileStore
	logger   *logger.Logger
	now      func() time.Time
}

// NewProfileService creates a profile service.
func NewProfileService(profiles store.ProfileStore, log *logger.Logger) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the stored profile or model.ErrNotFound.
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	return s.profiles.GetProfile(ctx, userID)
}

// GetOrCreate returns the user's profile, creating the defaults on first
// contact. Concurrent first contacts create the profile exactly once.
func (s *ProfileService) GetOrCreate(ctx context.Context, userID string) (*model.UserProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	fresh := model.NewDefaultProfile(userID, s.now())
	err = s.profiles.CreateProfile(ctx, fresh)
	switch {
	case err == nil:
		s.logger.Info("created profile", zap.String("user_id", userID))
		return fresh, nil
	case errors.Is(err, model.ErrAlreadyExists):
		return s.profiles.GetProfile(ctx, userID)
	default:
		return nil, err
	}
}

// Update applies the fields of patch that differ from the stored profile.
// An empty patch, or one that changes nothing, performs no write and
// returns the current profile. A stale write returns
// model.ErrConcurrencyConflict; callers decide whether to retry.
func (s *ProfileService) Update(ctx context.Context, userID string, patch model.ProfilePatch) (*model.UserProfile, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	current, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !patch.HasChanges() {
		metrics.RecordProfileUpdate("noop")
		return current, nil
	}

	next := current.Clone()
	if !patch.ApplyTo(next) {
		metrics.RecordProfileUpdate("noop")
		return current, nil
	}
	next.UpdatedAt = s.now()

	if err := s.profiles.UpdateProfile(ctx, next); err != nil {
		if errors.Is(err, model.ErrConcurrencyConflict) {
			metrics.RecordProfileUpdate("conflict")
		} else {
			metrics.RecordProfileUpdate("error")
		}
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}

	metrics.RecordProfileUpdate("applied")
	s.logger.Info("profile updated",
		zap.String("user_id", userID),
		zap.Int64("version", next.Version),
	)
	return next, nil
}
