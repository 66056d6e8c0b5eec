package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// Bucket names.
const (
	ProfileBucket = "CHAT_PROFILES"
	DomainBucket  = "CHAT_DOMAINS"
)

// KVStore keeps profiles and allowed domains in JetStream key-value
// buckets. Profile updates are compare-and-swap on the entry revision.
type KVStore struct {
	profiles jetstream.KeyValue
	domains  jetstream.KeyValue
	logger   *logger.Logger
}

// NewKVStore opens (or creates) both buckets.
func NewKVStore(ctx context.Context, client *Client) (*KVStore, error) {
	profiles, err := client.keyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ProfileBucket,
		Description: "User conversational profiles",
		History:     5,
	})
	if err != nil {
		return nil, err
	}
	domains, err := client.keyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      DomainBucket,
		Description: "Allowed conversation domains",
		History:     1,
	})
	if err != nil {
		return nil, err
	}
	return &KVStore{profiles: profiles, domains: domains, logger: client.logger}, nil
}

// Backend assembles the JetStream backend.
func Backend(client *Client, streams *StreamManager, kv *KVStore) *store.Backend {
	return &store.Backend{
		Name:     "nats",
		Turns:    streams,
		Profiles: kv,
		Domains:  kv,
		Ping:     client.Ping,
	}
}

// kvKey maps an arbitrary string onto the key alphabet of a bucket.
func kvKey(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// GetProfile implements store.ProfileStore.
func (s *KVStore) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	profile, _, err := s.getProfile(ctx, userID)
	return profile, err
}

func (s *KVStore) getProfile(ctx context.Context, userID string) (*model.UserProfile, uint64, error) {
	entry, err := s.profiles.Get(ctx, kvKey(userID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("profile %s: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: get profile: %w", model.ErrPersistence, err)
	}

	var profile model.UserProfile
	if err := json.Unmarshal(entry.Value(), &profile); err != nil {
		return nil, 0, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &profile, entry.Revision(), nil
}

// CreateProfile implements store.ProfileStore.
func (s *KVStore) CreateProfile(ctx context.Context, profile *model.UserProfile) error {
	profile.Version = 0
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = s.profiles.Create(ctx, kvKey(profile.UserID), data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("profile %s: %w", profile.UserID, model.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("%w: create profile: %w", model.ErrPersistence, err)
	}
	return nil
}

// UpdateProfile implements store.ProfileStore.
func (s *KVStore) UpdateProfile(ctx context.Context, profile *model.UserProfile) error {
	stored, revision, err := s.getProfile(ctx, profile.UserID)
	if err != nil {
		return err
	}
	if stored.Version != profile.Version {
		return fmt.Errorf("profile %s at version %d is stale: %w", profile.UserID, profile.Version, model.ErrConcurrencyConflict)
	}

	next := profile.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if _, err := s.profiles.Update(ctx, kvKey(profile.UserID), data, revision); err != nil {
		// A concurrent writer moves the revision; anything else is a failure.
		entry, getErr := s.profiles.Get(ctx, kvKey(profile.UserID))
		if getErr == nil && entry.Revision() != revision {
			return fmt.Errorf("profile %s at version %d is stale: %w", profile.UserID, profile.Version, model.ErrConcurrencyConflict)
		}
		return fmt.Errorf("%w: update profile: %w", model.ErrPersistence, err)
	}

	profile.Version = next.Version
	return nil
}

// ActiveKeywords implements store.DomainStore.
func (s *KVStore) ActiveKeywords(ctx context.Context) ([]string, error) {
	domains, err := s.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	var keywords []string
	for _, d := range domains {
		if d.Active {
			keywords = append(keywords, d.Keyword)
		}
	}
	return keywords, nil
}

// ListDomains implements store.DomainStore.
func (s *KVStore) ListDomains(ctx context.Context) ([]model.AllowedDomain, error) {
	keys, err := s.domains.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []model.AllowedDomain{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list domain keys: %w", model.ErrPersistence, err)
	}

	domains := make([]model.AllowedDomain, 0, len(keys))
	for _, key := range keys {
		entry, err := s.domains.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get domain: %w", model.ErrPersistence, err)
		}

		var d model.AllowedDomain
		if err := json.Unmarshal(entry.Value(), &d); err != nil {
			s.logger.Warn("skipping undecodable domain", zap.String("key", key), zap.Error(err))
			continue
		}
		domains = append(domains, d)
	}
	store.SortDomains(domains)
	return domains, nil
}

// CreateDomain implements store.DomainStore.
func (s *KVStore) CreateDomain(ctx context.Context, domain *model.AllowedDomain) error {
	data, err := json.Marshal(domain)
	if err != nil {
		return fmt.Errorf("failed to marshal domain: %w", err)
	}

	_, err = s.domains.Create(ctx, kvKey(domain.Keyword), data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("domain %q: %w", domain.Keyword, model.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("%w: create domain: %w", model.ErrPersistence, err)
	}
	return nil
}

// SetDomainActive implements store.DomainStore.
func (s *KVStore) SetDomainActive(ctx context.Context, keyword string, active bool) error {
	entry, err := s.domains.Get(ctx, kvKey(keyword))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("domain %q: %w", keyword, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: get domain: %w", model.ErrPersistence, err)
	}

	var d model.AllowedDomain
	if err := json.Unmarshal(entry.Value(), &d); err != nil {
		return fmt.Errorf("decode domain %q: %w", keyword, err)
	}
	d.Active = active
	d.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal domain: %w", err)
	}
	if _, err := s.domains.Update(ctx, kvKey(keyword), data, entry.Revision()); err != nil {
		return fmt.Errorf("%w: update domain: %w", model.ErrPersistence, err)
	}
	return nil
}

// DeleteDomain implements store.DomainStore.
func (s *KVStore) DeleteDomain(ctx context.Context, keyword string) error {
	if _, err := s.domains.Get(ctx, kvKey(keyword)); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("domain %q: %w", keyword, model.ErrNotFound)
		}
		return fmt.Errorf("%w: get domain: %w", model.ErrPersistence, err)
	}
	if err := s.domains.Delete(ctx, kvKey(keyword)); err != nil {
		return fmt.Errorf("%w: delete domain: %w", model.ErrPersistence, err)
	}
	return nil
}

// WatchDomains calls onChange after every write to the domain bucket made
// by any process, until ctx is cancelled.
func (s *KVStore) WatchDomains(ctx context.Context, onChange func()) error {
	watcher, err := s.domains.WatchAll(ctx)
	if err != nil {
		return fmt.Errorf("watch domains: %w", err)
	}
	defer watcher.Stop()

	// Entries before the first nil are the current values.
	initialized := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-watcher.Updates():
			if !ok {
				return nil
			}
			if entry == nil {
				initialized = true
				continue
			}
			if initialized {
				s.logger.Debug("allowed domain changed",
					zap.String("key", entry.Key()),
					zap.String("op", entry.Operation().String()))
				onChange()
			}
		}
	}
}
