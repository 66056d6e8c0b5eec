package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
)

// SQLStore implements the turn, profile and domain stores on database/sql.
// Queries use "?" placeholders, which both SQLite and MySQL accept.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open, migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Backend exposes s through every store interface.
func (s *SQLStore) Backend(driver string) *store.Backend {
	return &store.Backend{
		Name:     driver,
		Turns:    s,
		Profiles: s,
		Domains:  s,
		Ping:     s.db.PingContext,
	}
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrPersistence, op, err)
}

// AppendTurn implements store.TurnStore.
func (s *SQLStore) AppendTurn(ctx context.Context, t *model.ConversationTurn) error {
	replies, err := json.Marshal(nonNil(t.QuickReplies))
	if err != nil {
		return fmt.Errorf("encode quick replies: %w", err)
	}

	var temperature sql.NullFloat64
	if t.Temperature != nil {
		temperature = sql.NullFloat64{Float64: *t.Temperature, Valid: true}
	}
	var prompt, completion, total sql.NullInt64
	if t.Usage != nil {
		prompt = sql.NullInt64{Int64: int64(t.Usage.PromptTokens), Valid: true}
		completion = sql.NullInt64{Int64: int64(t.Usage.CompletionTokens), Valid: true}
		total = sql.NullInt64{Int64: int64(t.Usage.TotalTokens), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO conversation_turns (
			id, conversation_id, user_id, domain_id, event_id, user_message, assistant_response,
			model, temperature, prompt_tokens, completion_tokens, total_tokens,
			guardrail_action, guardrail_reason, quick_replies, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.UserID, t.DomainID, t.EventID, t.UserMessage, t.AssistantResponse,
		t.Model, temperature, prompt, completion, total,
		string(t.GuardrailAction), string(t.GuardrailReason), string(replies), t.CreatedAt.UTC(),
	)
	if err != nil {
		return persistenceErr("insert turn", err)
	}
	return nil
}

// RecentTurns implements store.TurnStore.
func (s *SQLStore) RecentTurns(ctx context.Context, conversationID string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
			id, conversation_id, user_id, domain_id, event_id, user_message, assistant_response,
			model, temperature, prompt_tokens, completion_tokens, total_tokens,
			guardrail_action, guardrail_reason, quick_replies, created_at
		FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, persistenceErr("query turns", err)
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var (
			t                         model.ConversationTurn
			action, reason, replies   string
			temperature               sql.NullFloat64
			prompt, completion, total sql.NullInt64
		)
		if err := rows.Scan(
			&t.ID, &t.ConversationID, &t.UserID, &t.DomainID, &t.EventID, &t.UserMessage, &t.AssistantResponse,
			&t.Model, &temperature, &prompt, &completion, &total,
			&action, &reason, &replies, &t.CreatedAt,
		); err != nil {
			return nil, persistenceErr("scan turn", err)
		}
		t.GuardrailAction = model.GuardrailAction(action)
		t.GuardrailReason = model.GuardrailReason(reason)
		if temperature.Valid {
			v := temperature.Float64
			t.Temperature = &v
		}
		if total.Valid {
			t.Usage = &model.TokenUsage{
				PromptTokens:     int(prompt.Int64),
				CompletionTokens: int(completion.Int64),
				TotalTokens:      int(total.Int64),
			}
		}
		if err := json.Unmarshal([]byte(replies), &t.QuickReplies); err != nil {
			return nil, fmt.Errorf("decode quick replies of turn %s: %w", t.ID, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate turns", err)
	}
	return turns, nil
}

// GetProfile implements store.ProfileStore.
func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	var (
		p                                 model.UserProfile
		tone, verbosity, emoji, format, speed string
		decisions                         string
	)
	err := s.db.QueryRowContext(ctx, `SELECT
			user_id, language, tone, verbosity, emoji_preference, style_notes, current_objective,
			preferred_format, response_speed, past_decisions, updated_at, version
		FROM user_profiles WHERE user_id = ?`, userID).Scan(
		&p.UserID, &p.Language, &tone, &verbosity, &emoji, &p.StyleNotes, &p.CurrentObjective,
		&format, &speed, &decisions, &p.UpdatedAt, &p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistenceErr("select profile", err)
	}

	p.Tone = model.Tone(tone)
	p.Verbosity = model.Verbosity(verbosity)
	p.Emoji = model.EmojiPreference(emoji)
	p.Format = model.ResponseFormat(format)
	p.Speed = model.ResponseSpeed(speed)
	if err := json.Unmarshal([]byte(decisions), &p.PastDecisions); err != nil {
		return nil, fmt.Errorf("decode past decisions of %s: %w", userID, err)
	}
	if len(p.PastDecisions) == 0 {
		p.PastDecisions = nil
	}
	return &p, nil
}

// CreateProfile implements store.ProfileStore.
func (s *SQLStore) CreateProfile(ctx context.Context, p *model.UserProfile) error {
	decisions, err := json.Marshal(nonNil(p.PastDecisions))
	if err != nil {
		return fmt.Errorf("encode past decisions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO user_profiles (
			user_id, language, tone, verbosity, emoji_preference, style_notes, current_objective,
			preferred_format, response_speed, past_decisions, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		p.UserID, p.Language, string(p.Tone), string(p.Verbosity), string(p.Emoji), p.StyleNotes, p.CurrentObjective,
		string(p.Format), string(p.Speed), string(decisions), p.UpdatedAt.UTC(),
	)
	if isDuplicate(err) {
		return fmt.Errorf("profile %s: %w", p.UserID, model.ErrAlreadyExists)
	}
	if err != nil {
		return persistenceErr("insert profile", err)
	}
	p.Version = 0
	return nil
}

// UpdateProfile implements store.ProfileStore with a version compare-and-swap.
func (s *SQLStore) UpdateProfile(ctx context.Context, p *model.UserProfile) error {
	decisions, err := json.Marshal(nonNil(p.PastDecisions))
	if err != nil {
		return fmt.Errorf("encode past decisions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE user_profiles SET
			language = ?, tone = ?, verbosity = ?, emoji_preference = ?, style_notes = ?,
			current_objective = ?, preferred_format = ?, response_speed = ?, past_decisions = ?,
			updated_at = ?, version = version + 1
		WHERE user_id = ? AND version = ?`,
		p.Language, string(p.Tone), string(p.Verbosity), string(p.Emoji), p.StyleNotes,
		p.CurrentObjective, string(p.Format), string(p.Speed), string(decisions),
		p.UpdatedAt.UTC(), p.UserID, p.Version,
	)
	if err != nil {
		return persistenceErr("update profile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("update profile", err)
	}
	if n == 0 {
		exists, err := s.exists(ctx, `SELECT COUNT(*) FROM user_profiles WHERE user_id = ?`, p.UserID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("profile %s: %w", p.UserID, model.ErrNotFound)
		}
		return fmt.Errorf("profile %s at version %d is stale: %w", p.UserID, p.Version, model.ErrConcurrencyConflict)
	}
	p.Version++
	return nil
}

// ActiveKeywords implements store.DomainStore.
func (s *SQLStore) ActiveKeywords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT keyword FROM allowed_domains WHERE active = ? ORDER BY keyword`, true)
	if err != nil {
		return nil, persistenceErr("query keywords", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, persistenceErr("scan keyword", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate keywords", err)
	}
	return out, nil
}

// ListDomains implements store.DomainStore.
func (s *SQLStore) ListDomains(ctx context.Context) ([]model.AllowedDomain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT keyword, category, description, active, created_at, updated_at
		FROM allowed_domains ORDER BY category, keyword`)
	if err != nil {
		return nil, persistenceErr("query domains", err)
	}
	defer rows.Close()

	out := []model.AllowedDomain{}
	for rows.Next() {
		var d model.AllowedDomain
		if err := rows.Scan(&d.Keyword, &d.Category, &d.Description, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, persistenceErr("scan domain", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate domains", err)
	}
	return out, nil
}

// CreateDomain implements store.DomainStore.
func (s *SQLStore) CreateDomain(ctx context.Context, d *model.AllowedDomain) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO allowed_domains
		(keyword, category, description, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.Keyword, d.Category, d.Description, d.Active, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("domain %q: %w", d.Keyword, model.ErrAlreadyExists)
	}
	if err != nil {
		return persistenceErr("insert domain", err)
	}
	return nil
}

// SetDomainActive implements store.DomainStore.
func (s *SQLStore) SetDomainActive(ctx context.Context, keyword string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE allowed_domains SET active = ?, updated_at = ? WHERE keyword = ?`,
		active, time.Now().UTC(), keyword)
	if err != nil {
		return persistenceErr("update domain", err)
	}
	return s.requireRow(ctx, res, keyword)
}

// DeleteDomain implements store.DomainStore.
func (s *SQLStore) DeleteDomain(ctx context.Context, keyword string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM allowed_domains WHERE keyword = ?`, keyword)
	if err != nil {
		return persistenceErr("delete domain", err)
	}
	return s.requireRow(ctx, res, keyword)
}

// requireRow maps "no affected rows" to ErrNotFound. MySQL reports zero
// affected rows when an UPDATE leaves values unchanged, so it re-checks.
func (s *SQLStore) requireRow(ctx context.Context, res sql.Result, keyword string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	exists, err := s.exists(ctx, `SELECT COUNT(*) FROM allowed_domains WHERE keyword = ?`, keyword)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("domain %q: %w", keyword, model.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, persistenceErr("count", err)
	}
	return n > 0, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
