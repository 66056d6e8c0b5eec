package model

import (
	"fmt"
	"slices"
	"time"
	"unicode/utf8"
)

// MaxStyleNotesLength is the hard cap, in characters, on stored style notes.
const MaxStyleNotesLength = 500

// DefaultLanguage is assigned to profiles created on first contact.
const DefaultLanguage = "es-EC"

// Tone is the conversational register preferred by a user.
type Tone string

const (
	ToneWarm    Tone = "WARM"
	ToneNeutral Tone = "NEUTRAL"
	ToneFormal  Tone = "FORMAL"
	ToneFunny   Tone = "FUNNY"
)

// Tones lists every Tone value.
func Tones() []Tone { return []Tone{ToneWarm, ToneNeutral, ToneFormal, ToneFunny} }

// Valid reports whether t is a known tone.
func (t Tone) Valid() bool { return slices.Contains(Tones(), t) }

// Verbosity controls answer length.
type Verbosity string

const (
	VerbosityShort    Verbosity = "SHORT"
	VerbosityMedium   Verbosity = "MEDIUM"
	VerbosityDetailed Verbosity = "DETAILED"
)

// Verbosities lists every Verbosity value.
func Verbosities() []Verbosity {
	return []Verbosity{VerbosityShort, VerbosityMedium, VerbosityDetailed}
}

// Valid reports whether v is a known verbosity.
func (v Verbosity) Valid() bool { return slices.Contains(Verbosities(), v) }

// EmojiPreference controls how many emojis the assistant uses.
type EmojiPreference string

const (
	EmojiNone  EmojiPreference = "NONE"
	EmojiLight EmojiPreference = "LIGHT"
	EmojiHeavy EmojiPreference = "HEAVY"
)

// EmojiPreferences lists every EmojiPreference value.
func EmojiPreferences() []EmojiPreference {
	return []EmojiPreference{EmojiNone, EmojiLight, EmojiHeavy}
}

// Valid reports whether e is a known emoji preference.
func (e EmojiPreference) Valid() bool { return slices.Contains(EmojiPreferences(), e) }

// ResponseFormat is the optional preferred layout of answers.
type ResponseFormat string

const (
	FormatSteps  ResponseFormat = "STEPS"
	FormatList   ResponseFormat = "LIST"
	FormatDirect ResponseFormat = "DIRECT"
)

// ResponseFormats lists every ResponseFormat value.
func ResponseFormats() []ResponseFormat {
	return []ResponseFormat{FormatSteps, FormatList, FormatDirect}
}

// Valid reports whether f is a known format.
func (f ResponseFormat) Valid() bool { return slices.Contains(ResponseFormats(), f) }

// ResponseSpeed is the optional preference between quick and explained answers.
type ResponseSpeed string

const (
	SpeedQuick     ResponseSpeed = "QUICK"
	SpeedExplained ResponseSpeed = "EXPLAINED"
)

// ResponseSpeeds lists every ResponseSpeed value.
func ResponseSpeeds() []ResponseSpeed { return []ResponseSpeed{SpeedQuick, SpeedExplained} }

// Valid reports whether s is a known speed.
func (s ResponseSpeed) Valid() bool { return slices.Contains(ResponseSpeeds(), s) }

// UserProfile holds the behavioral preferences learned for one user.
// Format and Speed are optional; the empty value means "no preference".
type UserProfile struct {
	UserID           string          `json:"userId"`
	Language         string          `json:"language"`
	Tone             Tone            `json:"tone"`
	Verbosity        Verbosity       `json:"verbosity"`
	Emoji            EmojiPreference `json:"emojiPreference"`
	StyleNotes       string          `json:"styleNotes,omitempty"`
	CurrentObjective string          `json:"currentObjective,omitempty"`
	Format           ResponseFormat  `json:"preferredFormat,omitempty"`
	Speed            ResponseSpeed   `json:"responseSpeed,omitempty"`
	PastDecisions    []string        `json:"pastDecisions,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Version          int64           `json:"version"`
}

// NewDefaultProfile returns the profile assigned to a user on first contact.
func NewDefaultProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:    userID,
		Language:  DefaultLanguage,
		Tone:      ToneWarm,
		Verbosity: VerbosityMedium,
		Emoji:     EmojiLight,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of p.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.PastDecisions = slices.Clone(p.PastDecisions)
	return &c
}

// Summary projects the preference fields returned to clients.
func (p *UserProfile) Summary() *ProfileSummary {
	if p == nil {
		return nil
	}
	return &ProfileSummary{
		Language:         p.Language,
		Tone:             p.Tone,
		Verbosity:        p.Verbosity,
		Emoji:            p.Emoji,
		Format:           p.Format,
		Speed:            p.Speed,
		CurrentObjective: p.CurrentObjective,
	}
}

// ProfileSummary is the client-facing projection of a UserProfile.
type ProfileSummary struct {
	Language         string          `json:"language"`
	Tone             Tone            `json:"tone"`
	Verbosity        Verbosity       `json:"verbosity"`
	Emoji            EmojiPreference `json:"emojiPreference"`
	Format           ResponseFormat  `json:"preferredFormat,omitempty"`
	Speed            ResponseSpeed   `json:"responseSpeed,omitempty"`
	CurrentObjective string          `json:"currentObjective,omitempty"`
}

// ProfilePatch is a sparse set of proposed profile changes. A nil field
// means "leave unchanged".
type ProfilePatch struct {
	Language         *string          `json:"language,omitempty"`
	Tone             *Tone            `json:"tone,omitempty"`
	Verbosity        *Verbosity       `json:"verbosity,omitempty"`
	Emoji            *EmojiPreference `json:"emojiPreference,omitempty"`
	StyleNotes       *string          `json:"styleNotes,omitempty"`
	CurrentObjective *string          `json:"currentObjective,omitempty"`
	Format           *ResponseFormat  `json:"preferredFormat,omitempty"`
	Speed            *ResponseSpeed   `json:"responseSpeed,omitempty"`
	PastDecisions    []string         `json:"pastDecisions,omitempty"`
}

// HasChanges reports whether at least one field is set.
func (p ProfilePatch) HasChanges() bool {
	return p.Language != nil ||
		p.Tone != nil ||
		p.Verbosity != nil ||
		p.Emoji != nil ||
		p.StyleNotes != nil ||
		p.CurrentObjective != nil ||
		p.Format != nil ||
		p.Speed != nil ||
		p.PastDecisions != nil
}

// Validate rejects enum values outside their closed sets.
func (p ProfilePatch) Validate() error {
	switch {
	case p.Tone != nil && !p.Tone.Valid():
		return fmt.Errorf("%w: unknown tone %q", ErrValidation, *p.Tone)
	case p.Verbosity != nil && !p.Verbosity.Valid():
		return fmt.Errorf("%w: unknown verbosity %q", ErrValidation, *p.Verbosity)
	case p.Emoji != nil && !p.Emoji.Valid():
		return fmt.Errorf("%w: unknown emoji preference %q", ErrValidation, *p.Emoji)
	case p.Format != nil && !p.Format.Valid():
		return fmt.Errorf("%w: unknown format %q", ErrValidation, *p.Format)
	case p.Speed != nil && !p.Speed.Valid():
		return fmt.Errorf("%w: unknown response speed %q", ErrValidation, *p.Speed)
	}
	return nil
}

// ApplyTo copies every set field that differs from the current value into
// profile and reports whether anything changed. Style notes are truncated
// to MaxStyleNotesLength characters. Version and UpdatedAt are left to the
// store.
func (p ProfilePatch) ApplyTo(profile *UserProfile) bool {
	changed := false

	if p.Language != nil && *p.Language != profile.Language {
		profile.Language = *p.Language
		changed = true
	}
	if p.Tone != nil && *p.Tone != profile.Tone {
		profile.Tone = *p.Tone
		changed = true
	}
	if p.Verbosity != nil && *p.Verbosity != profile.Verbosity {
		profile.Verbosity = *p.Verbosity
		changed = true
	}
	if p.Emoji != nil && *p.Emoji != profile.Emoji {
		profile.Emoji = *p.Emoji
		changed = true
	}
	if p.StyleNotes != nil {
		notes := TruncateRunes(*p.StyleNotes, MaxStyleNotesLength)
		if notes != profile.StyleNotes {
			profile.StyleNotes = notes
			changed = true
		}
	}
	if p.CurrentObjective != nil && *p.CurrentObjective != profile.CurrentObjective {
		profile.CurrentObjective = *p.CurrentObjective
		changed = true
	}
	if p.Format != nil && *p.Format != profile.Format {
		profile.Format = *p.Format
		changed = true
	}
	if p.Speed != nil && *p.Speed != profile.Speed {
		profile.Speed = *p.Speed
		changed = true
	}
	if p.PastDecisions != nil && !slices.Equal(p.PastDecisions, profile.PastDecisions) {
		profile.PastDecisions = slices.Clone(p.PastDecisions)
		changed = true
	}

	return changed
}

// TruncateRunes cuts s to at most n characters.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
