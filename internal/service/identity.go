package service

import (
	"strings"

	"github.com/google/uuid"
)

// AnonymousPrefix marks user ids synthesized for callers without identity.
const AnonymousPrefix = "anon-"

// ResolveUserID returns candidate when it is non-blank, otherwise a fresh
// anonymous id. Anonymous ids are never merged into a later identity.
func ResolveUserID(candidate string) string {
	if id := strings.TrimSpace(candidate); id != "" {
		return id
	}
	return AnonymousPrefix + uuid.NewString()
}

// IsAnonymous reports whether userID was synthesized by ResolveUserID.
func IsAnonymous(userID string) bool {
	return strings.HasPrefix(userID, AnonymousPrefix)
}
