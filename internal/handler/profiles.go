package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/guarded-chat/internal/middleware"
	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// ScopeProfilesAdmin lets a token read and patch any user's profile.
const ScopeProfilesAdmin = "profiles:admin"

// ProfileHandler handles profile endpoints.
type ProfileHandler struct {
	profiles *service.ProfileService
	logger   *logger.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(profiles *service.ProfileService, log *logger.Logger) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		logger:   log,
	}
}

// ProfileResponse is the client view of a profile.
type ProfileResponse struct {
	UserID    string                `json:"userId"`
	Version   int64                 `json:"version"`
	UpdatedAt time.Time             `json:"updatedAt"`
	Summary   *model.ProfileSummary `json:"profile"`
}

func profileResponse(p *model.UserProfile) ProfileResponse {
	return ProfileResponse{
		UserID:    p.UserID,
		Version:   p.Version,
		UpdatedAt: p.UpdatedAt,
		Summary:   p.Summary(),
	}
}

// authorize allows the profile owner and admin tokens.
func (h *ProfileHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "userId")
	if err := middleware.ValidateUserID(userID, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if middleware.GetUserID(r.Context()) != userID && !middleware.HasScope(r.Context(), ScopeProfilesAdmin) {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return "", false
	}
	return userID, true
}

// Get handles GET /api/v1/profiles/{userId}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	profile, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(profile))
}

// Patch handles PATCH /api/v1/profiles/{userId}
func (h *ProfileHandler) Patch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var patch model.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.profiles.Update(r.Context(), userID, patch)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(profile))
}
