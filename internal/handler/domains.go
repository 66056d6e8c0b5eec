package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/guarded-chat/internal/middleware"
	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// ScopeDomainsWrite is required to change the allowed domains.
const ScopeDomainsWrite = "domains:write"

// DomainHandler administers allowed domains.
type DomainHandler struct {
	domains *service.DomainService
	logger  *logger.Logger
}

// NewDomainHandler creates a new domain handler.
func NewDomainHandler(domains *service.DomainService, log *logger.Logger) *DomainHandler {
	return &DomainHandler{
		domains: domains,
		logger:  log,
	}
}

// DomainListResponse wraps a domain listing.
type DomainListResponse struct {
	Domains []model.AllowedDomain `json:"domains"`
}

// SetActiveRequest toggles a domain.
type SetActiveRequest struct {
	Active *bool `json:"active"`
}

func keywordParam(r *http.Request) (string, error) {
	keyword, err := url.PathUnescape(chi.URLParam(r, "keyword"))
	if err != nil {
		return "", err
	}
	return keyword, middleware.ValidateKeyword(keyword)
}

// List handles GET /api/v1/domains
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		domains []model.AllowedDomain
		err     error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		domains, err = h.domains.ListByCategory(r.Context(), category)
	} else {
		domains, err = h.domains.List(r.Context())
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DomainListResponse{Domains: domains})
}

// Create handles POST /api/v1/domains
func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateDomainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateKeyword(req.Keyword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	domain, err := h.domains.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain)
}

// SetActive handles PUT /api/v1/domains/{keyword}/active
func (h *DomainHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	keyword, err := keywordParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keyword")
		return
	}

	var req SetActiveRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, "active flag is required")
		return
	}

	if err := h.domains.SetActive(r.Context(), keyword, *req.Active); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/domains/{keyword}
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	keyword, err := keywordParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keyword")
		return
	}

	if err := h.domains.Delete(r.Context(), keyword); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCache handles POST /api/v1/domains/cache/clear
func (h *DomainHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.domains.ClearCache(r.Context()); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
