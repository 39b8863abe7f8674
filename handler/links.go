package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/admin"
	"github.com/shortenerhq/shortener/coordinator"
	"github.com/shortenerhq/shortener/linkstore"
	mw "github.com/shortenerhq/shortener/middleware"
)

// LinkHandler handles the tenant-scoped link management REST surface:
// create and the admin CRUD operations over an existing link.
type LinkHandler struct {
	coordinator *coordinator.Coordinator
	admin       *admin.Service
	logger      zerolog.Logger
}

// NewLinkHandler creates a new link handler.
func NewLinkHandler(coord *coordinator.Coordinator, adminSvc *admin.Service, logger zerolog.Logger) *LinkHandler {
	return &LinkHandler{
		coordinator: coord,
		admin:       adminSvc,
		logger:      logger.With().Str("handler", "links").Logger(),
	}
}

type createLinkRequest struct {
	URL        string         `json:"url"`
	CustomCode string         `json:"custom_code,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type linkResponse struct {
	ID           int64          `json:"id"`
	TenantID     int64          `json:"tenant_id"`
	Code         string         `json:"code"`
	OriginalURL  string         `json:"url"`
	CanonicalURL string         `json:"canonical_url"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	IsActive     bool           `json:"is_active"`
	ClickCount   int64          `json:"click_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func toLinkResponse(l *linkstore.ShortLink) linkResponse {
	return linkResponse{
		ID:           l.ID,
		TenantID:     l.TenantID,
		Code:         l.Code,
		OriginalURL:  l.OriginalURL,
		CanonicalURL: l.CanonicalURL,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
		ExpiresAt:    l.ExpiresAt,
		IsActive:     l.IsActive,
		ClickCount:   l.ClickCount,
		Metadata:     l.Metadata,
	}
}

// Create handles POST /v1/tenants/{tenant}/links.
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url field is required")
		return
	}

	result, err := h.coordinator.Create(r.Context(), coordinator.Request{
		TenantID:   mw.TenantID(r.Context()),
		RawURL:     req.URL,
		CustomCode: req.CustomCode,
		ExpiresAt:  req.ExpiresAt,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toLinkResponse(result.Link))
}

// List handles GET /v1/tenants/{tenant}/links.
func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	links, err := h.admin.List(r.Context(), mw.TenantID(r.Context()), page, pageSize)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	out := make([]linkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, toLinkResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"links": out, "total": len(out)})
}

// GetByID handles GET /v1/tenants/{tenant}/links/{id}.
func (h *LinkHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}

	link, err := h.admin.GetByID(r.Context(), mw.TenantID(r.Context()), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkResponse(link))
}

// GetByCode handles GET /v1/tenants/{tenant}/links/by-code/{code}.
func (h *LinkHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	link, err := h.admin.GetByCode(r.Context(), mw.TenantID(r.Context()), code)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkResponse(link))
}

type patchLinkRequest struct {
	IsActive  *bool          `json:"is_active,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UpdateMetadata handles PATCH /v1/tenants/{tenant}/links/{id}.
func (h *LinkHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}

	var req patchLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return
	}

	link, err := h.admin.UpdateMetadata(r.Context(), mw.TenantID(r.Context()), id, linkstore.MetadataPatch{
		IsActive:  req.IsActive,
		ExpiresAt: req.ExpiresAt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkResponse(link))
}

// SoftDelete handles DELETE /v1/tenants/{tenant}/links/{id}.
func (h *LinkHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}

	if err := h.admin.SoftDelete(r.Context(), mw.TenantID(r.Context()), id); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}
