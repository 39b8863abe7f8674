package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/events"
	"github.com/shortenerhq/shortener/geoip"
	mw "github.com/shortenerhq/shortener/middleware"
	"github.com/shortenerhq/shortener/resolver"
	"github.com/shortenerhq/shortener/useragent"
)

// MetricsRecorder is the subset of observability.Metrics the redirect
// handler needs, narrowed so tests can supply a fake instead of a real
// registry.
type MetricsRecorder interface {
	TrackRedirect(statusCode int, latencyMs float64)
}

// RedirectHandler is the hot path: resolve(tenant, code) -> 302, with
// click-event emission happening after the redirect is written so the
// event producer's own backpressure can never slow down a reader.
type RedirectHandler struct {
	resolver  *resolver.Resolver
	producer  events.Producer
	geoip     *geoip.Lookup
	useragent *useragent.Classifier
	metrics   MetricsRecorder
	logger    zerolog.Logger
}

// NewRedirectHandler creates a new redirect handler. geoip, useragent,
// and metrics may all be nil: enrichment and instrumentation degrade,
// never block (spec §4.9).
func NewRedirectHandler(r *resolver.Resolver, producer events.Producer, geo *geoip.Lookup, ua *useragent.Classifier, metrics MetricsRecorder, logger zerolog.Logger) *RedirectHandler {
	return &RedirectHandler{
		resolver:  r,
		producer:  producer,
		geoip:     geo,
		useragent: ua,
		metrics:   metrics,
		logger:    logger.With().Str("handler", "redirect").Logger(),
	}
}

// Resolve handles GET /r/{code} (and the bare /{code} form on a
// tenant-mapped custom domain).
func (h *RedirectHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	tenantID := mw.TenantID(r.Context())
	now := time.Now()

	result, err := h.resolver.Resolve(r.Context(), tenantID, code, now)
	if err != nil {
		status, errType := statusForErr(err)
		writeError(w, status, errType, err.Error())
		h.trackRedirect(status, now)
		return
	}

	// A short code's destination can change (metadata update, soft
	// delete) and must never be cached by the client or an intermediary.
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	http.Redirect(w, r, result.Destination, http.StatusFound)
	h.trackRedirect(http.StatusFound, now)

	h.publishClickEvent(r, result, tenantID, code, now)
}

func (h *RedirectHandler) trackRedirect(status int, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.TrackRedirect(status, float64(time.Since(start).Microseconds())/1000.0)
}

func (h *RedirectHandler) publishClickEvent(r *http.Request, result *resolver.Result, tenantID int64, code string, now time.Time) {
	if h.producer == nil {
		return
	}

	clientIP := clientIPFrom(r)
	country := ""
	if h.geoip != nil {
		country = h.geoip.Country(clientIP)
	}

	var deviceClass, browserFamily, osFamily string
	if h.useragent != nil {
		classification := h.useragent.Classify(r.UserAgent())
		deviceClass = string(classification.DeviceClass)
		browserFamily = classification.BrowserFamily
		osFamily = classification.OSFamily
	}

	h.producer.Publish(events.ClickEvent{
		EventID:       uuid.NewString(),
		EmittedAt:     now,
		LinkID:        result.LinkID,
		TenantID:      tenantID,
		Code:          code,
		Destination:   result.Destination,
		ClientIP:      clientIP,
		UserAgent:     r.UserAgent(),
		Referrer:      r.Referer(),
		Country:       country,
		DeviceClass:   deviceClass,
		BrowserFamily: browserFamily,
		OSFamily:      osFamily,
	})
}

// clientIPFrom prefers the first X-Forwarded-For hop, falling back to
// the direct connection's address.
func clientIPFrom(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i != -1 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}
