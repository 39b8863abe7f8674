package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/admin"
	"github.com/shortenerhq/shortener/analytics"
	mw "github.com/shortenerhq/shortener/middleware"
)

// AnalyticsHandler serves per-link traffic rollups, a volume forecast, and
// anomaly flags derived from them.
type AnalyticsHandler struct {
	admin      *admin.Service
	reader     *analytics.Reader
	forecaster *analytics.Forecaster
	anomaly    *analytics.AnomalyDetector
	logger     zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(adminSvc *admin.Service, reader *analytics.Reader, forecaster *analytics.Forecaster, anomaly *analytics.AnomalyDetector, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		admin:      adminSvc,
		reader:     reader,
		forecaster: forecaster,
		anomaly:    anomaly,
		logger:     logger.With().Str("handler", "analytics").Logger(),
	}
}

// Get handles GET /v1/tenants/{tenant}/links/{id}/analytics. It defaults
// to the trailing 14-day window; callers may override with ?days=.
func (h *AnalyticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}

	// Confirms the link belongs to this tenant before exposing its rollups.
	if _, err := h.admin.GetByID(r.Context(), mw.TenantID(r.Context()), id); err != nil {
		writeCoreError(w, err)
		return
	}

	days := 14
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}

	to := analytics.WindowStart(time.Now()).Add(time.Hour)
	from := to.AddDate(0, 0, -days)

	rollups, err := h.reader.Range(r.Context(), id, from, to)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}

	daily := dailyVolumes(rollups)
	forecast := h.forecaster.Forecast(daily)

	var anomalies []analytics.AnomalyResult
	for _, dp := range daily {
		result := h.anomaly.Check(id, dp.Clicks)
		if result.IsAnomaly {
			anomalies = append(anomalies, result)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"link_id":   id,
		"from":      from,
		"to":        to,
		"rollups":   rollups,
		"forecast":  forecast,
		"anomalies": anomalies,
	})
}

func dailyVolumes(rollups []analytics.HourlyRollup) []analytics.VolumeDataPoint {
	byDay := make(map[time.Time]float64)
	for _, r := range rollups {
		day := time.Date(r.WindowStart.Year(), r.WindowStart.Month(), r.WindowStart.Day(), 0, 0, 0, 0, time.UTC)
		byDay[day] += float64(r.TotalClicks)
	}
	out := make([]analytics.VolumeDataPoint, 0, len(byDay))
	for day, clicks := range byDay {
		out = append(out, analytics.VolumeDataPoint{Date: day, Clicks: clicks})
	}
	return out
}
