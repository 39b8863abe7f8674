package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/admin"
	"github.com/shortenerhq/shortener/analytics"
	"github.com/shortenerhq/shortener/cache"
	"github.com/shortenerhq/shortener/config"
	"github.com/shortenerhq/shortener/coordinator"
	"github.com/shortenerhq/shortener/events"
	"github.com/shortenerhq/shortener/geoip"
	"github.com/shortenerhq/shortener/handler"
	"github.com/shortenerhq/shortener/linkstore"
	shortenermw "github.com/shortenerhq/shortener/middleware"
	"github.com/shortenerhq/shortener/observability"
	"github.com/shortenerhq/shortener/resolver"
	"github.com/shortenerhq/shortener/useragent"
)

// Deps bundles every constructed component the router wires into handlers.
// main.go builds these once at startup; tests build a smaller version by
// hand with in-memory stand-ins.
type Deps struct {
	Store     linkstore.Store
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Producer  events.Producer
	GeoIP     *geoip.Lookup
	UserAgent *useragent.Classifier
	Metrics   *observability.Metrics
}

// NewRouter returns a configured chi Router with the full middleware chain
// and every route from the API surface mounted.
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(shortenermw.CORSMiddleware([]string{"*"}))
	r.Use(shortenermw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	tenantResolver := shortenermw.NewTenantResolver(appLogger, cfg.TenantHeader, nil, cfg.DefaultTenantID)
	timeoutMW := shortenermw.NewTimeoutMiddleware(appLogger, cfg)
	rateLimiter := shortenermw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)

	cacheConfig := cache.DefaultConfig()
	if cfg.CacheTTL > 0 {
		cacheConfig.TTL = cfg.CacheTTL
	}
	linkCache := cache.New(deps.Redis, appLogger, cacheConfig)
	res := resolver.New(deps.Store, linkCache, appLogger)
	coord := coordinator.New(deps.Store, linkCache, appLogger)
	if cfg.CollisionMaxSalt > 0 {
		coord.SetMaxSalt(uint64(cfg.CollisionMaxSalt))
	}
	adminSvc := admin.New(deps.Store, linkCache, appLogger)

	var reader *analytics.Reader
	if deps.Pool != nil {
		reader = analytics.NewReader(deps.Pool)
	}
	forecaster := analytics.NewForecaster(14)
	anomalyDetector := analytics.NewAnomalyDetector(24, 2.0)

	// Pass through an explicit handler.MetricsRecorder nil rather than a
	// typed *observability.Metrics nil: the latter would make the
	// interface itself non-nil and defeat RedirectHandler's own nil check.
	var metricsRecorder handler.MetricsRecorder
	if deps.Metrics != nil {
		metricsRecorder = deps.Metrics
	}

	linkHandler := handler.NewLinkHandler(coord, adminSvc, appLogger)
	redirectHandler := handler.NewRedirectHandler(res, deps.Producer, deps.GeoIP, deps.UserAgent, metricsRecorder, appLogger)
	analyticsHandler := handler.NewAnalyticsHandler(adminSvc, reader, forecaster, anomalyDetector, appLogger)
	healthHandler := handler.NewHealthHandler(deps.Pool, deps.Redis)

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/ready", healthHandler.Ready)
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	// The redirect hot path lives outside /v1: a custom domain serves bare
	// /{code}, and the default domain serves /r/{code} (spec §6).
	r.Route("/r", func(r chi.Router) {
		r.Use(tenantResolver.Handler)
		r.Use(timeoutMW.Handler)
		r.Get("/{code}", redirectHandler.Resolve)
	})
	r.With(tenantResolver.Handler, timeoutMW.Handler).Get("/{code}", redirectHandler.Resolve)

	r.Route("/v1/tenants/{tenant}", func(r chi.Router) {
		r.Use(tenantResolver.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(timeoutMW.Handler)

		r.Post("/links", linkHandler.Create)
		r.Get("/links", linkHandler.List)
		r.Get("/links/{id}", linkHandler.GetByID)
		r.Get("/links/by-code/{code}", linkHandler.GetByCode)
		r.Patch("/links/{id}", linkHandler.UpdateMetadata)
		r.Delete("/links/{id}", linkHandler.SoftDelete)
		r.Get("/links/{id}/analytics", analyticsHandler.Get)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
