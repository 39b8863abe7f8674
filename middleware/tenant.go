package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

// TenantIDContextKey stores the resolved tenant id in the request context.
const TenantIDContextKey contextKey = "tenant_id"

// TenantResolver maps an incoming request to a tenant id (spec §6:
// "host-based mapping to tenant id, or configured default"). It never
// validates a credential — actual authentication/authorization remains an
// external collaborator per spec.md §1 Non-goals.
type TenantResolver struct {
	logger        zerolog.Logger
	header        string
	hostTenants   map[string]int64
	defaultTenant int64
}

// NewTenantResolver builds a resolver. hostTenants maps a custom domain
// (as seen in the Host header) to its tenant id; header names the
// fallback header carrying an explicit tenant id (used by the admin API,
// where requests aren't routed by custom domain).
func NewTenantResolver(logger zerolog.Logger, header string, hostTenants map[string]int64, defaultTenant int64) *TenantResolver {
	if header == "" {
		header = "X-Tenant-ID"
	}
	if hostTenants == nil {
		hostTenants = make(map[string]int64)
	}
	return &TenantResolver{logger: logger, header: header, hostTenants: hostTenants, defaultTenant: defaultTenant}
}

// Handler resolves a tenant id and stores it in the request context.
// Resolution order: custom-domain host mapping, then the tenant header,
// then the configured default.
func (t *TenantResolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := t.defaultTenant

		host := stripPort(r.Host)
		if id, ok := t.hostTenants[host]; ok {
			tenantID = id
		} else if raw := r.Header.Get(t.header); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				tenantID = id
			}
		}

		ctx := context.WithValue(r.Context(), TenantIDContextKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}

// TenantID extracts the resolved tenant id from the request context.
func TenantID(ctx context.Context) int64 {
	if v, ok := ctx.Value(TenantIDContextKey).(int64); ok {
		return v
	}
	return 0
}
