// Package handler implements the HTTP surface over the link-shortening
// core: tenant link CRUD, the redirect hot path, per-link analytics, and
// health checks.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shortenerhq/shortener/errorsx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
}

// statusForErr maps the shared error taxonomy onto HTTP status codes.
func statusForErr(err error) (int, string) {
	switch err {
	case errorsx.InvalidURL:
		return http.StatusBadRequest, "invalid_url"
	case errorsx.InvalidCode:
		return http.StatusBadRequest, "invalid_code"
	case errorsx.NotFound:
		return http.StatusNotFound, "not_found"
	case errorsx.Gone:
		return http.StatusGone, "gone"
	case errorsx.CodeTaken:
		return http.StatusConflict, "code_taken"
	case errorsx.CollisionUnresolved:
		return http.StatusConflict, "collision_unresolved"
	case errorsx.DeadlineExceeded:
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case errorsx.StorageConflict:
		return http.StatusConflict, "storage_conflict"
	case errorsx.StorageUnavailable:
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeCoreError(w http.ResponseWriter, err error) {
	status, errType := statusForErr(err)
	writeError(w, status, errType, err.Error())
}
