// Package health computes per-channel delivery health, system overviews and
// outage bookkeeping, and serves the liveness endpoint.
package health

import (
	"net/http"
)

// Handler is the liveness probe. It does not touch dependencies.
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
