package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
)

type readyzResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// Readyz reports ready once the local store holds data or a refresh succeeded.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")

		if _, ok := d.Refresh.LastRefresh(); ok {
			writeJSON(w, http.StatusOK, readyzResponse{Ready: true})
			return
		}

		count, err := d.Store.Count(r.Context())
		if err != nil {
			d.Logger.Warn("readiness check failed", logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Reason: "store unavailable"})
			return
		}
		if count == 0 {
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Reason: "catalog not loaded"})
			return
		}

		writeJSON(w, http.StatusOK, readyzResponse{Ready: true})
	}
}
