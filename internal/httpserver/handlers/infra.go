package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
	"github.com/MrSnakeDoc/hubcache/internal/refresh"
)

type componentStatus struct {
	OK             bool   `json:"ok"`
	ServicesLoaded *int64 `json:"services_loaded,omitempty"`
	LastRefresh    string `json:"last_refresh,omitempty"`
	Phase          string `json:"phase,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Impact         string `json:"impact,omitempty"`
	Error          string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports on the store, the refresh gate, the source and the mirror.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		components := map[string]componentStatus{
			"store":   checkStore(ctx, d),
			"refresh": checkRefresh(d),
			"source":  checkSource(d),
			"mirror":  checkMirror(ctx, d),
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if store, exists := components["store"]; exists {
		if !store.OK || (store.ServicesLoaded != nil && *store.ServicesLoaded == 0) {
			return "critical" // nothing to serve lookups from
		}
	}

	for _, name := range []string{"source", "mirror"} {
		if c, exists := components[name]; exists && !c.OK {
			return "degraded"
		}
	}

	return "optimal"
}

func checkStore(ctx context.Context, d deps.Deps) componentStatus {
	count, err := d.Store.Count(ctx)
	if err != nil {
		return componentStatus{OK: false, Mode: d.StorePath, Error: err.Error()}
	}
	return componentStatus{OK: true, ServicesLoaded: &count, Mode: d.StorePath}
}

func checkRefresh(d deps.Deps) componentStatus {
	status := componentStatus{
		OK:          true,
		Phase:       d.Refresh.Phase().String(),
		LastRefresh: "never",
		Mode:        "every " + d.Refresh.MinInterval().String(),
	}
	if last, ok := d.Refresh.LastRefresh(); ok {
		status.LastRefresh = last.Format(time.RFC3339)
	} else if d.Refresh.Phase() == refresh.PhaseRefreshed {
		status.Error = "last refresh failed"
	}
	return status
}

func checkSource(d deps.Deps) componentStatus {
	status := componentStatus{OK: true, Mode: d.SourceName}
	if d.Source == nil {
		return status
	}
	state := d.Source.BreakerState()
	if state == "open" {
		status.OK = false
		status.Impact = "forced-refresh-disabled"
		status.Error = "circuit breaker open"
	}
	status.Phase = state
	return status
}

func checkMirror(ctx context.Context, d deps.Deps) componentStatus {
	if d.Mirror == nil {
		return componentStatus{OK: true, Mode: "disabled"}
	}

	if err := d.Mirror.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "cold-start-warmup-disabled",
			Error:  "timeout",
		}
	}

	status := componentStatus{OK: true, Mode: "optimal", Impact: "cold-start-warmup-enabled"}
	if n, err := d.Mirror.SnapshotSize(ctx); err == nil {
		mirrored := int64(n)
		status.ServicesLoaded = &mirrored
	}
	return status
}
