package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
)

type buildInfo struct {
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"go,omitempty"`
}

type catalogAge struct {
	Phase       string     `json:"phase"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
	AgeSeconds  *float64   `json:"age_seconds,omitempty"`
}

type healthzResponse struct {
	Status        string      `json:"status"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	Build         buildInfo   `json:"build"`
	Catalog       *catalogAge `json:"catalog,omitempty"`
}

// Healthz is the liveness probe. It never fails on catalog state; the
// catalog block only reports how old the cached copy is.
func Healthz(d deps.Deps) http.HandlerFunc {
	build := buildInfo{
		Version:   d.Version,
		Commit:    d.Commit,
		Date:      d.BuildDate,
		GoVersion: d.GoVersion,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		now := d.Now()
		resp := healthzResponse{
			Status:        "ok",
			UptimeSeconds: now.Sub(d.StartTime).Seconds(),
			Build:         build,
		}
		if d.Refresh != nil {
			c := &catalogAge{Phase: d.Refresh.Phase().String()}
			if last, ok := d.Refresh.LastRefresh(); ok {
				age := now.Sub(last).Seconds()
				c.LastRefresh, c.AgeSeconds = &last, &age
			}
			resp.Catalog = c
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, resp)
	}
}
