package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/utils"
)

type reloadResponse struct {
	Queued bool   `json:"queued"`
	Detail string `json:"detail"`
}

// Reload queues a manual catalog refresh. The refresh itself still goes
// through the gate, so it may be skipped if the last one is too recent.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case d.ReloadTrigger <- struct{}{}:
			d.Logger.Info("manual refresh queued via endpoint",
				logger.String("remote_ip", utils.ClientIP(r, d.TrustProxy)))
			writeJSON(w, http.StatusAccepted, reloadResponse{Queued: true, Detail: "refresh queued"})
		default:
			d.Logger.Warn("manual refresh already queued",
				logger.String("remote_ip", utils.ClientIP(r, d.TrustProxy)))
			writeJSON(w, http.StatusTooManyRequests, reloadResponse{Queued: false, Detail: "refresh already queued"})
		}
	}
}
