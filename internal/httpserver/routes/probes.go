package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
	"github.com/MrSnakeDoc/hubcache/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/hubcache/internal/httpserver/mw"
)

func init() { Register("probes", registerProbes) }

func registerProbes(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))

	allow := mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)
	r.With(allow).Get("/readyz", handlers.Readyz(d))
	r.With(allow, mw.EnforceHost(d.AllowedHosts, d.Logger)).Get("/infra", handlers.Infra(d))
	if d.MetricsHandler != nil {
		r.With(allow).Handle("/metrics", d.MetricsHandler)
	}
}
