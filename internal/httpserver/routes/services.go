package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
	"github.com/MrSnakeDoc/hubcache/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/hubcache/internal/httpserver/mw"
)

func init() { Register("services", registerServices) }

func registerServices(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.RateLimitBurst,
		RefillPerIPPerMin: d.RateLimitPerMinute,
		MaxEntries:        10000,
		TrustProxy:        d.TrustProxy,
	}, d.Logger)

	r.Route("/services", func(r chi.Router) {
		r.Use(limit)
		r.Get("/", handlers.Services(d))
		r.Get("/lookup", handlers.LookupService(d))
	})
}
