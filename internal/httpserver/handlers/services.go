package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/lookup"
)

// Services lists every alias and owner/name known locally.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := d.Lookup.ListNames(r.Context())
		if err != nil {
			d.Logger.Error("failed to list service names", logger.Error(err))
			writeError(w, statusFor(err), "failed to list services")
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, names)
	}
}

// LookupService resolves one service by alias or by owner and name.
func LookupService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		alias := strings.TrimSpace(q.Get("alias"))
		owner := strings.TrimSpace(q.Get("owner"))
		name := strings.TrimSpace(q.Get("name"))

		wrap := false
		if v := q.Get("wrap"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "wrap must be a boolean")
				return
			}
			wrap = b
		}

		res, err := d.Lookup.Get(r.Context(), alias, owner, name, wrap)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				d.Logger.Error("service lookup failed",
					logger.String("alias", alias),
					logger.String("owner", owner),
					logger.String("name", name),
					logger.Error(err))
			}
			writeError(w, status, err.Error())
			return
		}
		if res == nil {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}

		writeJSON(w, http.StatusOK, res.Value())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lookup.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTransportFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
