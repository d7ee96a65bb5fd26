package api

import (
	"net/http"
	"strings"

	"github.com/matchdeck/matchdeck/internal/auth"
)

// bearerToken extracts the Authorization bearer token, if any
func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

func (r *Router) classify(req *http.Request) auth.Access {
	return r.auth.Classify(bearerToken(req), r.registry.TokenLookup)
}

// requireGlobal admits only GLOBAL-scoped callers
func (r *Router) requireGlobal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.classify(req).Scope != auth.ScopeGlobal {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, req)
	}
}

// requireMatch admits GLOBAL callers, and MATCH callers for their own match
func (r *Router) requireMatch(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		access := r.classify(req)
		switch access.Scope {
		case auth.ScopeGlobal:
		case auth.ScopeMatch:
			if access.MatchID != req.PathValue("id") {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		default:
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, req)
	}
}
