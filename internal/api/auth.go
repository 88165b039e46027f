package api

import (
	"context"
	"net/http"
	"slices"

	"orderhub/internal/auth"
)

type ctxKeyPrincipal struct{}

// requirePrincipal rejects requests without a valid bearer token.
func (s *Server) requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Auth.FromRequest(r)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := principal(r); !slices.Contains(roles, p.Role) {
				writeProblem(w, http.StatusForbidden, "Forbidden", p.Role+" may not access this endpoint", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// principal returns the caller set by requirePrincipal.
func principal(r *http.Request) auth.Principal {
	p, _ := r.Context().Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}
