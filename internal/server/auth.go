package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/marcus-qen/legator/internal/principal"
)

// contextKey mirrors the teacher's auth/middleware.go unexported string-key
// idiom for context values.
type contextKey string

const principalContextKey contextKey = "principal"

// principalFromContext retrieves the authenticated principal, defaulting
// to principal.Anonymous (spec §4.E step 2's same default, reused here for
// the HTTP API boundary).
func principalFromContext(ctx context.Context) principal.Principal {
	if p, ok := ctx.Value(principalContextKey).(principal.Principal); ok {
		return p
	}
	return principal.Anonymous
}

// PrincipalFromHeaders trusts the identity claims an upstream gateway
// attaches after bearer-token validation (spec §6: "the core trusts the
// resulting principal claims"). Exported so both the registry API's
// authMiddleware and the enforcement adapter's PrincipalExtractor (wired
// in cmd/governor) share one parsing of the trusted-header convention.
func PrincipalFromHeaders(r *http.Request) principal.Principal {
	p := principal.Principal{
		ID:    r.Header.Get("X-Principal-Id"),
		Email: r.Header.Get("X-Principal-Email"),
		Team:  r.Header.Get("X-Principal-Team"),
	}
	if teams := r.Header.Get("X-Principal-Teams"); teams != "" {
		p.Teams = splitTrimmed(teams)
	}
	if roles := r.Header.Get("X-Principal-Roles"); roles != "" {
		for _, role := range splitTrimmed(roles) {
			p.Roles = append(p.Roles, principal.Role(role))
		}
	}
	if p.ID == "" {
		return principal.Anonymous
	}
	return p
}

// authMiddleware stores the trusted-header principal on the request
// context for the registry API's handlers.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), principalContextKey, PrincipalFromHeaders(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
