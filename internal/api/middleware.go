package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/talkto-ai/talkto/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// SessionCookie is the browser session cookie name.
const SessionCookie = "talkto_session"

// authMiddleware resolves the request to an identity via, in order: the
// session cookie, a Bearer API key, and (outside network mode) the
// localhost bypass.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.resolveIdentity(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolveIdentity(r *http.Request) (*auth.Identity, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		identity, err := s.auth.ResolveSession(r.Context(), c.Value)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, auth.ErrUnauthorized) {
			return nil, err
		}
		// Stale cookie falls through to the remaining sources.
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := header[len("Bearer "):]
		// Only tk_ tokens are API keys; anything else falls through.
		if strings.HasPrefix(token, auth.KeyPrefix) {
			return s.auth.ResolveAPIKey(r.Context(), token)
		}
		if strings.HasPrefix(token, auth.SessionPrefix) {
			return s.auth.ResolveSession(r.Context(), token)
		}
	}

	if !s.opts.Network && isLoopback(r.RemoteAddr) {
		return s.auth.LocalIdentity(r.Context())
	}
	return nil, auth.ErrUnauthorized
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// adminMiddleware gates workspace administration routes.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := identityFrom(r.Context())
		if identity == nil || identity.Role != "admin" {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

// requireUser returns the identity when it carries a concrete user id.
// API-key principals and the pre-onboarding localhost bypass do not.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *auth.Identity {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	if identity.UserID == "" {
		writeError(w, http.StatusForbidden, "a user identity is required")
		return nil
	}
	return identity
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
