package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/rbac"
	"github.com/jacobsprake/munin/pkg/session"
)

type contextKey string

const principalKey contextKey = "munin.principal"

// principal is the authenticated operator attached to a request's
// context by the auth middleware.
type principal struct {
	userID  string
	role    string
	session *session.Session
}

func withPrincipal(ctx context.Context, p *principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func principalFrom(ctx context.Context) (*principal, bool) {
	p, ok := ctx.Value(principalKey).(*principal)
	return p, ok
}

// bearerToken extracts the raw token from "Bearer <token>" or a bare
// token (spec.md §6: both forms are accepted).
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return rest
	}
	return header
}

// authenticate resolves the bearer token to a principal, without any
// permission check — used by endpoints authorized for any logged-in
// operator (e.g. logout).
func (s *Server) authenticate(r *http.Request) (*principal, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, apierr.New(apierr.KindAuthRequired, "missing Authorization header")
	}
	sess, err := s.sessions.Validate(r.Context(), token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(r.Context(), sess.UserID)
	if err != nil {
		return nil, apierr.New(apierr.KindSessionInvalid, "session owner not found")
	}
	return &principal{userID: user.UserID, role: user.Role, session: sess}, nil
}

// authenticated wraps h, rejecting any request without a valid session
// but performing no permission check beyond that.
func (s *Server) authenticated(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			apierr.WriteJSON(w, err)
			return
		}
		h(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// authorized wraps h, requiring both a valid session and
// rbac.HasPermission(role, resource, action) (spec.md §4.6).
func (s *Server) authorized(resource, action string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			apierr.WriteJSON(w, err)
			return
		}
		if err := rbac.RequirePermission(p.role, resource, action); err != nil {
			apierr.WriteJSON(w, err)
			return
		}
		h(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}
