// Package server exposes munin's REST surface (spec.md §6) over the
// components in pkg/session, pkg/rbac, pkg/keyregistry, pkg/decision,
// pkg/packet, and pkg/audit.
package server

import (
	"net/http"

	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/decision"
	"github.com/jacobsprake/munin/pkg/keyregistry"
	"github.com/jacobsprake/munin/pkg/observability"
	"github.com/jacobsprake/munin/pkg/packet"
	"github.com/jacobsprake/munin/pkg/session"
)

// Server wires every component behind the HTTP surface.
type Server struct {
	sessions  *session.Store
	users     *keyregistry.Registry
	decisions *decision.Engine
	packets   *packet.Store
	auditLog  *audit.Log
	obs       *observability.Provider
}

// New wires the handlers against their backing components.
func New(sessions *session.Store, users *keyregistry.Registry, decisions *decision.Engine, packets *packet.Store, auditLog *audit.Log, obs *observability.Provider) *Server {
	return &Server{sessions: sessions, users: users, decisions: decisions, packets: packets, auditLog: auditLog, obs: obs}
}

// Handler returns the fully wired HTTP mux, auth and RBAC middleware
// applied per spec.md §6's resource/action table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.Handle("POST /logout", s.authenticated(s.handleLogout))

	mux.Handle("POST /users", s.authorized("users", "create", s.handleCreateUser))
	mux.Handle("GET /users", s.authorized("users", "view", s.handleListUsers))
	mux.Handle("PUT /users/{id}", s.authorized("users", "update", s.handleUpdateUser))
	mux.Handle("DELETE /users/{id}", s.authorized("users", "delete", s.handleDeleteUser))

	mux.Handle("POST /decisions", s.authorized("decisions", "create", s.handleCreateDecision))
	mux.Handle("POST /decisions/{id}/sign", s.authorized("decisions", "sign", s.handleSignDecision))
	mux.Handle("GET /decisions/{id}", s.authorized("decisions", "view", s.handleGetDecision))

	mux.Handle("GET /audit", s.authorized("audit", "view", s.handleListAudit))
	mux.Handle("POST /audit/verify", s.authorized("audit", "view", s.handleVerifyAudit))
	mux.Handle("POST /audit/checkpoint", s.authorized("audit", "view", s.handleCheckpoint))

	mux.Handle("POST /packets", s.authorized("packets", "authorize", s.handleIssuePacket))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
