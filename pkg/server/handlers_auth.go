package server

import (
	"encoding/json"
	"net/http"

	"github.com/jacobsprake/munin/pkg/apierr"
)

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	Passphrase string `json:"passphrase"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Role      string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInputInvalid, "malformed request body", err))
		return
	}

	sess, token, err := s.sessions.Login(r.Context(), req.OperatorID, req.Passphrase, r.RemoteAddr)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	user, err := s.users.GetUser(r.Context(), req.OperatorID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		Role:      user.Role,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		apierr.WriteJSON(w, apierr.New(apierr.KindAuthRequired, "missing principal"))
		return
	}
	if err := s.sessions.Revoke(r.Context(), p.session.SessionID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
