package server

import (
	"encoding/json"
	"net/http"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/crypto"
	"github.com/jacobsprake/munin/pkg/keyregistry"
	"github.com/jacobsprake/munin/pkg/rbac"
)

type createUserRequest struct {
	OperatorID string `json:"operator_id"`
	Passphrase string `json:"passphrase"`
	Role       string `json:"role"`
}

type userView struct {
	ID         string `json:"id"`
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInputInvalid, "malformed request body", err))
		return
	}
	if req.OperatorID == "" || req.Passphrase == "" || req.Role == "" {
		apierr.WriteJSON(w, apierr.New(apierr.KindInputInvalid, "operator_id, passphrase, and role are required"))
		return
	}
	if !rbac.KnownRole(req.Role) {
		apierr.WriteJSON(w, apierr.New(apierr.KindInputInvalid, "unknown role"))
		return
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInternal, "generate operator key", err))
		return
	}
	user, err := s.users.RegisterUser(r.Context(), req.OperatorID, req.OperatorID, req.Role, kp.Public, req.OperatorID+"-key-1")
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	hash, err := crypto.HashPassword(req.Passphrase, crypto.DefaultPasswordParams())
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInternal, "hash passphrase", err))
		return
	}
	if err := s.users.SetPassphraseHash(r.Context(), user.UserID, hash); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]userView{
		"user": {ID: user.UserID, OperatorID: user.UserID, Role: user.Role},
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	views := make([]userView, len(users))
	for i, u := range users {
		views[i] = userView{ID: u.UserID, OperatorID: u.UserID, Role: u.Role}
	}
	writeJSON(w, http.StatusOK, map[string][]userView{"users": views})
}

type updateUserRequest struct {
	Role       string `json:"role,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInputInvalid, "malformed request body", err))
		return
	}

	if req.Role != "" {
		if !rbac.KnownRole(req.Role) {
			apierr.WriteJSON(w, apierr.New(apierr.KindInputInvalid, "unknown role"))
			return
		}
		if err := s.users.SetRole(r.Context(), userID, req.Role); err != nil {
			apierr.WriteJSON(w, err)
			return
		}
	}
	if req.Passphrase != "" {
		hash, err := crypto.HashPassword(req.Passphrase, crypto.DefaultPasswordParams())
		if err != nil {
			apierr.WriteJSON(w, apierr.Wrap(apierr.KindInternal, "hash passphrase", err))
			return
		}
		if err := s.users.SetPassphraseHash(r.Context(), userID, hash); err != nil {
			apierr.WriteJSON(w, err)
			return
		}
	}

	user, err := s.users.GetUser(r.Context(), userID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]userView{
		"user": {ID: user.UserID, OperatorID: user.UserID, Role: user.Role},
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if err := s.users.SetStatus(r.Context(), userID, keyregistry.UserDisabled); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if err := s.sessions.RevokeAllForUser(r.Context(), userID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
