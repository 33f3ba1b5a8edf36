package server

import (
	"encoding/json"
	"net/http"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/decision"
)

type createDecisionRequest struct {
	IncidentID           string          `json:"incident_id"`
	PlaybookID           string          `json:"playbook_id"`
	StepID               string          `json:"step_id,omitempty"`
	ActionType           string          `json:"action_type"`
	Scope                interface{}     `json:"scope"`
	Policy               decision.Policy `json:"policy"`
	PreviousDecisionHash string          `json:"previous_decision_hash,omitempty"`
}

func (s *Server) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	var req createDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInputInvalid, "malformed request body", err))
		return
	}

	if req.PreviousDecisionHash != "" {
		if err := s.decisions.VerifyPreviousHash(r.Context(), req.IncidentID, req.PreviousDecisionHash); err != nil {
			apierr.WriteJSON(w, err)
			return
		}
	}

	d, err := s.decisions.Create(r.Context(), req.IncidentID, req.PlaybookID, req.StepID, req.ActionType, req.Scope, req.Policy, req.PreviousDecisionHash)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*decision.Decision{"decision": d})
}

type signDecisionRequest struct {
	SignerID   string      `json:"signer_id"`
	Signature  string      `json:"signature"`
	KeyID      string      `json:"key_id"`
	ActionType string      `json:"action_type"`
	Scope      interface{} `json:"scope"`
}

func (s *Server) handleSignDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("id")
	var req signDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInputInvalid, "malformed request body", err))
		return
	}

	d, err := s.decisions.SubmitSignature(r.Context(), decisionID, req.SignerID, req.Signature, req.KeyID, req.ActionType, req.Scope)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*decision.Decision{"decision": d})
}

type decisionView struct {
	*decision.Decision
	Signatures []*decision.Signature `json:"signatures"`
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("id")
	d, err := s.decisions.Get(r.Context(), decisionID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	sigs, err := s.decisions.Signatures(r.Context(), decisionID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decisionView{
		"decision": {Decision: d, Signatures: sigs},
	})
}
