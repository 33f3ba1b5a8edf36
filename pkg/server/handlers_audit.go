package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/audit"
)

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		EventType: q.Get("event_type"),
		SignerID:  q.Get("signer_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}

	entries, err := s.auditLog.Query(r.Context(), f)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*audit.Entry{"entries": entries})
}

type verifyAuditRequest struct {
	FromSeq uint64 `json:"from_seq,omitempty"`
	ToSeq   uint64 `json:"to_seq,omitempty"`
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	var req verifyAuditRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.WriteJSON(w, apierr.Wrap(apierr.KindInputInvalid, "malformed request body", err))
			return
		}
	}

	result, err := s.auditLog.VerifyChain(r.Context(), req.FromSeq, req.ToSeq, s.users)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":           result.Valid,
		"errors":          errorStrings(result.Errors),
		"entries_checked": result.EntriesChecked,
	})
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.auditLog.ExportCheckpoint(r.Context())
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*audit.Checkpoint{"checkpoint": cp})
}
