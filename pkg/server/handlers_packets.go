package server

import (
	"encoding/json"
	"net/http"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/canonical"
	"github.com/jacobsprake/munin/pkg/packet"
)

type issuePacketRequest struct {
	DecisionID string          `json:"decision_id"`
	Namespace  string          `json:"namespace,omitempty"`
	Body       canonical.Value `json:"body"`
}

type packetView struct {
	PacketID            string          `json:"packet_id"`
	DecisionID          string          `json:"decision_id"`
	Namespace           string          `json:"namespace"`
	SequenceNumber      uint64          `json:"sequence_number"`
	PreviousReceiptHash string          `json:"previous_receipt_hash,omitempty"`
	PacketHash          string          `json:"packet_hash"`
	ReceiptHash         string          `json:"receipt_hash"`
	Body                canonical.Value `json:"body"`
}

func (s *Server) handleIssuePacket(w http.ResponseWriter, r *http.Request) {
	var req issuePacketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.KindInputInvalid, "malformed request body", err))
		return
	}
	if req.DecisionID == "" {
		apierr.WriteJSON(w, apierr.New(apierr.KindInputInvalid, "decision_id is required"))
		return
	}

	p, err := s.packets.Issue(r.Context(), req.DecisionID, req.Namespace, req.Body)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]packetView{
		"packet": toPacketView(p),
	})
}

func toPacketView(p *packet.Packet) packetView {
	return packetView{
		PacketID:            p.PacketID,
		DecisionID:          p.DecisionID,
		Namespace:           p.Namespace,
		SequenceNumber:      p.SequenceNumber,
		PreviousReceiptHash: p.PreviousReceiptHash,
		PacketHash:          p.PacketHash,
		ReceiptHash:         p.ReceiptHash,
		Body:                p.Body,
	}
}
