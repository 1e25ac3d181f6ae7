package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jarabaimpact/agentflow/model"
	"go.uber.org/zap"

	"github.com/jarabaimpact/agentflow/logger"
)

func (s *Server) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := model.ApprovalStatus(query.Get("status"))
	if status == "" {
		status = model.APPROVAL_PENDING
	}
	page := model.Page{Offset: queryInt(query.Get("offset"), 0), Limit: queryInt(query.Get("limit"), 50)}
	approvals, err := s.gate.List(r.Context(), status, page)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, approvals)
}

func (s *Server) HandleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	approval, err := s.gate.Get(r.Context(), id)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, approval)
}

func (s *Server) HandleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Decision   model.ApprovalDecision `json:"decision"`
		ReviewerId string                 `json:"reviewerId"`
		Notes      string                 `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Decision != model.DECISION_APPROVE && req.Decision != model.DECISION_REJECT {
		respondWithError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}
	if req.ReviewerId == "" {
		respondWithError(w, http.StatusBadRequest, "reviewerId is required")
		return
	}
	approval, err := s.gate.Resolve(r.Context(), id, req.Decision, req.ReviewerId, req.Notes)
	if err != nil {
		logger.Error("approval resolution failed", zap.String("approvalId", id), zap.Error(err))
		respondForError(w, err)
		return
	}
	respondOK(w, approval)
}
