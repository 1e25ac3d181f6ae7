package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jarabaimpact/agentflow/model"
	"go.uber.org/zap"

	"github.com/jarabaimpact/agentflow/logger"
)

func (s *Server) HandleTriggerFlow(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FlowId == "" {
		respondWithError(w, http.StatusBadRequest, "flowId is required")
		return
	}
	if req.TriggerType == "" {
		req.TriggerType = model.TRIGGER_TYPE_MANUAL
	}
	execution, err := s.orchestrator.Trigger(r.Context(), req)
	if err != nil {
		logger.Error("trigger failed", zap.String("flowId", req.FlowId), zap.Error(err))
		respondForError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, execution)
}

// HandleEvent accepts an external event and maps it onto an event trigger.
// The event id doubles as the idempotency token so redelivery is harmless.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var event struct {
		Id      string         `json:"id"`
		FlowId  string         `json:"flowId"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.Id == "" || event.FlowId == "" {
		respondWithError(w, http.StatusBadRequest, "id and flowId are required")
		return
	}
	execution, err := s.orchestrator.Trigger(r.Context(), model.TriggerRequest{
		FlowId:           event.FlowId,
		TriggerType:      model.TRIGGER_TYPE_EVENT,
		IdempotencyToken: event.Id,
		Input:            event.Payload,
	})
	if err != nil {
		logger.Error("event trigger failed", zap.String("flowId", event.FlowId), zap.Error(err))
		respondForError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, execution)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	execution, err := s.orchestrator.GetExecution(r.Context(), id)
	if err != nil {
		respondForError(w, err)
		return
	}
	logs, err := s.recorder.List(r.Context(), id)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, map[string]any{"execution": execution, "steps": logs})
}

func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := model.ExecutionFilter{
		AgentId: query.Get("agentId"),
		FlowId:  query.Get("flowId"),
		Status:  model.ExecutionStatus(query.Get("status")),
	}
	page := model.Page{Offset: queryInt(query.Get("offset"), 0), Limit: queryInt(query.Get("limit"), 50)}
	executions, err := s.orchestrator.ListExecutions(r.Context(), filter, page)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, executions)
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orchestrator.CancelExecution(r.Context(), id); err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, map[string]string{"id": id, "status": "cancel requested"})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
