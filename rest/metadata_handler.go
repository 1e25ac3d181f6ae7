package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jarabaimpact/agentflow/model"
)

func (s *Server) HandleSaveAgent(w http.ResponseWriter, r *http.Request) {
	var agent model.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.metadataService.SaveAgent(r.Context(), &agent); err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, agent)
}

func (s *Server) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.metadataService.GetAgent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, agent)
}

func (s *Server) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.metadataService.DeleteAgent(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, map[string]string{"status": "deleted"})
}

func (s *Server) HandleSaveFlow(w http.ResponseWriter, r *http.Request) {
	var flow model.Flow
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.metadataService.SaveFlow(r.Context(), &flow); err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, flow)
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.metadataService.GetFlow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, flow)
}

func (s *Server) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.metadataService.DeleteFlow(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, map[string]string{"status": "deleted"})
}
