package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/approval"
	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/metadata"
	"github.com/jarabaimpact/agentflow/metrics"
	"github.com/jarabaimpact/agentflow/orchestrator"
	"github.com/jarabaimpact/agentflow/steplog"
)

// Server is the REST surface the outer layers wrap: trigger, execution
// inspection, approval review and metrics, plus agent and flow definitions.
type Server struct {
	http.Server
	Port            int
	orchestrator    *orchestrator.Orchestrator
	gate            *approval.Gate
	metadataService metadata.Service
	recorder        *steplog.Recorder
	collector       *metrics.Collector
}

func NewServer(httpPort int, orch *orchestrator.Orchestrator, gate *approval.Gate,
	metadataService metadata.Service, recorder *steplog.Recorder, collector *metrics.Collector) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		Port:            httpPort,
		orchestrator:    orch,
		gate:            gate,
		metadataService: metadataService,
		recorder:        recorder,
		collector:       collector,
	}

	router := mux.NewRouter()
	router.HandleFunc("/metadata/agent", s.HandleSaveAgent).Methods(http.MethodPost)
	router.HandleFunc("/metadata/agent/{id}", s.HandleGetAgent).Methods(http.MethodGet)
	router.HandleFunc("/metadata/agent/{id}", s.HandleDeleteAgent).Methods(http.MethodDelete)

	router.HandleFunc("/metadata/flow", s.HandleSaveFlow).Methods(http.MethodPost)
	router.HandleFunc("/metadata/flow/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/metadata/flow/{id}", s.HandleDeleteFlow).Methods(http.MethodDelete)

	router.HandleFunc("/execution", s.HandleTriggerFlow).Methods(http.MethodPost)
	router.HandleFunc("/executions", s.HandleListExecutions).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)

	router.HandleFunc("/event", s.HandleEvent).Methods(http.MethodPost)

	router.HandleFunc("/approvals", s.HandleListApprovals).Methods(http.MethodGet)
	router.HandleFunc("/approval/{id}", s.HandleGetApproval).Methods(http.MethodGet)
	router.HandleFunc("/approval/{id}/resolve", s.HandleResolveApproval).Methods(http.MethodPost)

	router.HandleFunc("/metrics", s.HandleGetMetrics).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info(fmt.Sprintf("starting http server on port %d", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.Method + " " + r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload any) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondForError maps the engine error taxonomy onto http statuses. Only
// the summarized message crosses the boundary, never internals.
func respondForError(w http.ResponseWriter, err error) {
	var notFound api.NotFoundError
	var notActive api.NotActiveError
	var configuration api.ConfigurationError
	var concurrency api.ConcurrencyLimitError
	var conflict api.ConflictError
	switch {
	case errors.As(err, &notFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &notActive):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &configuration):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &concurrency):
		respondWithError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &conflict):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
