package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/philmcc/dbdash-backend/internal/models"
	"github.com/philmcc/dbdash-backend/internal/service"
)

// Handler manages HTTP request handlers
type Handler struct {
	monitor *service.Monitor
	queries *service.QueryService
}

// NewHandler creates a new HTTP handler
func NewHandler(monitor *service.Monitor, queries *service.QueryService) *Handler {
	return &Handler{
		monitor: monitor,
		queries: queries,
	}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	// Monitoring routes
	router.HandleFunc("/targets", h.ListTargets).Methods("GET")
	router.HandleFunc("/targets/{targetId}/monitoring", h.StartMonitoring).Methods("POST")
	router.HandleFunc("/targets/{targetId}/monitoring", h.StopMonitoring).Methods("DELETE")
	router.HandleFunc("/targets/{targetId}/sessions", h.ListSessions).Methods("GET")
	router.HandleFunc("/targets/{targetId}/collect", h.CollectNow).Methods("POST")

	// Query routes
	router.HandleFunc("/targets/{targetId}/queries", h.ListQueries).Methods("GET")
	router.HandleFunc("/queries/{id}", h.GetQuery).Methods("GET")
	router.HandleFunc("/queries/{id}/classification", h.ClassifyQuery).Methods("PATCH")
}

// ListTargets handles GET /targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.monitor.ListTargets(r.Context())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, targets)
}

// StartMonitoring handles POST /targets/{targetId}/monitoring
func (h *Handler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["targetId"]

	var req struct {
		IntervalSeconds int        `json:"interval_seconds"`
		EndTime         *time.Time `json:"end_time"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.EndTime != nil && !req.EndTime.After(time.Now()) {
		respondError(w, http.StatusBadRequest, "end_time must be in the future")
		return
	}

	session, err := h.monitor.Start(r.Context(), targetID, req.IntervalSeconds, req.EndTime)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// StopMonitoring handles DELETE /targets/{targetId}/monitoring
func (h *Handler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["targetId"]

	if err := h.monitor.Stop(r.Context(), targetID); err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Monitoring stopped"})
}

// ListSessions handles GET /targets/{targetId}/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["targetId"]

	sessions, err := h.monitor.ListSessions(r.Context(), targetID)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, sessions)
}

// CollectNow handles POST /targets/{targetId}/collect
func (h *Handler) CollectNow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["targetId"]

	if err := h.monitor.CollectNow(r.Context(), targetID); err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Collection completed"})
}

// ListQueries handles GET /targets/{targetId}/queries
func (h *Handler) ListQueries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["targetId"]

	filter, err := parseQueryFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	queries, err := h.queries.List(r.Context(), targetID, filter)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, queries)
}

// GetQuery handles GET /queries/{id}
func (h *Handler) GetQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	detail, err := h.queries.Get(r.Context(), id)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, detail)
}

// ClassifyQuery handles PATCH /queries/{id}/classification
func (h *Handler) ClassifyQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var update models.ClassificationUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if update.IsKnown == nil && update.GroupID == nil {
		respondError(w, http.StatusBadRequest, "Classification update is empty")
		return
	}

	if err := h.queries.Classify(r.Context(), id, update); err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Classification updated"})
}

// parseQueryFilter builds a filter from list query parameters.
func parseQueryFilter(r *http.Request) (models.QueryFilter, error) {
	q := r.URL.Query()
	filter := models.QueryFilter{
		KnownOnly:  q.Get("known") == "true",
		GroupID:    q.Get("group"),
		TextSearch: q.Get("search"),
	}

	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return models.QueryFilter{}, fmt.Errorf("invalid from timestamp: %w", err)
		}
		filter.From = &ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return models.QueryFilter{}, fmt.Errorf("invalid to timestamp: %w", err)
		}
		filter.To = &ts
	}
	return filter, nil
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
