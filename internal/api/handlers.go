package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/analytics"
	"github.com/patrickwarner/adselection/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler reports catalog size, and 503 once the worker pool is shut down.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	contents, groups := 0, 0
	if s.Catalog != nil {
		contents, groups = s.Catalog.Counts()
	}
	body := map[string]any{
		"status":           "ok",
		"contents":         contents,
		"targeting_groups": groups,
	}
	if s.Pool != nil && s.Pool.Closed() {
		body["status"] = "shutting_down"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// ReloadHandler reloads the catalog from Postgres.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	res, err := s.Reload(r.Context())
	if err != nil {
		logger.Error("reload failed", zap.Error(err))
		http.Error(w, "reload failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contents":           res.Contents,
		"targeting_groups":   res.TargetingGroups,
		"missing_predicates": res.MissingPredicates,
	})
}

// ClickHandler counts a click for a targeting group so the next CTR refresh
// can take it into account.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	id := mux.Vars(r)["targetingGroupID"]

	if s.Store == nil || s.Store.Client == nil {
		http.Error(w, "click tracking unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.Store.IncrementClick(r.Context(), id); err != nil {
		logger.Error("failed to record click", zap.String("targeting_group_id", id), zap.Error(err))
		http.Error(w, "failed to record click", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectionHandler returns the recorded analytics row for a selection id.
func (s *Server) SelectionHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	id := mux.Vars(r)["id"]

	if s.Analytics == nil {
		http.Error(w, "analytics unavailable", http.StatusServiceUnavailable)
		return
	}
	ev, err := s.Analytics.GetSelection(r.Context(), id)
	if err != nil {
		if errors.Is(err, analytics.ErrUnavailable) {
			http.Error(w, "analytics unavailable", http.StatusServiceUnavailable)
			return
		}
		logger.Error("selection lookup failed", zap.String("selection_id", id), zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if ev == nil {
		http.Error(w, "selection not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
