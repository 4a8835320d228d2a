package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"divflow/logger"
	"divflow/models"
)

func (s *Server) handleGetDividends(w http.ResponseWriter, r *http.Request) {
	startParam := r.URL.Query().Get("start")
	endParam := r.URL.Query().Get("end")
	if startParam == "" || endParam == "" {
		http.Error(w, "start and end query parameters are required", http.StatusBadRequest)
		return
	}

	start, err := models.ParseDate(startParam)
	if err != nil {
		http.Error(w, "invalid start date", http.StatusBadRequest)
		return
	}
	end, err := models.ParseDate(endParam)
	if err != nil {
		http.Error(w, "invalid end date", http.StatusBadRequest)
		return
	}
	if end.Before(start) {
		http.Error(w, "end must not precede start", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	announcements, err := s.store.ScanRange(ctx, start, end)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Error("range query failed")
		http.Error(w, "query error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]models.WireAnnouncement, 0, len(announcements))
	for _, a := range announcements {
		items = append(items, a.Wire())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.syncMu.TryLock() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "sync already running"})
		return
	}
	defer s.syncMu.Unlock()

	result, err := s.runner.Run(r.Context())
	if err != nil {
		entry := s.log.WithComponent("server").WithError(err)
		if result != nil {
			entry = entry.WithFields(logger.Fields{"run_id": result.RunID})
		}
		entry.Error("sync run failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
