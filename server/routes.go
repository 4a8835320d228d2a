package server

import (
	"encoding/json"
	"net/http"
)

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"service": s.config.Divflow.Name,
			"version": s.config.Divflow.Version,
		})
	})

	s.mux.HandleFunc("GET /api/v1/dividends", s.handleGetDividends)
	s.mux.HandleFunc("POST /api/v1/sync", s.handleSync)
}
