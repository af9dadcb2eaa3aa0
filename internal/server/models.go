package server

import "net/http"

// handleModels serves GET /v1/models: the flat, de-duplicated catalog
// listing (spec §4.5, §6).
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.deps.Catalog.Models()})
}
