package server

import (
	"net/http"

	"github.com/wayfarerhq/gandalf/internal/app"
)

// handleEphemeral serves GET /v1/ephemeral: an ephemeral realtime session
// descriptor (spec §6).
func (s *server) handleEphemeral(w http.ResponseWriter, r *http.Request) {
	kind := modelKindOrDefault(r.URL.Query().Get("kind"), app.DefaultRealtimeKind)
	sess, err := s.deps.Pipeline.CreateEphemeralSession(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
