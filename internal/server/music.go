package server

import (
	"net/http"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/app"
)

type createMusicRequest struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration,omitempty"`
}

// handleCreateMusic serves POST /v1/music (spec §6).
func (s *server) handleCreateMusic(w http.ResponseWriter, r *http.Request) {
	var body createMusicRequest
	if err := decodeJSON(r, &body); err != nil || body.Prompt == "" {
		writeError(w, gateway.ErrValidationFailed)
		return
	}

	kind := modelKindOrDefault(r.URL.Query().Get("kind"), app.DefaultMusicKind)
	res, err := s.deps.Pipeline.CreateMusic(r.Context(), kind, &gateway.MusicRequest{
		Prompt:   body.Prompt,
		Duration: body.Duration,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
