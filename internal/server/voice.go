package server

import (
	"encoding/base64"
	"io"
	"net/http"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/app"
)

type synthesizeRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
	VoiceID string `json:"voice_id,omitempty"`
}

func (b synthesizeRequest) voice() string {
	if b.Voice != "" {
		return b.Voice
	}
	return b.VoiceID
}

type synthesizeResponse struct {
	AudioBase64 string `json:"audio_base64"`
	ContentType string `json:"content_type"`
}

// handleVoice serves POST /v1/voice (spec §6): non-streaming by default,
// or a chunked audio/mpeg body when the request carries ?stream=true.
func (s *server) handleVoice(w http.ResponseWriter, r *http.Request) {
	var body synthesizeRequest
	if err := decodeJSON(r, &body); err != nil || body.Text == "" {
		writeError(w, gateway.ErrValidationFailed)
		return
	}

	kind := modelKindOrDefault(r.URL.Query().Get("kind"), app.DefaultVoiceKind)
	req := &gateway.VoiceRequest{Text: body.Text, Voice: body.voice()}

	if r.URL.Query().Get("stream") == "true" {
		s.streamVoice(w, r, kind, req)
		return
	}

	res, err := s.deps.Pipeline.Synthesize(r.Context(), kind, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, synthesizeResponse{
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
		ContentType: res.ContentType,
	})
}

func (s *server) streamVoice(w http.ResponseWriter, r *http.Request, kind gateway.ModelKind, req *gateway.VoiceRequest) {
	body, err := s.deps.Pipeline.SynthesizeStream(r.Context(), kind, req)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}
