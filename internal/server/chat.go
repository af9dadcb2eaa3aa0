package server

import (
	"net/http"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/app"
)

// handleChat serves POST /v1/chat: normalized chat completion (spec §6).
// A body with "stream": true is relayed as an SSE stream instead of a
// single JSON response.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Messages) == 0 {
		writeError(w, gateway.ErrValidationFailed)
		return
	}

	principal := gateway.PrincipalFromContext(r.Context())
	kind := modelKindOrDefault(r.URL.Query().Get("kind"), app.DefaultChatKind)

	if req.Stream {
		s.streamChat(w, r, kind, &req, principal)
		return
	}

	resp, err := s.deps.Pipeline.ChatCompletion(r.Context(), kind, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) streamChat(w http.ResponseWriter, r *http.Request, kind gateway.ModelKind, req *gateway.ChatRequest, principal *gateway.Principal) {
	chunks, err := s.deps.Pipeline.ChatCompletionStream(r.Context(), kind, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSSEHeaders(w)
	flusher, _ := w.(http.Flusher)
	for chunk := range chunks {
		if chunk.Err != nil {
			writeSSEError(w, chunk.Err.Error())
			break
		}
		if chunk.Done {
			writeSSEDone(w)
			break
		}
		if len(chunk.Data) > 0 {
			writeSSEData(w, chunk.Data)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
}
