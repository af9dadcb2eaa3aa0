package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/app"
)

type createImageRequest struct {
	Prompt     string `json:"prompt"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	NumOutputs int    `json:"num_outputs,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
}

type imageResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output,omitempty"`
	URLs   []string `json:"urls,omitempty"`
}

// handleCreateImage serves POST /v1/images (spec §6).
func (s *server) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	var body createImageRequest
	if err := decodeJSON(r, &body); err != nil || body.Prompt == "" {
		writeError(w, gateway.ErrValidationFailed)
		return
	}

	kind := modelKindOrDefault(r.URL.Query().Get("kind"), app.DefaultImageKind)
	pred, err := s.deps.Pipeline.CreateImage(r.Context(), kind, &gateway.ImageRequest{
		Prompt:     body.Prompt,
		Width:      body.Width,
		Height:     body.Height,
		NumOutputs: body.NumOutputs,
		Wait:       body.Wait,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.hostImageOutputs(r, pred))
}

// handleGetImage serves GET /v1/images/{id}: a prediction snapshot,
// persisting any newly-available output to the hosted-image registry
// (C13) the same way a synchronous creation response would.
func (s *server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	kind := modelKindOrDefault(r.URL.Query().Get("kind"), app.DefaultImageKind)
	pred, err := s.deps.Pipeline.GetImage(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.hostImageOutputs(r, pred))
}

func (s *server) hostImageOutputs(r *http.Request, pred *gateway.ImagePrediction) imageResponse {
	resp := imageResponse{ID: pred.ID, Status: pred.Status, Output: pred.Output}
	if s.deps.Images == nil || pred.Status != "succeeded" || len(pred.Output) == 0 {
		return resp
	}

	principal := gateway.PrincipalFromContext(r.Context())
	if principal == nil || principal.Kind == gateway.PrincipalAnonymous {
		resp.URLs = pred.Output
		return resp
	}

	outcomes := s.deps.Images.Persist(r.Context(), principal.UserID, pred.ID, pred.Output)
	urls := make([]string, len(outcomes))
	for i, o := range outcomes {
		urls[i] = o.URL
	}
	resp.URLs = urls
	return resp
}
