package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/tower"
)

func profileFromContext(r *http.Request) gateway.AgentProfile {
	p, _ := r.Context().Value(towerProfileKey{}).(gateway.AgentProfile)
	return p
}

type towerRequestBody struct {
	Capability string          `json:"capability"`
	Payload    json.RawMessage `json:"payload"`
	SessionID  string          `json:"session_id,omitempty"`
}

type towerRequestMeta struct {
	TokensUsed          int     `json:"tokens_used"`
	CostEstimate        float64 `json:"cost_estimate"`
	DailySpendTotal     float64 `json:"daily_spend_total"`
	DailySpendRemaining float64 `json:"daily_spend_remaining"`
}

type towerRequestResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Meta    towerRequestMeta `json:"meta"`
}

// handleTowerRequest serves POST /v1/tower/request (spec §4.9, §6).
func (s *server) handleTowerRequest(w http.ResponseWriter, r *http.Request) {
	var body towerRequestBody
	if err := decodeJSON(r, &body); err != nil || body.Capability == "" {
		writeError(w, gateway.ErrValidationFailed)
		return
	}

	profile := profileFromContext(r)
	res, err := s.deps.Tower.Dispatch(r.Context(), profile, tower.Request{
		Capability: body.Capability,
		Payload:    body.Payload,
		SessionID:  body.SessionID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, towerRequestResponse{
		Status: res.Status,
		Result: res.Result,
		Meta: towerRequestMeta{
			TokensUsed:          res.TokensUsed,
			CostEstimate:        res.CostEstimate,
			DailySpendTotal:     res.DailySpendTotal,
			DailySpendRemaining: res.DailySpendRemaining,
		},
	})
}

// handleTowerStatus serves GET /v1/tower/status (spec §4.9, §6).
func (s *server) handleTowerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tower.Status(profileFromContext(r)))
}

// handleTowerAudit serves GET /v1/tower/audit (spec §4.9, §6). Non-admin
// agents are restricted to their own audit trail; admins may pass ?agent=
// to scope to one agent or omit it to see every agent's entries.
func (s *server) handleTowerAudit(w http.ResponseWriter, r *http.Request) {
	profile := profileFromContext(r)
	agent := profile.Name
	if profile.IsAdmin {
		if q := r.URL.Query().Get("agent"); q != "" {
			agent = q
		} else {
			agent = ""
		}
	}

	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}

	writeJSON(w, http.StatusOK, s.deps.Tower.Audit(agent, limit))
}
