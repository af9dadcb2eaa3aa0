package server

import (
	"encoding/json"
	"net/http"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

var jsonContentType = []string{"application/json"}

// writeJSON marshals v and writes it with status, matching the teacher's
// convention of a pre-allocated header value slice to avoid the
// Header.Set canonicalization allocation.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonContentType
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the client-facing error envelope (spec §7).
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// writeError maps a domain sentinel error to its HTTP status and code and
// writes the standard error envelope. Any extra fields a specific error
// kind carries (rate_limited's resetInSeconds, spend_cap_exceeded's period/
// limit/current) are merged in by the caller via writeErrorWithExtra.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, gateway.HTTPStatus(err), errorBody{
		Error: errorDetail{Message: err.Error(), Code: string(gateway.ErrorCode(err))},
	})
}

// writeErrorWithExtra writes the standard error envelope plus additional
// top-level fields (spec §7: rate_limited carries resetInSeconds,
// spend_cap_exceeded carries period/limit/current/resetInfo).
func writeErrorWithExtra(w http.ResponseWriter, err error, extra map[string]any) {
	status := gateway.HTTPStatus(err)
	w.Header()["Content-Type"] = jsonContentType
	w.WriteHeader(status)

	body := map[string]any{
		"error": errorDetail{Message: err.Error(), Code: string(gateway.ErrorCode(err))},
	}
	for k, v := range extra {
		body[k] = v
	}
	json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return gateway.ErrValidationFailed
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return gateway.ErrValidationFailed
	}
	return nil
}
