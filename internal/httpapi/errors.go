package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
)

// writeError maps an apperr.Kind to its HTTP status (spec §7) and writes a
// JSON error body, centralizing the one choke point every handler funnels
// errors through.
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal("unexpected error", err)
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindInvalidInput:
		status = http.StatusUnprocessableEntity
	case apperr.KindBadRequest:
		status = http.StatusBadRequest
	case apperr.KindInternal:
		status = http.StatusInternalServerError
	}

	body := map[string]interface{}{"message": appErr.Message}
	for k, v := range appErr.Details {
		body[k] = v
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.InvalidInput("malformed JSON body")
	}
	return nil
}
