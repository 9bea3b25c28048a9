package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Tyav/anymessage/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service failure onto the response. An error
// carrying both a status and a message produces that status with
// {"error": message}; a status alone produces that status with an empty
// body; anything else produces a bare 500. Server-side detail stays in
// the logs.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var se *domain.StatusError
	if errors.As(err, &se) {
		status := se.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		} else {
			r.logger.Warn("request rejected", "method", req.Method, "path", req.URL.Path, "error", err)
		}
		if se.Status != 0 && se.Message != "" {
			writeError(w, status, se.Message)
			return
		}
		w.WriteHeader(status)
		return
	}
	r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
	w.WriteHeader(http.StatusInternalServerError)
}
