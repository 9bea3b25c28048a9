package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Tyav/anymessage/internal/domain"
)

// withSubdomainField validates that the named JSON body field holds a
// well-formed subdomain before the handler runs. Validation stops at the
// first failing rule. The body is restored for downstream reads.
func (r *Router) withSubdomainField(field string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read body")
			return
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		var value string
		if raw, ok := payload[field]; ok {
			if err := json.Unmarshal(raw, &value); err != nil {
				writeError(w, http.StatusBadRequest, field+" must be a string")
				return
			}
		}
		if value == "" {
			writeError(w, http.StatusBadRequest, field+" is required")
			return
		}
		if !domain.ValidSubdomain(value) {
			writeError(w, http.StatusBadRequest, field+" may only contain characters in [0-9a-z-]")
			return
		}
		next(w, req)
	}
}
