package handler

import "net/http"

// apiKeyHeader carries the raw API key on authenticated requests.
const apiKeyHeader = "X-API-Key"

// requireAPIKey rejects requests without a valid API key. The verifier does
// the HMAC hashing and constant-time comparison.
func (h *Handler) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			h.writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing api key")
			return
		}
		if _, err := h.verifier.Verify(r.Context(), key); err != nil {
			h.writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}
