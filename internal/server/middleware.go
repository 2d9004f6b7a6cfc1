package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/AndrewLee0430/medinotes/internal/phi"
)

// maxBodySize bounds buffered request bodies.
const maxBodySize = 1 << 20

// userID extracts the caller identity. Real authentication is owned by
// the deployment's edge; the service trusts the X-User-ID header.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

// errorResponse is the structured error payload for all endpoints.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writePHIRejection reports a detected PHI category. The matched text
// is never echoed back.
func writePHIRejection(w http.ResponseWriter, category string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":    "phi_detected",
		"category": category,
		"message":  "Request contains potential protected health information and was rejected.",
	})
}

// phiGate rejects POST bodies containing PHI before the handler runs.
// The body is buffered and restored for the downstream handler.
func phiGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "reading request body")
			return
		}
		r.Body.Close()

		if category, found := phi.Detect(string(body)); found {
			writePHIRejection(w, category)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// decodeAndValidate decodes a JSON body into v and runs struct
// validation. It writes the error response itself and reports whether
// the handler should continue.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return false
	}
	return true
}
