package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/crypto/blake2b"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/fault"
)

// statusFor maps a classified error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, compiler.ErrMissingContent) {
		return http.StatusUnprocessableEntity
	}
	switch fault.KindOf(err) {
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Malformed:
		return http.StatusBadRequest
	case fault.StaleConflict:
		return http.StatusConflict
	case fault.TransportFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

const internalMessage = "Something went wrong while preparing the snippet."

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write JSON response.", "error", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.ErrorContext(r.Context(), "Request failed.", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorBody{
		Error: fault.UserMessage(err, internalMessage),
		Kind:  fault.KindOf(err).String(),
	})
}

// writePageError renders the user-facing error page.
func (s *Server) writePageError(w http.ResponseWriter, r *http.Request, err error, returnURL string) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.ErrorContext(r.Context(), "Request failed.", "path", r.URL.Path, "error", err)
	} else {
		s.logger.InfoContext(r.Context(), "Request rejected.", "path", r.URL.Path, "status", status, "error", err)
	}
	page, rerr := s.renderer.RenderError(http.StatusText(status), fault.UserMessage(err, internalMessage), returnURL)
	if rerr != nil {
		http.Error(w, fault.UserMessage(err, internalMessage), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(page)
}

// etag is a strong validator derived from the document bytes.
func etag(body []byte) string {
	sum := blake2b.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// writeDocument writes an HTML document with an ETag, answering 304 when the
// client already has it.
func writeDocument(w http.ResponseWriter, r *http.Request, body []byte) {
	tag := etag(body)
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
