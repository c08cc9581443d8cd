package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/model"
)

const maxSnippetBytes = 4 << 20

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.editor.List(r.Context(), chi.URLParam(r, "host"))
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

type createRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	snippet, err := s.editor.Create(r.Context(), chi.URLParam(r, "host"), req.Name)
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snippet)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snippet, err := s.editor.Resolve(r.Context(), chi.URLParam(r, "host"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snippet)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var snippet model.Snippet
	if err := decodeJSON(w, r, &snippet, false); err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if snippet.ID != "" && snippet.ID != id {
		s.writeJSONError(w, r, fault.Newf(fault.Malformed, "the snippet id %q does not match the URL", snippet.ID))
		return
	}
	snippet.ID = id
	snippet.Host = chi.URLParam(r, "host")

	saved, err := s.editor.Save(r.Context(), snippet)
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.editor.Delete(r.Context(), chi.URLParam(r, "host"), chi.URLParam(r, "id")); err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	snippet, err := s.editor.Open(r.Context(), chi.URLParam(r, "host"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snippet)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnippetBytes))
	if err != nil {
		s.writeJSONError(w, r, fault.Wrap(fault.Malformed, err, "the request body could not be read"))
		return
	}
	snippet, err := s.editor.Import(r.Context(), chi.URLParam(r, "host"), data)
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snippet)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	out, err := s.editor.Export(r.Context(), chi.URLParam(r, "host"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// decodeJSON reports a Malformed fault for a body that does not decode. An
// empty body is accepted only when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnippetBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return fault.New(fault.Malformed, "the request body is empty")
		}
		return fault.Wrap(fault.Malformed, err, "the request body is not valid JSON")
	}
	return nil
}
