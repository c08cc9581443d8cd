package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/model"
)

const maxFormBytes = 8 << 20

// handleCompile renders the snippet posted in the data field.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.writePageError(w, r, fault.Wrap(fault.Malformed, err, "the request body could not be read"), "")
		return
	}
	post, err := compiler.ParsePostData(r.PostForm)
	if err != nil {
		s.writePageError(w, r, err, r.PostForm.Get(compiler.KeyReturnURL))
		return
	}

	var snippet *model.Snippet
	if data := strings.TrimSpace(post.Data()); data != "" {
		snippet = &model.Snippet{}
		if err := json.Unmarshal([]byte(data), snippet); err != nil {
			s.writePageError(w, r, fault.Wrap(fault.Malformed, err, "the snippet data is not valid JSON"), post.ReturnURL())
			return
		}
		if snippet.ID == "" {
			snippet.ID = post.ID()
		}
	}
	s.compileAndWrite(w, r, snippet, post)
}

// handleRun is the refresh hand-off: the snippet is looked up by id.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	post, err := compiler.ParsePostData(r.URL.Query())
	if err != nil {
		s.writePageError(w, r, err, r.URL.Query().Get(compiler.KeyReturnURL))
		return
	}
	snippet, err := s.editor.Resolve(r.Context(), post.Host(), post.ID())
	if err != nil {
		s.writePageError(w, r, err, post.ReturnURL())
		return
	}
	s.compileAndWrite(w, r, &snippet, post)
}

func (s *Server) compileAndWrite(w http.ResponseWriter, r *http.Request, snippet *model.Snippet, post compiler.PostData) {
	ctx, err := s.compiler.Compile(r.Context(), snippet, post)
	if err != nil {
		s.writePageError(w, r, err, post.ReturnURL())
		return
	}
	page, err := s.renderer.RenderRunner(ctx)
	if err != nil {
		s.writePageError(w, r, err, post.ReturnURL())
		return
	}
	writeDocument(w, r, page)
}
