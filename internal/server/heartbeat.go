package server

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/heartbeat"
	"github.com/vk/snippetrunner/internal/messenger"
	"github.com/vk/snippetrunner/internal/messenger/wsport"
	"github.com/vk/snippetrunner/internal/model"
	"github.com/vk/snippetrunner/internal/store"
)

// handleHeartbeat binds a heartbeat session to a websocket for as long as
// the socket stays open.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	host := model.NormalizeHost(q.Get("host"))
	if host == "" {
		s.writeJSONError(w, r, fault.New(fault.Malformed, "the host query parameter is required"))
		return
	}
	var lastModified int64
	if raw := q.Get("lastModified"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			s.writeJSONError(w, r, fault.Newf(fault.Malformed, "lastModified must be a non-negative integer, got %q", raw))
			return
		}
		lastModified = v
	}

	port, err := wsport.Accept(w, r, s.logger)
	if err != nil {
		s.logger.WarnContext(r.Context(), "Heartbeat upgrade failed.", "error", err)
		return
	}
	logger := s.logger.With("session", port.PeerOrigin(), "snippet", q.Get("id"))

	m, err := messenger.New(s.cfg.ExpectedOrigin, port, logger)
	if err != nil {
		logger.Error("Cannot create heartbeat messenger.", "error", err)
		port.Close()
		return
	}
	ctrl, err := heartbeat.New(heartbeat.Config{
		Host:         host,
		SnippetID:    q.Get("id"),
		LastModified: lastModified,
		Interval:     s.cfg.HeartbeatInterval,
		Medium:       store.Fork(s.medium),
		Compiler:     s.compiler,
		Messenger:    m,
		Target:       port,
		Request:      s.heartbeatRequest(q, host),
		Logger:       logger,
	})
	if err != nil {
		logger.Error("Cannot create heartbeat.", "error", err)
		port.Close()
		return
	}

	ctx := r.Context()
	runErr := make(chan error, 1)
	go func() { runErr <- port.Run(ctx) }()

	if err := ctrl.Start(ctx); err != nil {
		logger.Error("Cannot start heartbeat.", "error", err)
		port.Close()
		<-runErr
		return
	}
	defer ctrl.Stop()

	if err := <-runErr; err != nil {
		logger.Debug("Heartbeat socket closed.", "error", err)
	}
}

// heartbeatRequest is the post-data a heartbeat compiles with.
func (s *Server) heartbeatRequest(q url.Values, host string) url.Values {
	values := url.Values{}
	for k, v := range q {
		switch k {
		case "lastModified", compiler.KeyData, compiler.KeyRefreshURL:
			continue
		}
		values[k] = append([]string(nil), v...)
	}
	values.Set(compiler.KeyHost, host)
	if values.Get(compiler.KeyRunnerURL) == "" {
		values.Set(compiler.KeyRunnerURL, s.cfg.RunnerURL)
	}
	if values.Get(compiler.KeyReturnURL) == "" {
		values.Set(compiler.KeyReturnURL, s.cfg.ReturnURL)
	}
	return values
}
