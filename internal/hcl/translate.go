package hcl

import (
	"fmt"
	"strings"
	"time"

	"github.com/vk/snippetrunner/internal/config"
)

// translate converts the decoded schema into the agnostic model. Defaults
// are applied by the caller.
func translate(root *fileRoot) (*config.Model, error) {
	m := &config.Model{}
	if s := root.Server; s != nil {
		m.Server = config.Server{
			Addr:             s.Addr,
			ExpectedOrigin:   strings.TrimRight(s.ExpectedOrigin, "/"),
			RunnerURL:        s.RunnerURL,
			ReturnURL:        s.ReturnURL,
			RateLimit:        s.RateLimit,
			RateBurst:        s.RateBurst,
			TrustedFunctions: s.TrustedFunctions,
		}
	}
	if s := root.Store; s != nil {
		poll, err := duration("store.poll_interval", s.PollInterval)
		if err != nil {
			return nil, err
		}
		m.Store = config.Store{
			Driver:       strings.ToLower(s.Driver),
			DSN:          s.DSN,
			PollInterval: poll,
		}
	}
	if l := root.Libraries; l != nil {
		m.Libraries = config.Libraries{
			CDN:              l.CDN,
			HostRuntimeNames: l.HostRuntimeNames,
			HostRuntimeURL:   l.HostRuntimeURL,
		}
	}
	if h := root.Heartbeat; h != nil {
		interval, err := duration("heartbeat.interval", h.Interval)
		if err != nil {
			return nil, err
		}
		m.Heartbeat.Interval = interval
	}
	if r := root.Relay; r != nil {
		timeout, err := duration("relay.connect_timeout", r.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		m.Relay = &config.Relay{
			URL:                r.URL,
			Namespace:          r.Namespace,
			Origin:             strings.TrimRight(r.Origin, "/"),
			Host:               r.Host,
			SnippetID:          r.SnippetID,
			InsecureSkipVerify: r.InsecureSkipVerify,
			ConnectTimeout:     timeout,
		}
	}
	return m, nil
}

// duration parses an optional duration attribute. Empty means unset.
func duration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
