package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Defaults used when a block or attribute is absent.
const (
	DefaultAddr              = ":8080"
	DefaultOrigin            = "http://localhost:8080"
	DefaultHeartbeatInterval = time.Second
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultRelayNamespace    = "/"
	DefaultConnectTimeout    = 15 * time.Second
)

// Model is the complete runner configuration.
type Model struct {
	Server    Server
	Store     Store
	Libraries Libraries
	Heartbeat Heartbeat
	// Relay is nil unless a relay block was configured.
	Relay *Relay
}

// Server configures the HTTP surface.
type Server struct {
	Addr string
	// ExpectedOrigin is the editor origin heartbeat messages are exchanged
	// with.
	ExpectedOrigin string
	RunnerURL      string
	ReturnURL      string
	RateLimit      float64
	RateBurst      int
	// TrustedFunctions marks every custom function as trusted so that valid
	// ones are registered with status good. Unset means trusted; set it to
	// false to report every function as untrusted.
	TrustedFunctions *bool
}

// FunctionsTrusted reports whether custom functions are trusted.
func (s Server) FunctionsTrusted() bool {
	return s.TrustedFunctions == nil || *s.TrustedFunctions
}

// Store selects the storage medium.
type Store struct {
	Driver string
	// DSN is a file path for sqlite and a connection URL for redis and
	// postgres.
	DSN          string
	PollInterval time.Duration
}

// Libraries configures library resolution. Empty values keep the resolver
// defaults.
type Libraries struct {
	CDN              string
	HostRuntimeNames []string
	HostRuntimeURL   string
}

// Heartbeat configures runner polling.
type Heartbeat struct {
	Interval time.Duration
}

// Relay configures a standalone heartbeat session over socket.io.
type Relay struct {
	URL       string
	Namespace string
	Host      string
	SnippetID string

	// Origin is the origin this runner identifies as on the relay. It
	// defaults to the origin of Server.RunnerURL.
	Origin string

	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Defaults fills in every unset value.
func (m *Model) Defaults() {
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.ExpectedOrigin == "" {
		m.Server.ExpectedOrigin = DefaultOrigin
	}
	if m.Server.RunnerURL == "" {
		m.Server.RunnerURL = m.Server.ExpectedOrigin
	}
	if m.Server.ReturnURL == "" {
		m.Server.ReturnURL = m.Server.ExpectedOrigin + "/"
	}
	if m.Server.TrustedFunctions == nil {
		trusted := true
		m.Server.TrustedFunctions = &trusted
	}
	if m.Store.Driver == "" {
		m.Store.Driver = DriverMemory
	}
	if m.Store.PollInterval == 0 {
		m.Store.PollInterval = DefaultPollInterval
	}
	if m.Heartbeat.Interval == 0 {
		m.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if m.Relay != nil {
		if m.Relay.Namespace == "" {
			m.Relay.Namespace = DefaultRelayNamespace
		}
		if m.Relay.Origin == "" {
			m.Relay.Origin = originOf(m.Server.RunnerURL)
		}
		if m.Relay.ConnectTimeout == 0 {
			m.Relay.ConnectTimeout = DefaultConnectTimeout
		}
	}
}

// Validate reports every invalid value at once.
func (m *Model) Validate() error {
	var errs []error
	if err := checkOrigin("server.expected_origin", m.Server.ExpectedOrigin); err != nil {
		errs = append(errs, err)
	}
	if m.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative, got %v", m.Server.RateLimit))
	}
	switch m.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverRedis, DriverPostgres:
		if m.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the %s driver", m.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite, redis, postgres", m.Store.Driver))
	}
	if m.Store.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("store.poll_interval must not be negative, got %s", m.Store.PollInterval))
	}
	if m.Heartbeat.Interval < 0 {
		errs = append(errs, fmt.Errorf("heartbeat.interval must not be negative, got %s", m.Heartbeat.Interval))
	}
	if r := m.Relay; r != nil {
		if r.URL == "" {
			errs = append(errs, errors.New("relay.url is required"))
		}
		if r.Host == "" {
			errs = append(errs, errors.New("relay.host is required"))
		}
		if err := checkOrigin("relay.origin", r.Origin); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkOrigin(field, origin string) error {
	if origin == "*" {
		return fmt.Errorf("%s must name a single origin, not the wildcard", field)
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q is not an origin of the form scheme://host[:port]", field, origin)
	}
	return nil
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
