package compiler

import (
	"net/url"
	"strings"

	"github.com/vk/snippetrunner/internal/fault"
)

// Post-data keys understood by the compiler.
const (
	KeyData       = "data"
	KeyHost       = "host"
	KeyID         = "id"
	KeyRunnerURL  = "runnerUrl"
	KeyReturnURL  = "returnUrl"
	KeyRefreshURL = "refreshUrl"
	KeyPlatform   = "platform"
)

// mandatoryKeys must be present and non-empty in every post-data set.
var mandatoryKeys = []string{KeyHost, KeyID, KeyRunnerURL, KeyReturnURL}

// omitFromRefresh are too large, or self-referential, to ride in a URL.
var omitFromRefresh = map[string]bool{
	KeyData:       true,
	KeyRefreshURL: true,
}

// PostData is the top-level field set of the request that initiated a run.
// Only the first value of each field is significant.
type PostData struct {
	values url.Values
}

// ParsePostData validates values and wraps them. A missing mandatory key is a
// Malformed fault naming the key.
func ParsePostData(values url.Values) (PostData, error) {
	for _, key := range mandatoryKeys {
		if strings.TrimSpace(values.Get(key)) == "" {
			return PostData{}, fault.Newf(fault.Malformed, "the request is missing the %q field", key)
		}
	}
	return PostData{values: values}, nil
}

// Get returns the first value of key.
func (p PostData) Get(key string) string { return p.values.Get(key) }

func (p PostData) Host() string      { return p.values.Get(KeyHost) }
func (p PostData) ID() string        { return p.values.Get(KeyID) }
func (p PostData) RunnerURL() string { return p.values.Get(KeyRunnerURL) }
func (p PostData) ReturnURL() string { return p.values.Get(KeyReturnURL) }
func (p PostData) Data() string      { return p.values.Get(KeyData) }

// Platform returns the platform flag, PlatformUnknown when absent.
func (p PostData) Platform() Platform { return ParsePlatform(p.values.Get(KeyPlatform)) }

// RefreshURL is the runner's /run endpoint carrying every top-level field as
// a query parameter except the snippet body and the refresh URL itself.
// Parameters are encoded in key order, so the result is stable.
func (p PostData) RefreshURL() string {
	q := url.Values{}
	for key, vals := range p.values {
		if omitFromRefresh[key] {
			continue
		}
		q[key] = append([]string(nil), vals...)
	}
	return strings.TrimRight(p.RunnerURL(), "/") + "/run?" + q.Encode()
}
