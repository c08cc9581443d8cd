package hcl

// fileRoot mirrors the top level of a runner configuration file. Unknown
// blocks and attributes are rejected by gohcl.
type fileRoot struct {
	Server    *serverBlock    `hcl:"server,block"`
	Store     *storeBlock     `hcl:"store,block"`
	Libraries *librariesBlock `hcl:"libraries,block"`
	Heartbeat *heartbeatBlock `hcl:"heartbeat,block"`
	Relay     *relayBlock     `hcl:"relay,block"`
}

type serverBlock struct {
	Addr             string  `hcl:"addr,optional"`
	ExpectedOrigin   string  `hcl:"expected_origin,optional"`
	RunnerURL        string  `hcl:"runner_url,optional"`
	ReturnURL        string  `hcl:"return_url,optional"`
	RateLimit        float64 `hcl:"rate_limit,optional"`
	RateBurst        int     `hcl:"rate_burst,optional"`
	TrustedFunctions *bool   `hcl:"trusted_functions,optional"`
}

type storeBlock struct {
	Driver       string `hcl:"driver,optional"`
	DSN          string `hcl:"dsn,optional"`
	PollInterval string `hcl:"poll_interval,optional"`
}

type librariesBlock struct {
	CDN              string   `hcl:"cdn,optional"`
	HostRuntimeNames []string `hcl:"host_runtime_names,optional"`
	HostRuntimeURL   string   `hcl:"host_runtime_url,optional"`
}

type heartbeatBlock struct {
	Interval string `hcl:"interval,optional"`
}

type relayBlock struct {
	URL                string `hcl:"url"`
	Namespace          string `hcl:"namespace,optional"`
	Origin             string `hcl:"origin,optional"`
	Host               string `hcl:"host"`
	SnippetID          string `hcl:"snippet_id,optional"`
	InsecureSkipVerify bool   `hcl:"insecure_skip_verify,optional"`
	ConnectTimeout     string `hcl:"connect_timeout,optional"`
}
