// Package config provides configuration loading for Agent Gate.
//
// Two documents make up the gateway's configuration (spec §6.3, §9's "global
// configuration ... constructed once at startup from two documents"):
//
//   - the runtime document (RuntimeConfig): transport binding, TLS material,
//     the agent bearer token, the messenger section, service endpoints, the
//     durable-store path, the approval timeout, and rate-limit knobs.
//   - the policy document (PolicyDocument, see policy.go): the defaults and
//     rules lists the permission engine evaluates.
//
// Hot reload is explicitly unsupported; both documents are read once.
package config

// RuntimeConfig is the top-level runtime configuration for Agent Gate.
type RuntimeConfig struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Messenger MessengerConfig `yaml:"messenger" mapstructure:"messenger"`
	Services  ServicesConfig  `yaml:"services" mapstructure:"services"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// ApprovalTimeoutSeconds is how long an `ask` verdict waits for a human
	// decision before resolving as timeout (spec §4.J.6.e, default 900).
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds" mapstructure:"approval_timeout_seconds" validate:"omitempty,min=1"`

	// PolicyFile is the path to the policy document (defaults/rules, §6.3).
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file" validate:"required"`

	// DevMode switches logging to text output at debug level, mirroring the
	// teacher's DevMode flag. It does not affect the TLS requirement; only
	// Server.Insecure does.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`

	// LogLevel sets the minimum log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// ServerConfig configures the WebSocket listener.
type ServerConfig struct {
	// ListenAddr is the address to bind to (e.g. "0.0.0.0:8443").
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"required,hostname_port"`

	// Insecure disables the default TLS requirement (spec §6.1 "the gateway
	// refuses to start in the default mode without TLS material configured").
	// It is set only through the `insecure` key of the server section; there
	// is no command-line flag for it.
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`

	// TLSCertFile and TLSKeyFile are the certificate and key paths used
	// when Insecure is false. Loading mechanics are out of scope (spec §1);
	// this package only carries the paths.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file"`
}

// AuthConfig carries the agent bearer token compared in the `auth` method
// (spec §4.J). BearerToken is the plaintext compared with crypto/subtle at
// connection time; BearerTokenHash is an optional argon2id hash persisted
// alongside it purely so operators can verify what's on disk without
// keeping the plaintext in the config file (see hashtoken.go).
type AuthConfig struct {
	BearerToken     string `yaml:"bearer_token" mapstructure:"bearer_token" validate:"required"`
	BearerTokenHash string `yaml:"bearer_token_hash" mapstructure:"bearer_token_hash"`
}

// MessengerConfig configures the out-of-band approval channel (spec §4.I).
// AllowedUsers MUST be non-empty (spec §6.3); enforced in validator.go since
// a struct tag alone can't express "required and non-empty" for a slice with
// a clean error message matching the teacher's validation error style.
type MessengerConfig struct {
	// Type selects the concrete adapter. Only "webhook" is implemented;
	// additional backends are out of scope (spec §1).
	Type string `yaml:"type" mapstructure:"type" validate:"required,oneof=webhook"`

	SendURL        string   `yaml:"send_url" mapstructure:"send_url" validate:"required,url"`
	UpdateURL      string   `yaml:"update_url" mapstructure:"update_url" validate:"required,url"`
	AllowedUsers   []string `yaml:"allowed_users" mapstructure:"allowed_users"`
	RequestTimeout string   `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty"`
}

// ServicesConfig configures downstream service clients (spec §4.H).
type ServicesConfig struct {
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant" mapstructure:"home_assistant"`
}

// HomeAssistantConfig configures the reference downstream service client.
type HomeAssistantConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Token   string `yaml:"token" mapstructure:"token"`
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// StoreConfig configures the durable pending-request/audit-log store
// (spec §4.E, §4.F, §6.2).
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// RateLimitConfig configures the two independent checks of spec §4.G.
type RateLimitConfig struct {
	// MaxRequestsPerMinute bounds the request-rate dimension. Default 60.
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute" mapstructure:"max_requests_per_minute" validate:"omitempty,min=1"`

	// MaxPendingApprovals bounds the concurrent ask-pending dimension.
	// Default 10.
	MaxPendingApprovals int `yaml:"max_pending_approvals" mapstructure:"max_pending_approvals" validate:"omitempty,min=1"`
}

// SetDefaults applies sensible default values, matching the teacher's
// SetDefaults pattern of never overwriting an explicitly configured value.
func (c *RuntimeConfig) SetDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0:8443"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ApprovalTimeoutSeconds == 0 {
		c.ApprovalTimeoutSeconds = 900
	}
	if c.RateLimit.MaxRequestsPerMinute == 0 {
		c.RateLimit.MaxRequestsPerMinute = 60
	}
	if c.RateLimit.MaxPendingApprovals == 0 {
		c.RateLimit.MaxPendingApprovals = 10
	}
	if c.Messenger.RequestTimeout == "" {
		c.Messenger.RequestTimeout = "10s"
	}
	if c.Services.HomeAssistant.Timeout == "" {
		c.Services.HomeAssistant.Timeout = "10s"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./agent-gate.db"
	}
}
