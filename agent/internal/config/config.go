package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSenderInterval    = 30 * time.Second
	DefaultValidatorInterval = 10 * time.Second
	DefaultValidatorTimeout  = 300 * time.Second
	DefaultHotUpdateInterval = 5 * time.Second
	DefaultHTTPTimeout       = 2 * time.Second
	DefaultConnectTimeout    = 1 * time.Second
	DefaultMetricsPort       = 61616
	DefaultForwardBuffer     = 1024
	DefaultStoragePath       = "default_db"
	DefaultVerifyAPIURL      = "http://127.0.0.1:3000/auto_tx/api/get_onchain_hash"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// idPattern restricts target ids and tenant tags so "/" can delimit store keys.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Config is the full probe configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	// SenderInterval controls how often every target receives one submission.
	SenderInterval time.Duration `yaml:"sender_interval"`

	// ValidatorInterval controls how often pending verifications are probed.
	ValidatorInterval time.Duration `yaml:"validator_interval"`

	// ValidatorTimeout is how long a submitted transaction may stay unconfirmed
	// before it is counted as failed. Targets may override it.
	ValidatorTimeout time.Duration `yaml:"validator_timeout"`

	// HotUpdateInterval controls how often the config file is re-read.
	HotUpdateInterval time.Duration `yaml:"hot_update_interval"`

	// HTTPTimeout bounds one submit or probe round trip.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// ConnectTimeout bounds the TCP dial of one submit or probe.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// VerifyAPIURL is the probe endpoint used by targets without probe_url.
	VerifyAPIURL string `yaml:"verify_api_url"`

	// MetricsPort is the port the /metrics endpoint listens on.
	MetricsPort int `yaml:"metrics_port"`

	// ForwardBuffer is the capacity of the finalized-bucket queue.
	ForwardBuffer int `yaml:"forward_buffer"`

	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`

	// Targets is the ordered list of monitored services.
	Targets []Target `yaml:"targets"`
}

// StorageConfig selects and locates the persistent store.
type StorageConfig struct {
	// Backend is one of: sqlite | redis | memory.
	Backend string `yaml:"backend"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// RedisURL is used when Backend == "redis", e.g. redis://localhost:6379/0.
	RedisURL string `yaml:"redis_url"`

	// RedisPrefix namespaces the collection hashes. Defaults to "slaprobe:".
	RedisPrefix string `yaml:"redis_prefix"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// Target describes one monitored service: where transactions are submitted
// and where their confirmation is probed.
type Target struct {
	// ID is a unique identifier used in metric labels and store keys.
	ID string `yaml:"id"`

	// SubmitURL receives POST requests carrying Payload.
	SubmitURL string `yaml:"submit_url"`

	// ProbeURL receives GET requests asking for a transaction's status.
	// A "{hash}" placeholder is replaced with the transaction handle.
	ProbeURL string `yaml:"probe_url"`

	// Payload is the JSON body sent with every submission.
	Payload string `yaml:"payload"`

	// Tenant is the user tag sent in the user_code header.
	Tenant string `yaml:"tenant"`

	// Timeout overrides ValidatorTimeout for this target when positive.
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures how the probe authenticates to this target.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for a target.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header carrying the API key when Mode == "apikey".
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds per-target TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// TimeoutFor returns the verification timeout that applies to target id.
func (c *Config) TimeoutFor(id string) time.Duration {
	if t, ok := c.Target(id); ok && t.Timeout > 0 {
		return t.Timeout
	}
	return c.ValidatorTimeout
}

// Target returns the target with the given id.
func (c *Config) Target(id string) (Target, bool) {
	for _, t := range c.Targets {
		if t.ID == id {
			return t, true
		}
	}
	return Target{}, false
}

// ProbeURLFor returns the probe endpoint for t, falling back to VerifyAPIURL.
func (c *Config) ProbeURLFor(t Target) string {
	if t.ProbeURL != "" {
		return t.ProbeURL
	}
	return c.VerifyAPIURL
}

// envOverrides are applied after the YAML file. Zero values leave the file
// setting untouched.
type envOverrides struct {
	LogLevel       string `env:"SLA_LOG_LEVEL"`
	MetricsPort    int    `env:"SLA_METRICS_PORT"`
	StoragePath    string `env:"SLA_STORAGE_PATH"`
	StorageBackend string `env:"SLA_STORAGE_BACKEND"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults, then environment
// overrides are applied and the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var ov envOverrides
	if _, err := env.UnmarshalFromEnviron(&ov); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if ov.MetricsPort != 0 {
		cfg.MetricsPort = ov.MetricsPort
	}
	if ov.StoragePath != "" {
		cfg.Storage.Path = ov.StoragePath
	}
	if ov.StorageBackend != "" {
		cfg.Storage.Backend = ov.StorageBackend
	}
	return nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		SenderInterval:    DefaultSenderInterval,
		ValidatorInterval: DefaultValidatorInterval,
		ValidatorTimeout:  DefaultValidatorTimeout,
		HotUpdateInterval: DefaultHotUpdateInterval,
		HTTPTimeout:       DefaultHTTPTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		VerifyAPIURL:      DefaultVerifyAPIURL,
		MetricsPort:       DefaultMetricsPort,
		ForwardBuffer:     DefaultForwardBuffer,
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    DefaultStoragePath,
		},
		Log: LogConfig{Level: "info"},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.SenderInterval <= 0 {
		return fmt.Errorf("sender_interval must be positive")
	}
	if cfg.ValidatorInterval <= 0 {
		return fmt.Errorf("validator_interval must be positive")
	}
	if cfg.ValidatorTimeout <= 0 {
		return fmt.Errorf("validator_timeout must be positive")
	}
	if cfg.HotUpdateInterval <= 0 {
		return fmt.Errorf("hot_update_interval must be positive")
	}
	if cfg.HTTPTimeout <= 0 || cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("http_timeout and connect_timeout must be positive")
	}
	if cfg.MetricsPort <= 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port %d out of range", cfg.MetricsPort)
	}
	if cfg.ForwardBuffer <= 0 {
		return fmt.Errorf("forward_buffer must be positive")
	}

	switch cfg.Storage.Backend {
	case BackendSQLite:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case BackendRedis:
		if cfg.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}

	seen := make(map[string]bool, len(cfg.Targets))
	for i, t := range cfg.Targets {
		if t.ID == "" {
			return fmt.Errorf("targets[%d]: id is required", i)
		}
		if !idPattern.MatchString(t.ID) {
			return fmt.Errorf("targets[%d] %q: id may only contain letters, digits, '_', '.', '-'", i, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("targets[%d] %q: duplicate id", i, t.ID)
		}
		seen[t.ID] = true
		if t.Tenant != "" && !idPattern.MatchString(t.Tenant) {
			return fmt.Errorf("targets[%d] %q: tenant %q has invalid characters", i, t.ID, t.Tenant)
		}
		if t.SubmitURL == "" {
			return fmt.Errorf("targets[%d] %q: submit_url is required", i, t.ID)
		}
		if cfg.ProbeURLFor(t) == "" {
			return fmt.Errorf("targets[%d] %q: probe_url is required when verify_api_url is empty", i, t.ID)
		}
		if t.Timeout < 0 {
			return fmt.Errorf("targets[%d] %q: timeout must not be negative", i, t.ID)
		}
		switch t.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("targets[%d] %q: unknown auth mode %q", i, t.ID, t.Auth.Mode)
		}
	}
	return nil
}
