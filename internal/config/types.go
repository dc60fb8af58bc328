package config

// Config is the root process configuration, loaded once at startup and
// shared read-only thereafter.
type Config struct {
	ListenPort int       `yaml:"listen_port"`
	TLS        TLSConfig `yaml:"tls"`
	APIKey     string    `yaml:"api_key"`
	Backends   []string  `yaml:"backend_urls"`

	CacheCapacity        int `yaml:"cache_capacity"`
	CacheTTLSeconds      int `yaml:"cache_ttl_seconds"`
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
	MaxFailures          int `yaml:"max_failures"`
	MaxRetries           int `yaml:"max_retries"`
	Debug                bool `yaml:"debug"`

	MaxRequestBodyBytes   int64      `yaml:"max_request_body_bytes"`
	AdminAddr             string     `yaml:"admin_addr"`
	ShutdownTimeoutSecond int        `yaml:"shutdown_timeout_seconds"`
	Log                   LogConfig  `yaml:"log"`
}

// TLSConfig holds the PEM cert/key pair used to terminate inbound TLS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text (only json is implemented)
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// Defaults applied to any field left unset.
const (
	DefaultCacheCapacity         = 1000
	DefaultCacheTTLSeconds       = 300
	DefaultProbeIntervalSeconds  = 1
	DefaultMaxFailures           = 3
	DefaultMaxRetries            = 2
	DefaultMaxRequestBodyBytes   = 10 << 20 // 10MB
	DefaultShutdownTimeoutSecond = 10
)

// applyDefaults fills in zero-valued optional fields.
func (c *Config) applyDefaults() {
	if c.CacheCapacity == 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = DefaultCacheTTLSeconds
	}
	if c.ProbeIntervalSeconds == 0 {
		c.ProbeIntervalSeconds = DefaultProbeIntervalSeconds
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRequestBodyBytes == 0 {
		c.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if c.ShutdownTimeoutSecond == 0 {
		c.ShutdownTimeoutSecond = DefaultShutdownTimeoutSecond
	}
}
