// Package config provides configuration parsing and validation for the
// netweb server, router/executor layer, and protocol clients.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a netweb server process.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Router   RouterConfig   `yaml:"router"`
	Executor ExecutorConfig `yaml:"executor"`
	Client   ClientConfig   `yaml:"client"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
}

// ServerConfig configures the listening endpoint and the HTTP session
// pipeline's timeouts and backpressure thresholds.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`

	// TLSCertFile/TLSKeyFile enable the TLS-wrapping path for connections the
	// Detector classifies as TLS. Leaving both empty (and TLSSelfSigned
	// false) still runs a working server: a ClientHello is handed to a plain
	// HTTP session, where it fails to parse as a request and gets a 400
	// "malformed request" reply before the connection closes.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// TLSSelfSigned, when true and TLSCertFile/TLSKeyFile are unset, makes
	// the server generate an in-memory self-signed certificate at startup
	// instead of running without a live TLS path.
	TLSSelfSigned bool `yaml:"tls_self_signed"`

	// IdleTimeout bounds how long a session waits for the next pipelined
	// request (including a TLS handshake, which runs on that first read).
	// The close-notify step at shutdown uses its own fixed deadline. Open question
	// in spec.md §9 resolved to 60s.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// DetectTimeout bounds the TLS-sniff step in the Detector.
	DetectTimeout time.Duration `yaml:"detect_timeout"`

	// RequestBodyLimit is the maximum request body size in bytes. Open
	// question in spec.md §9 resolved to 1 MiB.
	RequestBodyLimit int64 `yaml:"request_body_limit"`

	// RequestQueueLimit is the PendingResponse queue depth (Invariant 5).
	RequestQueueLimit int `yaml:"request_queue_limit"`

	// AcceptsPerSecond paces the Acceptor's accept loop. Zero disables
	// pacing entirely.
	AcceptsPerSecond float64 `yaml:"accepts_per_second"`
}

// RouterConfig configures the dispatch layer.
type RouterConfig struct {
	CORS       bool   `yaml:"cors"`
	StaticRoot string `yaml:"static_root"`
}

// ExecutorConfig selects and sizes the handler-execution strategy.
type ExecutorConfig struct {
	// Strategy is one of "inline", "pool", "channel".
	Strategy string `yaml:"strategy"`

	// PoolSize bounds concurrent handler execution for the pool strategy.
	PoolSize int `yaml:"pool_size"`

	// ChannelCapacity bounds the pending-producer channel for the channel
	// strategy; beyond it, submissions are rejected with 429.
	ChannelCapacity int `yaml:"channel_capacity"`
}

// ClientConfig configures the protocol clients in internal/netclient.
type ClientConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MetricsConfig configures the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with every documented default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			IdleTimeout:       60 * time.Second,
			DetectTimeout:     60 * time.Second,
			RequestBodyLimit:  1 << 20, // 1 MiB
			RequestQueueLimit: 8,
			AcceptsPerSecond:  0,
		},
		Router: RouterConfig{
			CORS:       false,
			StaticRoot: "",
		},
		Executor: ExecutorConfig{
			Strategy:        "inline",
			PoolSize:        runtime.GOMAXPROCS(0),
			ChannelCapacity: 32,
		},
		Client: ClientConfig{
			ConnectTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML configuration file, applying defaults for any
// field the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults first so the
// caller may supply a partial document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally-inconsistent or
// impossible settings, collecting every problem it finds into a single
// error.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port == "" {
		errs = append(errs, "server.port is required")
	}
	if c.Server.RequestBodyLimit <= 0 {
		errs = append(errs, "server.request_body_limit must be positive")
	}
	if c.Server.RequestQueueLimit <= 0 {
		errs = append(errs, "server.request_queue_limit must be positive")
	}
	if c.Server.AcceptsPerSecond < 0 {
		errs = append(errs, "server.accepts_per_second must not be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	switch c.Executor.Strategy {
	case "inline":
	case "pool":
		if c.Executor.PoolSize <= 0 {
			errs = append(errs, "executor.pool_size must be positive for the pool strategy")
		}
	case "channel":
		if c.Executor.ChannelCapacity <= 0 {
			errs = append(errs, "executor.channel_capacity must be positive for the channel strategy")
		}
	default:
		errs = append(errs, fmt.Sprintf("executor.strategy: invalid value %q (must be inline, pool, or channel)", c.Executor.Strategy))
	}

	if c.Client.ConnectTimeout <= 0 {
		errs = append(errs, "client.connect_timeout must be positive")
	}

	if !isValidLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Sprintf("log_level: invalid value %q (must be debug, info, warn, or error)", c.LogLevel))
	}
	if !isValidLogFormat(c.LogFormat) {
		errs = append(errs, fmt.Sprintf("log_format: invalid value %q (must be text or json)", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// HasTLS returns true if the server is configured to terminate TLS.
func (c *ServerConfig) HasTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}
