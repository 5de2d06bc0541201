// Package config handles hub configuration loading and validation.
//
// Configuration is read from an optional JSON file and overridden by
// environment variables prefixed with TALKTO_ (e.g. TALKTO_PORT=9000).
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the top-level hub configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Paths   PathsConfig   `json:"paths"`
	Invoke  InvokeConfig  `json:"invoke,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Host         string `json:"host,omitempty"`          // default "0.0.0.0"
	Port         int    `json:"port,omitempty"`          // default 15377
	FrontendPort int    `json:"frontend_port,omitempty"` // default 3000
	// Network enables LAN mode: the localhost auth bypass is disabled and
	// the advertised base URL uses the machine's LAN address.
	Network      bool  `json:"network,omitempty"`
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"` // default 1MB
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn,omitempty"`    // defaults to <data_dir>/talkto.db for sqlite
}

// PathsConfig defines on-disk locations.
type PathsConfig struct {
	DataDir    string `json:"data_dir,omitempty"`
	PromptsDir string `json:"prompts_dir,omitempty"` // embedded defaults used when absent
}

// InvokeConfig tunes the agent-invocation engine.
type InvokeConfig struct {
	PromptTimeout Duration `json:"prompt_timeout,omitempty"` // default 120s
	HealthTimeout Duration `json:"health_timeout,omitempty"` // default 5s
	SweepInterval Duration `json:"sweep_interval,omitempty"` // liveness sweep; default 30s
	MaxChainDepth int      `json:"max_chain_depth,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads the config file at path (optional; "" skips the file), applies
// TALKTO_ environment overrides, validates, and fills defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with no file and no environment applied beyond
// defaults. Used by tests and the wizard.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TALKTO_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("TALKTO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("TALKTO_FRONTEND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.FrontendPort = p
		}
	}
	if v := os.Getenv("TALKTO_NETWORK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.Network = b
		}
	}
	if v := os.Getenv("TALKTO_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("TALKTO_PROMPTS_DIR"); v != "" {
		c.Paths.PromptsDir = v
	}
	if v := os.Getenv("TALKTO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TALKTO_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("TALKTO_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres driver")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 15377
	}
	if c.Server.FrontendPort == 0 {
		c.Server.FrontendPort = 3000
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = "data"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.Paths.DataDir, "talkto.db")
	}
	if c.Invoke.PromptTimeout.Duration == 0 {
		c.Invoke.PromptTimeout.Duration = 120 * time.Second
	}
	if c.Invoke.HealthTimeout.Duration == 0 {
		c.Invoke.HealthTimeout.Duration = 5 * time.Second
	}
	if c.Invoke.SweepInterval.Duration == 0 {
		c.Invoke.SweepInterval.Duration = 30 * time.Second
	}
	if c.Invoke.MaxChainDepth == 0 {
		c.Invoke.MaxChainDepth = 2
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// BaseURL returns the URL agents and browsers should use to reach the hub.
// In network mode this is the machine's LAN address; otherwise localhost.
func (c *Config) BaseURL() string {
	host := "localhost"
	if c.Server.Network {
		if ip := lanIP(); ip != "" {
			host = ip
		}
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// lanIP returns the first non-loopback IPv4 address, or "".
func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
