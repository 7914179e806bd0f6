package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSubprotocol is the websocket subprotocol clients must negotiate.
const DefaultSubprotocol = "KinectV2MotionV1"

// ServerConfig holds configuration for the motionstream server.
type ServerConfig struct {
	BindAddr       string        `yaml:"bind_addr"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	Subprotocol    string        `yaml:"subprotocol"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`
	ConfigFile     string        `yaml:"-"`
	RedisAddr      string        `yaml:"redis_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	OriginPatterns []string      `yaml:"origin_patterns"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	InboxSize      int           `yaml:"inbox_size"`
	DemoInterval   time.Duration `yaml:"demo_interval"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BindAddr == "" {
		c.BindAddr = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8521
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Subprotocol == "" {
		c.Subprotocol = DefaultSubprotocol
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 5 * time.Second
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 1024
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 1 << 20
	}
	if c.InboxSize == 0 {
		c.InboxSize = 4
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("BIND_ADDR", ""); v != "" {
		c.BindAddr = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("WS_PATH", ""); v != "" {
		c.Path = v
	}
	if v := GetEnv("SUBPROTOCOL", ""); v != "" {
		c.Subprotocol = v
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = metricsAddr(v)
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("ORIGIN_PATTERNS", ""); v != "" {
		c.OriginPatterns = splitComma(v)
	}
	envDuration("SEND_TIMEOUT", &c.SendTimeout)
	envDuration("CLOSE_TIMEOUT", &c.CloseTimeout)
	envDuration("DEMO_INTERVAL", &c.DemoInterval)
	envDuration("STATS_INTERVAL", &c.StatsInterval)
	if v := GetEnv("READ_BUFFER_SIZE", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ReadBufferSize = n
		}
	}
	if v := GetEnv("MAX_MESSAGE_SIZE", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxMessageSize = n
		}
	}
	if v := GetEnv("INBOX_SIZE", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.InboxSize = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := GetEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *ServerConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.BindAddr, "bind", c.BindAddr, "interface the websocket listener binds to")
	fs.IntVar(&c.Port, "port", c.Port, "websocket listen port")
	fs.StringVar(&c.Path, "path", c.Path, "websocket endpoint path")
	fs.StringVar(&c.Subprotocol, "subprotocol", c.Subprotocol, "websocket subprotocol clients must request")
	fs.Func("metrics-port", "Prometheus metrics listen address or port; empty serves /metrics on the main listener", func(v string) error {
		c.MetricsAddr = metricsAddr(v)
		return nil
	})
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for server state")
	fs.DurationVar(&c.SendTimeout, "send-timeout", c.SendTimeout, "maximum time a single frame write may take")
	fs.DurationVar(&c.CloseTimeout, "close-timeout", c.CloseTimeout, "maximum time to wait for close handshakes on shutdown")
	fs.IntVar(&c.ReadBufferSize, "read-buffer", c.ReadBufferSize, "initial inbound read buffer size in bytes")
	fs.Int64Var(&c.MaxMessageSize, "max-message-size", c.MaxMessageSize, "largest inbound control message accepted in bytes")
	fs.IntVar(&c.InboxSize, "inbox-size", c.InboxSize, "pending control messages kept per connection")
	fs.DurationVar(&c.DemoInterval, "demo-interval", c.DemoInterval, "publish synthetic skeleton frames at this interval (0 disables)")
	fs.DurationVar(&c.StatsInterval, "stats-interval", c.StatsInterval, "publish host statistics frames at this interval (0 disables)")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.Func("origin-patterns", "comma separated host patterns accepted for cross-origin websocket upgrades", func(v string) error {
		c.OriginPatterns = splitComma(v)
		return nil
	})
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Validate reports configuration values the server cannot run with.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", c.Path))
	}
	if strings.TrimSpace(c.Subprotocol) == "" {
		errs = append(errs, errors.New("subprotocol must not be empty"))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("read buffer size %d must be positive", c.ReadBufferSize))
	}
	if c.MaxMessageSize < int64(c.ReadBufferSize) {
		errs = append(errs, fmt.Errorf("max message size %d smaller than read buffer %d", c.MaxMessageSize, c.ReadBufferSize))
	}
	if c.InboxSize <= 0 {
		errs = append(errs, fmt.Errorf("inbox size %d must be positive", c.InboxSize))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("send timeout must be positive"))
	}
	if c.CloseTimeout <= 0 {
		errs = append(errs, errors.New("close timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the host:port the websocket listener binds to.
func (c *ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// SeparateMetrics reports whether /metrics is served on its own listener.
func (c *ServerConfig) SeparateMetrics() bool {
	return c.MetricsAddr != "" && c.MetricsAddr != c.ListenAddr() && c.MetricsAddr != fmt.Sprintf(":%d", c.Port)
}

// metricsAddr accepts a bare port or a host:port.
func metricsAddr(v string) string {
	if v == "" || strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
