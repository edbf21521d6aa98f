package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server   *ServerConfig   `toml:"server,omitempty"`
	Admin    *AdminConfig    `toml:"admin,omitempty"`
	Pipeline *PipelineConfig `toml:"pipeline,omitempty"`
	Logging  *LoggingConfig  `toml:"logging,omitempty"`
}

// ServerConfig holds general server settings.
type ServerConfig struct {
	Address                 string  `toml:"address,omitempty"`
	GracefulShutdownTimeout *string `toml:"graceful_shutdown_timeout,omitempty"` // e.g., "30s"
}

// AdminConfig configures the read-only administrative API.
type AdminConfig struct {
	Enabled *bool  `toml:"enabled,omitempty"`
	Address string `toml:"address,omitempty"`
}

// PipelineConfig tunes the duplex pipeline stage. The fragment counts encode
// how many discrete writes the HTTP codec issues per response; the defaults
// (3 standard, 2 upgraded) are the compatible contract, but the codec's
// write pattern is not under this server's control, so both are exposed.
type PipelineConfig struct {
	StandardFragmentCount *int `toml:"standard_fragment_count,omitempty"`
	UpgradedFragmentCount *int `toml:"upgraded_fragment_count,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `toml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `toml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `toml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled *bool  `toml:"enabled,omitempty"`
	Target  string `toml:"target,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target string `toml:"target,omitempty"`
}

// Defaults applied when the file omits a section or field.
const (
	DefaultAddress                 = "127.0.0.1:8443"
	DefaultAdminAddress            = "127.0.0.1:9090"
	DefaultGracefulShutdownTimeout = "30s"
	DefaultStandardFragmentCount   = 3
	DefaultUpgradedFragmentCount   = 2
)

// Load reads, defaults, and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a fully-defaulted configuration, used when no file is
// supplied (tests, embedded use).
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultAddress
	}
	if cfg.Server.GracefulShutdownTimeout == nil {
		v := DefaultGracefulShutdownTimeout
		cfg.Server.GracefulShutdownTimeout = &v
	}

	if cfg.Admin == nil {
		cfg.Admin = &AdminConfig{}
	}
	if cfg.Admin.Enabled == nil {
		v := true
		cfg.Admin.Enabled = &v
	}
	if cfg.Admin.Address == "" {
		cfg.Admin.Address = DefaultAdminAddress
	}

	if cfg.Pipeline == nil {
		cfg.Pipeline = &PipelineConfig{}
	}
	if cfg.Pipeline.StandardFragmentCount == nil {
		v := DefaultStandardFragmentCount
		cfg.Pipeline.StandardFragmentCount = &v
	}
	if cfg.Pipeline.UpgradedFragmentCount == nil {
		v := DefaultUpgradedFragmentCount
		cfg.Pipeline.UpgradedFragmentCount = &v
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = LogLevelInfo
	}
	if cfg.Logging.ErrorLog == nil {
		cfg.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if cfg.Logging.ErrorLog.Target == "" {
		cfg.Logging.ErrorLog.Target = "stderr"
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = &AccessLogConfig{}
	}
	if cfg.Logging.AccessLog.Target == "" {
		cfg.Logging.AccessLog.Target = "stdout"
	}
	if cfg.Logging.AccessLog.Enabled == nil {
		enabled := true
		cfg.Logging.AccessLog.Enabled = &enabled
	}
}

// Validate checks a defaulted configuration for values that cannot be acted
// on. It assumes applyDefaults has run; nil sections are a programming
// error, not a user error.
func Validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if _, err := ParseDuration(*cfg.Server.GracefulShutdownTimeout); err != nil {
		return fmt.Errorf("server.graceful_shutdown_timeout: %w", err)
	}
	if n := *cfg.Pipeline.StandardFragmentCount; n < 1 {
		return fmt.Errorf("pipeline.standard_fragment_count must be >= 1, got %d", n)
	}
	if n := *cfg.Pipeline.UpgradedFragmentCount; n < 1 {
		return fmt.Errorf("pipeline.upgraded_fragment_count must be >= 1, got %d", n)
	}
	switch cfg.Logging.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level %q is not one of DEBUG, INFO, WARNING, ERROR", cfg.Logging.LogLevel)
	}
	if t := cfg.Logging.ErrorLog.Target; t != "stderr" && t != "stdout" && !IsFilePath(t) {
		return fmt.Errorf("logging.error_log.target %q is not stdout, stderr, or an absolute file path", t)
	}
	if t := cfg.Logging.AccessLog.Target; t != "stderr" && t != "stdout" && !IsFilePath(t) {
		return fmt.Errorf("logging.access_log.target %q is not stdout, stderr, or an absolute file path", t)
	}
	return nil
}

// ParseDuration parses a config duration string such as "30s" or "1m30s".
func ParseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

// IsFilePath reports whether a log target names a file rather than a
// standard stream. Only absolute paths are accepted as files so that a typo
// like "stdrr" fails validation instead of silently creating a file.
func IsFilePath(target string) bool {
	return len(target) > 0 && target[0] == '/'
}

// GracefulShutdownTimeoutDuration returns the parsed shutdown timeout.
// Validate has already established the string parses.
func (sc *ServerConfig) GracefulShutdownTimeoutDuration() time.Duration {
	d, _ := ParseDuration(*sc.GracefulShutdownTimeout)
	return d
}
