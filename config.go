package burrow

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/burrow/default"
)

// Config represents the burrow configuration shared by daemon and client.
type Config struct {
	Version int          `toml:"version" json:"version"`
	Server  ServerConfig `toml:"server" json:"server"`
	Client  ClientConfig `toml:"client" json:"client"`
	Audit   AuditConfig  `toml:"audit" json:"audit"`
	Log     LogConfig    `toml:"log" json:"log"`
}

// ServerConfig holds daemon listener and session settings.
type ServerConfig struct {
	Host            string   `toml:"host" json:"host"`
	Port            int      `toml:"port" json:"port"`
	MaxClients      int      `toml:"max_clients" json:"max_clients"`
	AcceptPoll      Duration `toml:"accept_poll" json:"accept_poll"`
	IdleTimeout     Duration `toml:"idle_timeout" json:"idle_timeout"`
	WriteTimeout    Duration `toml:"write_timeout" json:"write_timeout"`
	MaxMessageBytes int      `toml:"max_message_bytes" json:"max_message_bytes"`
	// Root is the initial working directory of every session.
	// Empty means the daemon's working directory at startup.
	Root string `toml:"root" json:"root"`
}

// ClientConfig holds client stub settings.
type ClientConfig struct {
	ConnectTimeout Duration `toml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    Duration `toml:"read_timeout" json:"read_timeout"`
}

// AuditConfig holds audit log settings. An empty Path disables the log.
type AuditConfig struct {
	Path         string `toml:"path" json:"path"`
	HistoryLimit int    `toml:"history_limit" json:"history_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`   // debug, info, warn, error
	Format string `toml:"format" json:"format"` // text or json
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ConfigDir returns the config directory path.
// Resolution order: $BURROW_CONFIG_DIR > $XDG_CONFIG_HOME/burrow > ~/.config/burrow
func ConfigDir() string {
	if dir := os.Getenv("BURROW_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "burrow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "burrow-config")
	}
	return filepath.Join(home, ".config", "burrow")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(string(defaults.DefaultConfigTOML), &cfg); err != nil {
		panic("burrow: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from the default path or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path. A missing file yields the defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	// Keys the file leaves out keep their default values; an explicit zero
	// is kept as written.
	cfg := DefaultConfig()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		warnings = append(warnings, fmt.Sprintf("server.port %d is outside 0-65535", cfg.Server.Port))
	}
	if cfg.Server.AcceptPoll.Duration <= 0 {
		warnings = append(warnings, "server.accept_poll must be positive; shutdown will wait for the next connection")
	}
	if cfg.Server.MaxMessageBytes < 0 {
		warnings = append(warnings, "server.max_message_bytes is negative; message size is unbounded")
	} else if cfg.Server.MaxMessageBytes == 0 {
		warnings = append(warnings, "server.max_message_bytes is 0; message size is unbounded")
	} else if cfg.Server.MaxMessageBytes < 1024 {
		warnings = append(warnings, fmt.Sprintf("server.max_message_bytes %d is smaller than most requests", cfg.Server.MaxMessageBytes))
	}
	if cfg.Server.MaxClients < 0 {
		warnings = append(warnings, "server.max_clients is negative; connections are unlimited")
	}
	if cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" && cfg.Server.Host != "::1" {
		warnings = append(warnings, fmt.Sprintf("server.host %q exposes the daemon beyond loopback", cfg.Server.Host))
	}
	if cfg.Server.Root != "" {
		if info, err := os.Stat(cfg.Server.Root); err != nil || !info.IsDir() {
			warnings = append(warnings, fmt.Sprintf("server.root %q is not a directory", cfg.Server.Root))
		}
	}
	return warnings
}

// ResolveHost returns the host to bind or dial.
// Priority: $BURROW_HOST env > config value.
func ResolveHost(cfg *Config) string {
	if host := os.Getenv("BURROW_HOST"); host != "" {
		return host
	}
	if cfg != nil {
		return cfg.Server.Host
	}
	return ""
}

// ResolvePort returns the TCP port to bind or dial.
// Priority: $BURROW_PORT env > config value. An unparsable env value is ignored.
func ResolvePort(cfg *Config) int {
	if v := os.Getenv("BURROW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			return port
		}
	}
	if cfg != nil {
		return cfg.Server.Port
	}
	return 0
}

// ResolveAddr joins ResolveHost and ResolvePort into a dialable address.
func ResolveAddr(cfg *Config) string {
	return net.JoinHostPort(ResolveHost(cfg), strconv.Itoa(ResolvePort(cfg)))
}

// ResolveAuditPath returns the audit log path, or empty when auditing is disabled.
// Priority: $BURROW_AUDIT_PATH env > config value.
func ResolveAuditPath(cfg *Config) string {
	if path := os.Getenv("BURROW_AUDIT_PATH"); path != "" {
		return path
	}
	if cfg != nil {
		return cfg.Audit.Path
	}
	return ""
}
