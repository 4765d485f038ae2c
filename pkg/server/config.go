package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	MetricsPort  int    `toml:"metrics_port"`
	DatabasePath string `toml:"database_path"`
	DataDir      string `toml:"data_dir"`
}

type LimitsSection struct {
	MaxMessageLength  int `toml:"max_message_length"`
	MaxUsernameLength int `toml:"max_username_length"`
}

// DefaultTOMLConfig returns the default configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      7420,
			HTTPPort:     8080, // 0 = disabled
			MetricsPort:  9090, // internal only, never expose publicly
			DatabasePath: "~/.causerie/causerie.db",
			DataDir:      "~/.causerie",
		},
		Limits: LimitsSection{
			MaxMessageLength:  1000,
			MaxUsernameLength: 20,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default file if
// none exists, and applies environment variable overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Can't write (permissions?), but defaults still let us run.
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides following the
// pattern CAUSERIE_SECTION_KEY, e.g. CAUSERIE_SERVER_TCP_PORT=7421.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("CAUSERIE_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("CAUSERIE_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("CAUSERIE_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("CAUSERIE_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("CAUSERIE_SERVER_DATA_DIR"); val != "" {
		config.Server.DataDir = val
	}
	if val := os.Getenv("CAUSERIE_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = limit
		}
	}
	if val := os.Getenv("CAUSERIE_LIMITS_MAX_USERNAME_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxUsernameLength = limit
		}
	}
	return config
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(config)
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// ServerConfig holds the runtime configuration the server core needs.
type ServerConfig struct {
	TCPPort           int
	HTTPPort          int // 0 = public HTTP (WebSocket) disabled
	MetricsPort       int // 0 = metrics listener disabled
	MaxMessageLength  int
	MaxUsernameLength int
}

// DefaultConfig returns default runtime configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:           7420,
		HTTPPort:          8080,
		MetricsPort:       9090,
		MaxMessageLength:  1000,
		MaxUsernameLength: 20,
	}
}

// Runtime converts the file configuration into runtime configuration.
func (c TOMLConfig) Runtime() ServerConfig {
	cfg := DefaultConfig()
	cfg.TCPPort = c.Server.TCPPort
	cfg.HTTPPort = c.Server.HTTPPort
	cfg.MetricsPort = c.Server.MetricsPort
	if c.Limits.MaxMessageLength > 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	if c.Limits.MaxUsernameLength > 0 {
		cfg.MaxUsernameLength = c.Limits.MaxUsernameLength
	}
	return cfg
}
