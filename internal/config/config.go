// Package config handles configuration loading, validation, and persistence
// for the ChatRelay server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultControlPort = 6000
	DefaultDataPort    = 6001
	DefaultAPIPort     = 5000
)

// Config is the root configuration structure for ChatRelay.
type Config struct {
	mu   sync.RWMutex
	path string

	Relay           RelayConfig     `json:"relay"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RelayConfig contains the client-facing relay settings.
type RelayConfig struct {
	// BindAddress is the host both listeners bind to; empty means all
	// interfaces.
	BindAddress string `json:"bind_address"`

	// ControlPort is the TCP port for TCRP handshakes.
	ControlPort int `json:"control_port"`

	// DataPort is the UDP port for chat frames.
	DataPort int `json:"data_port"`

	// SweepIntervalSec is how often the reaper runs.
	SweepIntervalSec int `json:"sweep_interval_sec"`

	// IdleTimeoutSec is how long a participant may stay silent before the
	// reaper evicts it.
	IdleTimeoutSec int `json:"idle_timeout_sec"`

	// UDPBufferSize is the receive buffer for inbound chat datagrams.
	UDPBufferSize int `json:"udp_buffer_size"`
}

// ApplicationData contains operator-facing application configuration.
type ApplicationData struct {
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Journal JournalConfig `json:"journal"`
	Logging LoggingConfig `json:"logging"`
}

// APIConfig holds the monitoring REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
}

// JournalConfig holds the lifecycle journal settings.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults. The
// monitoring surfaces (API, MQTT, journal) are opt-in; the relay itself
// serves TCP 6000 + UDP 6001 out of the box.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			ControlPort:      DefaultControlPort,
			DataPort:         DefaultDataPort,
			SweepIntervalSec: 5,
			IdleTimeoutSec:   60,
			UDPBufferSize:    4096,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: false,
				Port:    DefaultAPIPort,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Journal: JournalConfig{
				Enabled: false,
				Path:    filepath.Join(DefaultConfigDir, "journal.db"),
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating a default one when
// none exists.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the configuration back to its JSON file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", c.path, err)
	}

	return nil
}

// GetRelay returns a copy of the relay settings.
func (c *Config) GetRelay() RelayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Relay
}

// ControlAddr returns the TCP bind address of the TCRP listener.
func (c *Config) ControlAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Relay.BindAddress, c.Relay.ControlPort)
}

// DataAddr returns the UDP bind address of the chat relay.
func (c *Config) DataAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Relay.BindAddress, c.Relay.DataPort)
}
