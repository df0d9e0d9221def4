package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/trafficlink/internal/ble"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	Backend  string       `yaml:"backend"` // "tinygo", "goble" or "sim"
	HCI      int          `yaml:"hci"`     // goble only
	Sim      SimConfig    `yaml:"sim"`
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig identifies the peripheral and its data characteristic.
type DeviceConfig struct {
	Name           string `yaml:"name"`
	Characteristic string `yaml:"characteristic"`
}

// SimConfig holds settings for the simulated radio.
type SimConfig struct {
	// StepScale multiplies the light's step delays; 0 freezes the light.
	StepScale float64 `yaml:"step_scale"`
}

// Backend names accepted in Config.Backend.
const (
	BackendTinyGo = "tinygo"
	BackendGoBLE  = "goble"
	BackendSim    = "sim"
)

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "trafficlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:           ble.DefaultDeviceName,
			Characteristic: ble.DefaultCharacteristicUUID,
		},
		Backend:  BackendTinyGo,
		Sim:      SimConfig{StepScale: 1},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device.name must not be empty")
	}

	if err := validUUID(c.Device.Characteristic); err != nil {
		return fmt.Errorf("device.characteristic: %w", err)
	}

	switch c.Backend {
	case BackendTinyGo, BackendSim:
	case BackendGoBLE:
		if c.HCI < 0 {
			return fmt.Errorf("hci must be >= 0, got %d", c.HCI)
		}
	default:
		return fmt.Errorf("backend must be tinygo, goble, or sim, got %q", c.Backend)
	}

	if c.Sim.StepScale < 0 {
		return fmt.Errorf("sim.step_scale must be >= 0, got %g", c.Sim.StepScale)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// validUUID accepts the two forms adapters report: four hex digits for a
// 16-bit UUID ("DFB1") or a full 128-bit UUID, both upper case.
func validUUID(s string) error {
	if s == "" {
		return errors.New("must not be empty")
	}
	if strings.ToUpper(s) != s {
		return fmt.Errorf("%q must be upper case", s)
	}
	if len(s) == 4 {
		if _, err := strconv.ParseUint(s, 16, 16); err != nil {
			return fmt.Errorf("%q is not a 16-bit UUID", s)
		}
		return nil
	}
	if _, err := uuid.Parse(s); err != nil || len(s) != 36 {
		return fmt.Errorf("%q is not a 16-bit or 128-bit UUID", s)
	}
	return nil
}

// SessionOptions returns the session identifiers this config selects.
func (c *Config) SessionOptions() ble.SessionOptions {
	return ble.SessionOptions{
		DeviceName:         c.Device.Name,
		CharacteristicUUID: c.Device.Characteristic,
	}
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values map
// to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# trafficlink configuration
# backend: tinygo (default radio), goble (Linux HCI socket) or sim (no hardware)
`

// WriteDefault writes the default config to DefaultConfigPath. If a file is
// already there it is left alone and WriteDefault returns ("", nil).
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
