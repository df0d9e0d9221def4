package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/trafficlink/internal/ble"
	"github.com/chaz8081/trafficlink/internal/config"
	"github.com/chaz8081/trafficlink/internal/sim"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Path to config file (default: ~/.config/trafficlink/config.yaml)." type:"path"`
	Backend  string `help:"Radio backend: tinygo, goble or sim. Overrides the config file."`
	LogLevel string `help:"Log level: debug, info, warn or error. Overrides the config file."`
}

// CLI is the command line of trafficlink.
type CLI struct {
	Globals

	Watch   WatchCmd   `cmd:"" default:"1" help:"Connect to the light and print every value it reports."`
	Send    SendCmd    `cmd:"" help:"Send text to the light and wait for the write to be confirmed."`
	Console ConsoleCmd `cmd:"" help:"Interactive console for the light."`
	Init    InitCmd    `cmd:"" help:"Write the default config file."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("trafficlink"),
		kong.Description("Talk to a BLE-LinkV1.8 traffic light module."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "trafficlink: %v\n", err)
		os.Exit(1)
	}
}

// setup loads and validates the config, applies flag overrides and installs
// the logger.
func (g *Globals) setup() (*config.Config, error) {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if g.Backend != "" {
		cfg.Backend = g.Backend
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(handler))
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// newAdapter opens the radio backend the config selects.
func newAdapter(cfg *config.Config) (ble.Adapter, error) {
	switch cfg.Backend {
	case config.BackendTinyGo:
		return ble.NewTinyGoAdapter(), nil
	case config.BackendGoBLE:
		return ble.NewGoBLEAdapter(cfg.HCI)
	case config.BackendSim:
		opts := sim.DefaultOptions()
		opts.Peripheral.Name = cfg.Device.Name
		opts.CharacteristicUUID = cfg.Device.Characteristic
		opts.StepScale = cfg.Sim.StepScale
		return sim.New(opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
