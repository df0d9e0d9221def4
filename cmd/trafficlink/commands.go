package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/chaz8081/trafficlink/internal/ble"
	"github.com/chaz8081/trafficlink/internal/config"
	"github.com/chaz8081/trafficlink/internal/console"
)

// WatchCmd prints every value the light reports until interrupted.
type WatchCmd struct {
	ReadEvery time.Duration `help:"Also read the characteristic at this interval (0 disables)." default:"0s"`
}

func (c *WatchCmd) Run(g *Globals) error {
	cfg, err := g.setup()
	if err != nil {
		return err
	}

	listener := ble.ListenerFuncs{
		Connected: func(s *ble.Session) {
			l, _ := s.Link()
			fmt.Printf("connected to %s (%s)\n", l.Device.Name, l.Device.ID)
		},
		DataReceived: func(_ *ble.Session, data []byte) {
			fmt.Printf("received %q\n", data)
		},
		DataWritten: func(_ *ble.Session, data []byte) {
			fmt.Printf("written  %q\n", data)
		},
	}

	l, err := newLink(cfg, listener)
	if err != nil {
		return err
	}
	defer l.close()

	ctx, stop := signalContext()
	defer stop()

	if err := l.start(ctx); err != nil {
		return err
	}
	slog.Info("[BLE] watching, Ctrl+C to quit", "name", cfg.Device.Name, "backend", cfg.Backend)

	if c.ReadEvery <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.ReadEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Read is a no-op until the session is ready.
			if err := l.loop.Read(); err != nil {
				return err
			}
		}
	}
}

// SendCmd writes text to the characteristic once and waits for the
// confirmation.
type SendCmd struct {
	Text    string        `arg:"" help:"Text to send, e.g. A to switch the light's mode."`
	Timeout time.Duration `help:"Give up after this long." default:"30s"`
}

func (c *SendCmd) Run(g *Globals) error {
	cfg, err := g.setup()
	if err != nil {
		return err
	}

	received := make(chan []byte, 1)
	written := make(chan []byte, 1)
	listener := ble.ListenerFuncs{
		DataReceived: func(_ *ble.Session, data []byte) { offer(received, data) },
		DataWritten:  func(_ *ble.Session, data []byte) { offer(written, data) },
	}

	l, err := newLink(cfg, listener)
	if err != nil {
		return err
	}
	defer l.close()

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := l.start(ctx); err != nil {
		return err
	}
	if err := l.waitReady(ctx); err != nil {
		return fmt.Errorf("waiting for %s: %w", cfg.Device.Name, err)
	}

	// A confirmation reports the cached value and there is none until
	// something has been read, so read first.
	if err := l.loop.Read(); err != nil {
		return err
	}
	select {
	case data := <-received:
		fmt.Printf("current %q\n", data)
	case <-ctx.Done():
		return fmt.Errorf("reading current value: %w", ctx.Err())
	}

	if err := l.loop.Send(ble.Text(c.Text)); err != nil {
		return err
	}
	select {
	case data := <-written:
		fmt.Printf("written, light reports %q\n", data)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for write confirmation: %w", ctx.Err())
	}
}

// offer sends v without blocking; callbacks must not stall the session.
func offer(ch chan []byte, v []byte) {
	select {
	case ch <- v:
	default:
	}
}

// ConsoleCmd runs the interactive console.
type ConsoleCmd struct{}

func (c *ConsoleCmd) Run(g *Globals) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("console needs a terminal; use watch instead")
	}

	cfg, err := g.setup()
	if err != nil {
		return err
	}
	// Log lines would tear the alternate screen.
	if cfg.LogLevel != "debug" {
		slog.SetDefault(slog.New(slog.DiscardHandler))
	}

	bridge := &console.Bridge{}
	l, err := newLink(cfg, bridge)
	if err != nil {
		return err
	}
	defer l.close()

	ctx, stop := signalContext()
	defer stop()

	err = console.Run(ctx, l.loop, bridge, func() error {
		return l.start(ctx)
	})
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// InitCmd writes the default config file.
type InitCmd struct{}

func (c *InitCmd) Run(g *Globals) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
