package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/trafficlink/internal/ble"
	"github.com/chaz8081/trafficlink/internal/config"
)

// link ties a session, its loop and the radio together for one command.
type link struct {
	adapter ble.Adapter
	loop    *ble.Loop
	cancel  context.CancelFunc
}

func newLink(cfg *config.Config, listener ble.Listener) (*link, error) {
	adapter, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}
	session, err := ble.NewSession(adapter, listener, cfg.SessionOptions())
	if err != nil {
		adapter.Close()
		return nil, err
	}
	return &link{adapter: adapter, loop: ble.NewLoop(session, 0)}, nil
}

// start runs the loop and powers up the radio. The loop stops when ctx is
// done or close is called.
func (l *link) start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.loop.Run(ctx)
	return l.adapter.Start(l.loop)
}

func (l *link) close() {
	if l.cancel != nil {
		l.cancel()
		<-l.loop.Done()
	}
	if err := l.adapter.Close(); err != nil {
		slog.Warn("[BLE] closing adapter", "error", err)
	}
}

// readyPollInterval is how often waitReady checks the session.
const readyPollInterval = 100 * time.Millisecond

// waitReady blocks until the session has found its characteristic.
func (l *link) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		var ready bool
		if err := l.loop.Do(ctx, func(s *ble.Session) { ready = s.Ready() }); err != nil {
			return err
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
