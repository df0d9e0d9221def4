package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when work is handed to a Loop that has stopped.
var ErrClosed = errors.New("ble: loop closed")

// Loop serializes everything that touches a Session onto one goroutine.
// Adapters deliver their events to the Loop, and callers on other goroutines
// use Send, Read and Do. Posting never blocks: pending work is queued without
// bound, and everything a post accepted runs before Done is closed.
type Loop struct {
	session *Session
	wake    chan struct{}

	mu      sync.Mutex
	pending []func()
	closed  bool

	done     chan struct{}
	stopOnce sync.Once
}

var _ Events = (*Loop)(nil)

// NewLoop creates a loop for s. queueSize is the initial capacity of the
// pending queue.
func NewLoop(s *Session, queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Loop{
		session: s,
		wake:    make(chan struct{}, 1),
		pending: make([]func(), 0, queueSize),
		done:    make(chan struct{}),
	}
}

// Run executes posted work in order until ctx is done. Work accepted before
// that still runs, then Run returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			for l.runPending() {
			}
			return ctx.Err()
		case <-l.wake:
			l.runPending()
		}
	}
}

// runPending runs the work queued so far and reports whether there was any.
func (l *Loop) runPending() bool {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch) > 0
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *Loop) deliver(event string, fn func()) {
	if err := l.post(fn); err != nil {
		slog.Debug("[BLE] dropping event", "event", event, "error", err)
	}
}

// Send hands p to the session's Send.
func (l *Loop) Send(p Payload) error {
	return l.post(func() { l.session.Send(p) })
}

// Read hands a read request to the session.
func (l *Loop) Read() error {
	return l.post(l.session.Read)
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(s *Session)) error {
	finished := make(chan struct{})
	if err := l.post(func() {
		defer close(finished)
		fn(l.session)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) AdapterStateChanged(state AdapterState) {
	l.deliver("adapter state", func() { l.session.AdapterStateChanged(state) })
}

func (l *Loop) DeviceDiscovered(device Device) {
	l.deliver("device discovered", func() { l.session.DeviceDiscovered(device) })
}

func (l *Loop) Connected(device Device) {
	l.deliver("connected", func() { l.session.Connected(device) })
}

func (l *Loop) ConnectFailed(device Device, err error) {
	l.deliver("connect failed", func() { l.session.ConnectFailed(device, err) })
}

func (l *Loop) Disconnected(device Device, err error) {
	l.deliver("disconnected", func() { l.session.Disconnected(device, err) })
}

func (l *Loop) ServicesDiscovered(link Link, services []Service, err error) {
	l.deliver("services discovered", func() { l.session.ServicesDiscovered(link, services, err) })
}

func (l *Loop) CharacteristicsDiscovered(service Service, chars []Characteristic, err error) {
	l.deliver("characteristics discovered", func() { l.session.CharacteristicsDiscovered(service, chars, err) })
}

func (l *Loop) ValueUpdated(char Characteristic, value []byte, err error) {
	l.deliver("value updated", func() { l.session.ValueUpdated(char, value, err) })
}

func (l *Loop) WriteConfirmed(char Characteristic, err error) {
	l.deliver("write confirmed", func() { l.session.WriteConfirmed(char, err) })
}
