// Package sim provides a ble.Adapter backed by a simulated radio with the
// traffic light peripheral attached, for running without hardware.
package sim

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/trafficlink/internal/ble"
	"github.com/chaz8081/trafficlink/internal/trafficlight"
)

// UUIDs exposed by the simulated serial module.
const (
	GAPServiceUUID      = "1800"
	DeviceNameUUID      = "2A00"
	SerialServiceUUID   = "FFE0"
	DefaultPeripheralID = "5C:F8:21:00:00:01"
)

// Options configures the simulated radio.
type Options struct {
	// State is reported when the adapter starts. The zero value reports
	// powered on.
	State ble.AdapterState
	// Peripheral is the device carrying the traffic light.
	Peripheral ble.Device
	// Bystanders are advertised before the peripheral and refuse connections.
	Bystanders []ble.Device
	// CharacteristicUUID is the serial characteristic inside SerialServiceUUID.
	CharacteristicUUID string
	// StepScale multiplies the light's step delays. Zero stops the light from
	// stepping on its own; Step drives it instead.
	StepScale float64
}

// DefaultOptions returns a powered-on radio with one traffic light stepping
// at real speed.
func DefaultOptions() Options {
	return Options{
		Peripheral: ble.Device{
			Name: ble.DefaultDeviceName,
			ID:   DefaultPeripheralID,
			RSSI: -52,
		},
		State:              ble.AdapterPoweredOn,
		CharacteristicUUID: ble.DefaultCharacteristicUUID,
		StepScale:          1,
	}
}

// Adapter is a simulated radio. Events are delivered from its own goroutine,
// in the order the requests that caused them were issued.
type Adapter struct {
	opts  Options
	queue chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	events    ble.Events
	started   bool
	closed    bool
	connected bool
	notifying bool
	stepping  bool
	light     *trafficlight.Manager
	char      ble.Characteristic
}

var _ ble.Adapter = (*Adapter)(nil)

// New creates a simulated radio.
func New(opts Options) *Adapter {
	if opts.State == ble.AdapterUnknown {
		opts.State = ble.AdapterPoweredOn
	}
	if opts.Peripheral.ID == "" {
		opts.Peripheral.ID = DefaultPeripheralID
	}
	if opts.Peripheral.Name == "" {
		opts.Peripheral.Name = ble.DefaultDeviceName
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = ble.DefaultCharacteristicUUID
	}
	a := &Adapter{
		opts:  opts,
		queue: make(chan func(), 64),
		quit:  make(chan struct{}),
		light: trafficlight.NewManager(),
	}
	a.light.OnUpdate = a.lightChanged
	return a
}

var errClosed = errors.New("sim: adapter closed")

func (a *Adapter) Start(events ble.Events) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("sim: adapter already started")
	}
	a.started = true
	a.events = events
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.quit:
				return
			case fn := <-a.queue:
				fn()
			}
		}
	}()

	return a.post(func() { events.AdapterStateChanged(a.opts.State) })
}

func (a *Adapter) post(fn func()) error {
	a.mu.Lock()
	ok := a.started && !a.closed
	a.mu.Unlock()
	if !ok {
		return errClosed
	}
	select {
	case a.queue <- fn:
		return nil
	default:
		return ble.ErrQueueFull
	}
}

func (a *Adapter) StartScan() error {
	if a.opts.State != ble.AdapterPoweredOn {
		return fmt.Errorf("sim: cannot scan while %s", a.opts.State)
	}
	devices := append(append([]ble.Device(nil), a.opts.Bystanders...), a.opts.Peripheral)
	return a.post(func() {
		for _, d := range devices {
			a.events.DeviceDiscovered(d)
		}
	})
}

func (a *Adapter) Connect(device ble.Device) error {
	return a.post(func() {
		if device.ID != a.opts.Peripheral.ID {
			a.events.ConnectFailed(device, fmt.Errorf("sim: %s refused the connection", device.ID))
			return
		}
		a.mu.Lock()
		a.connected = true
		a.mu.Unlock()
		a.events.Connected(device)
	})
}

func (a *Adapter) DiscoverServices(link ble.Link) error {
	if err := a.checkLink(link.Device.ID); err != nil {
		return err
	}
	return a.post(func() {
		a.events.ServicesDiscovered(link, []ble.Service{
			{UUID: GAPServiceUUID, Link: link},
			{UUID: SerialServiceUUID, Link: link},
		}, nil)
	})
}

func (a *Adapter) DiscoverCharacteristics(service ble.Service) error {
	if err := a.checkLink(service.Link.Device.ID); err != nil {
		return err
	}
	var chars []ble.Characteristic
	switch service.UUID {
	case GAPServiceUUID:
		chars = []ble.Characteristic{{UUID: DeviceNameUUID, Service: service}}
	case SerialServiceUUID:
		chars = []ble.Characteristic{{UUID: a.opts.CharacteristicUUID, Service: service}}
	default:
		return fmt.Errorf("sim: unknown service %s", service.UUID)
	}
	return a.post(func() {
		a.events.CharacteristicsDiscovered(service, chars, nil)
	})
}

func (a *Adapter) checkLink(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || id != a.opts.Peripheral.ID {
		return fmt.Errorf("sim: device %s is not connected", id)
	}
	return nil
}

func (a *Adapter) SetNotify(char ble.Characteristic, enabled bool) error {
	if err := a.checkLink(char.Service.Link.Device.ID); err != nil {
		return err
	}
	if char.UUID != a.opts.CharacteristicUUID {
		return fmt.Errorf("sim: characteristic %s does not notify", char.UUID)
	}

	a.mu.Lock()
	a.notifying = enabled
	a.char = char
	startStepping := enabled && !a.stepping && !a.closed && a.opts.StepScale > 0
	if startStepping {
		a.stepping = true
		a.wg.Add(1)
	}
	a.mu.Unlock()

	if startStepping {
		go a.run()
	}
	return nil
}

// run steps the light at its own pace until the adapter closes.
func (a *Adapter) run() {
	defer a.wg.Done()
	for {
		delay := a.Step()
		wait := time.Duration(float64(delay) * a.opts.StepScale)
		select {
		case <-a.quit:
			return
		case <-time.After(wait):
		}
	}
}

// Step advances the light once and returns the firmware's delay for it.
func (a *Adapter) Step() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.light.Step()
}

// LightState returns the light's current state and mode.
func (a *Adapter) LightState() (trafficlight.State, trafficlight.Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.light.State(), a.light.Mode()
}

// lightChanged runs with a.mu held, so it queues without going through post.
func (a *Adapter) lightChanged(s trafficlight.State) {
	if !a.notifying || !a.connected || a.closed {
		return
	}
	char, events := a.char, a.events
	value := []byte(s.String())
	select {
	case a.queue <- func() { events.ValueUpdated(char, value, nil) }:
	default:
		slog.Debug("[SIM] notification dropped, queue full", "state", s)
	}
}

func (a *Adapter) Write(char ble.Characteristic, data []byte, withResponse bool) error {
	if err := a.checkLink(char.Service.Link.Device.ID); err != nil {
		return err
	}
	if char.UUID != a.opts.CharacteristicUUID {
		return fmt.Errorf("sim: characteristic %s is not writable", char.UUID)
	}

	a.mu.Lock()
	if bytes.IndexByte(data, trafficlight.CommandSwitchMode) >= 0 {
		a.light.SwitchMode()
		slog.Debug("[SIM] switched mode", "mode", a.light.Mode())
	}
	a.mu.Unlock()

	if !withResponse {
		return nil
	}
	return a.post(func() { a.events.WriteConfirmed(char, nil) })
}

func (a *Adapter) Read(char ble.Characteristic) error {
	if err := a.checkLink(char.Service.Link.Device.ID); err != nil {
		return err
	}

	var value []byte
	switch char.UUID {
	case DeviceNameUUID:
		value = []byte(a.opts.Peripheral.Name)
	case a.opts.CharacteristicUUID:
		a.mu.Lock()
		value = []byte(a.light.State().String())
		a.mu.Unlock()
	default:
		return fmt.Errorf("sim: unknown characteristic %s", char.UUID)
	}
	return a.post(func() { a.events.ValueUpdated(char, value, nil) })
}

// Drop simulates the peripheral going out of range.
func (a *Adapter) Drop() error {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.notifying = false
	a.mu.Unlock()
	if !wasConnected {
		return errors.New("sim: not connected")
	}
	device := a.opts.Peripheral
	return a.post(func() { a.events.Disconnected(device, errors.New("sim: link lost")) })
}

// Close stops the light and the delivery goroutine.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.quit)
	a.wg.Wait()
	return nil
}
