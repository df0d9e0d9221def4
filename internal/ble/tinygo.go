package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. On macOS device IDs are
// CoreBluetooth UUIDs, elsewhere they are MAC addresses.
//
// tinygo/bluetooth calls block, so every radio request runs on one worker
// goroutine in issue order; Scan blocks until StopScan and gets its own.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	jobs    chan func()
	quit    chan struct{}

	mu       sync.Mutex
	events   Events
	started  bool
	closed   bool
	scanDone chan struct{} // non-nil while a scan is running

	addrs    map[string]bluetooth.Address
	devices  map[string]bluetooth.Device
	services map[serviceKey]bluetooth.DeviceService
	chars    map[charKey]bluetooth.DeviceCharacteristic
}

type serviceKey struct {
	device, service string
}

type charKey struct {
	device, service, char string
}

func keyOfService(svc Service) serviceKey {
	return serviceKey{device: svc.Link.Device.ID, service: svc.UUID}
}

func keyOfChar(c Characteristic) charKey {
	return charKey{device: c.Service.Link.Device.ID, service: c.Service.UUID, char: c.UUID}
}

// NewTinyGoAdapter creates an adapter on the platform's default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:  bluetooth.DefaultAdapter,
		jobs:     make(chan func(), 32),
		quit:     make(chan struct{}),
		addrs:    make(map[string]bluetooth.Address),
		devices:  make(map[string]bluetooth.Device),
		services: make(map[serviceKey]bluetooth.DeviceService),
		chars:    make(map[charKey]bluetooth.DeviceCharacteristic),
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

// Start enables the radio. tinygo/bluetooth has no power state callback, so
// the outcome of Enable is reported as the adapter state.
func (a *TinyGoAdapter) Start(events Events) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("ble: adapter already started")
	}
	a.started = true
	a.events = events
	a.mu.Unlock()

	go a.work()

	return a.enqueue(func() {
		if err := a.adapter.Enable(); err != nil {
			slog.Warn("[BLE] enable adapter failed", "error", err)
			events.AdapterStateChanged(AdapterUnsupported)
			return
		}

		// On macOS and Linux the handler fires with connected=false when a
		// peripheral drops.
		a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			id := device.Address.String()
			a.mu.Lock()
			_, known := a.devices[id]
			delete(a.devices, id)
			a.mu.Unlock()
			if known {
				events.Disconnected(Device{ID: id}, nil)
			}
		})

		events.AdapterStateChanged(AdapterPoweredOn)
	})
}

func (a *TinyGoAdapter) work() {
	for {
		select {
		case <-a.quit:
			return
		case job := <-a.jobs:
			job()
		}
	}
}

var errAdapterClosed = errors.New("ble: adapter closed")

func (a *TinyGoAdapter) enqueue(job func()) error {
	a.mu.Lock()
	closed, started := a.closed, a.started
	a.mu.Unlock()
	if closed {
		return errAdapterClosed
	}
	if !started {
		return errors.New("ble: adapter not started")
	}
	select {
	case a.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *TinyGoAdapter) StartScan() error {
	a.mu.Lock()
	if a.closed || !a.started {
		a.mu.Unlock()
		return errors.New("ble: adapter not running")
	}
	if a.scanDone != nil {
		a.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	a.scanDone = done
	events := a.events
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			a.scanDone = nil
			a.mu.Unlock()
			close(done)
		}()
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			id := result.Address.String()
			a.mu.Lock()
			a.addrs[id] = result.Address
			a.mu.Unlock()
			events.DeviceDiscovered(Device{
				Name: result.LocalName(),
				ID:   id,
				RSSI: int(result.RSSI),
			})
		})
		if err != nil {
			slog.Warn("[BLE] scan stopped", "error", err)
		}
	}()
	return nil
}

// stopScan stops a running scan and waits for Scan to return.
func (a *TinyGoAdapter) stopScan() {
	a.mu.Lock()
	done := a.scanDone
	a.mu.Unlock()
	if done == nil {
		return
	}
	if err := a.adapter.StopScan(); err != nil {
		slog.Warn("[BLE] stop scan failed", "error", err)
	}
	<-done
}

func (a *TinyGoAdapter) Connect(device Device) error {
	a.mu.Lock()
	addr, ok := a.addrs[device.ID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: device %s was not seen by a scan", device.ID)
	}

	return a.enqueue(func() {
		a.stopScan()
		d, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			a.events.ConnectFailed(device, fmt.Errorf("ble: connect to %s: %w", device.ID, err))
			return
		}
		a.mu.Lock()
		a.devices[device.ID] = d
		a.mu.Unlock()
		a.events.Connected(device)
	})
}

func (a *TinyGoAdapter) DiscoverServices(link Link) error {
	a.mu.Lock()
	d, ok := a.devices[link.Device.ID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: device %s is not connected", link.Device.ID)
	}

	return a.enqueue(func() {
		found, err := d.DiscoverServices(nil)
		if err != nil {
			a.events.ServicesDiscovered(link, nil, fmt.Errorf("ble: discover services: %w", err))
			return
		}
		services := make([]Service, 0, len(found))
		a.mu.Lock()
		for _, svc := range found {
			s := Service{UUID: uuidString(svc.UUID()), Link: link}
			a.services[keyOfService(s)] = svc
			services = append(services, s)
		}
		a.mu.Unlock()
		a.events.ServicesDiscovered(link, services, nil)
	})
}

func (a *TinyGoAdapter) DiscoverCharacteristics(service Service) error {
	a.mu.Lock()
	svc, ok := a.services[keyOfService(service)]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: unknown service %s", service.UUID)
	}

	return a.enqueue(func() {
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			a.events.CharacteristicsDiscovered(service, nil, fmt.Errorf("ble: discover characteristics: %w", err))
			return
		}
		chars := make([]Characteristic, 0, len(found))
		a.mu.Lock()
		for _, dc := range found {
			c := Characteristic{UUID: uuidString(dc.UUID()), Service: service}
			a.chars[keyOfChar(c)] = dc
			chars = append(chars, c)
		}
		a.mu.Unlock()
		a.events.CharacteristicsDiscovered(service, chars, nil)
	})
}

func (a *TinyGoAdapter) characteristic(c Characteristic) (bluetooth.DeviceCharacteristic, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dc, ok := a.chars[keyOfChar(c)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: unknown characteristic %s", c.UUID)
	}
	return dc, nil
}

func (a *TinyGoAdapter) SetNotify(c Characteristic, enabled bool) error {
	dc, err := a.characteristic(c)
	if err != nil {
		return err
	}

	return a.enqueue(func() {
		var cb func([]byte)
		if enabled {
			cb = func(buf []byte) {
				a.events.ValueUpdated(c, append([]byte(nil), buf...), nil)
			}
		}
		if err := dc.EnableNotifications(cb); err != nil {
			slog.Warn("[BLE] enable notifications failed", "characteristic", c.UUID, "error", err)
		}
	})
}

func (a *TinyGoAdapter) Write(c Characteristic, data []byte, withResponse bool) error {
	dc, err := a.characteristic(c)
	if err != nil {
		return err
	}
	data = append([]byte(nil), data...)

	return a.enqueue(func() {
		err := writeValue(dc, data, withResponse)
		if err != nil {
			err = fmt.Errorf("ble: write %s: %w", c.UUID, err)
		}
		a.events.WriteConfirmed(c, err)
	})
}

// maxValueLen is the largest attribute value ATT allows.
const maxValueLen = 512

func (a *TinyGoAdapter) Read(c Characteristic) error {
	dc, err := a.characteristic(c)
	if err != nil {
		return err
	}

	return a.enqueue(func() {
		buf := make([]byte, maxValueLen)
		n, err := dc.Read(buf)
		if err != nil {
			a.events.ValueUpdated(c, nil, fmt.Errorf("ble: read %s: %w", c.UUID, err))
			return
		}
		a.events.ValueUpdated(c, buf[:n], nil)
	})
}

// Close stops the scan, disconnects every device and stops the worker.
func (a *TinyGoAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	devices := make([]bluetooth.Device, 0, len(a.devices))
	for id, d := range a.devices {
		devices = append(devices, d)
		delete(a.devices, id)
	}
	a.mu.Unlock()

	if !started {
		return nil
	}
	a.stopScan()

	var errs []error
	for _, d := range devices {
		if err := d.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	close(a.quit)
	return errors.Join(errs...)
}

// uuidString formats a UUID the way the session compares identifiers:
// 16-bit UUIDs in their short form ("DFB1"), everything else in full, both
// upper case.
func uuidString(u bluetooth.UUID) string {
	if u.Is16Bit() {
		return fmt.Sprintf("%04X", u.Get16Bit())
	}
	return strings.ToUpper(u.String())
}
