//go:build linux

package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// GoBLEAdapter drives a Linux HCI device directly through go-ble, bypassing
// BlueZ. IDs are MAC addresses.
type GoBLEAdapter struct {
	hci  int
	jobs chan func()
	quit chan struct{}

	mu         sync.Mutex
	dev        goble.Device
	events     Events
	closed     bool
	scanCancel context.CancelFunc
	scanDone   chan struct{}

	clients  map[string]goble.Client
	services map[serviceKey]*goble.Service
	chars    map[charKey]*goble.Characteristic
}

// NewGoBLEAdapter creates an adapter on hciN. The device is opened by Start.
func NewGoBLEAdapter(hci int) (Adapter, error) {
	if hci < 0 {
		return nil, fmt.Errorf("ble: invalid hci device %d", hci)
	}
	return &GoBLEAdapter{
		hci:      hci,
		jobs:     make(chan func(), 32),
		quit:     make(chan struct{}),
		clients:  make(map[string]goble.Client),
		services: make(map[serviceKey]*goble.Service),
		chars:    make(map[charKey]*goble.Characteristic),
	}, nil
}

var _ Adapter = (*GoBLEAdapter)(nil)

func (a *GoBLEAdapter) Start(events Events) error {
	a.mu.Lock()
	if a.events != nil {
		a.mu.Unlock()
		return errors.New("ble: adapter already started")
	}
	a.events = events
	a.mu.Unlock()

	go a.work()

	return a.enqueue(func() {
		dev, err := linux.NewDevice(goble.OptDeviceID(a.hci))
		if err != nil {
			slog.Warn("[BLE] open hci device failed", "hci", a.hci, "error", err)
			events.AdapterStateChanged(AdapterUnsupported)
			return
		}
		a.mu.Lock()
		a.dev = dev
		a.mu.Unlock()
		events.AdapterStateChanged(AdapterPoweredOn)
	})
}

func (a *GoBLEAdapter) work() {
	for {
		select {
		case <-a.quit:
			return
		case job := <-a.jobs:
			job()
		}
	}
}

func (a *GoBLEAdapter) enqueue(job func()) error {
	a.mu.Lock()
	closed, started := a.closed, a.events != nil
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

func (a *GoBLEAdapter) StartScan() error {
	a.mu.Lock()
	if a.dev == nil || a.closed {
		a.mu.Unlock()
		return errors.New("ble: adapter not running")
	}
	if a.scanDone != nil {
		a.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.scanCancel, a.scanDone = cancel, done
	dev, events := a.dev, a.events
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			a.scanCancel, a.scanDone = nil, nil
			a.mu.Unlock()
			close(done)
		}()
		err := dev.Scan(ctx, false, func(adv goble.Advertisement) {
			events.DeviceDiscovered(Device{
				Name: adv.LocalName(),
				ID:   adv.Addr().String(),
				RSSI: adv.RSSI(),
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("[BLE] scan stopped", "error", err)
		}
	}()
	return nil
}

func (a *GoBLEAdapter) stopScan() {
	a.mu.Lock()
	cancel, done := a.scanCancel, a.scanDone
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *GoBLEAdapter) Connect(device Device) error {
	return a.enqueue(func() {
		a.stopScan()
		a.mu.Lock()
		dev := a.dev
		a.mu.Unlock()

		client, err := dev.Dial(context.Background(), goble.NewAddr(device.ID))
		if err != nil {
			a.events.ConnectFailed(device, fmt.Errorf("ble: dial %s: %w", device.ID, err))
			return
		}
		a.mu.Lock()
		a.clients[device.ID] = client
		a.mu.Unlock()

		go func() {
			<-client.Disconnected()
			a.mu.Lock()
			_, known := a.clients[device.ID]
			delete(a.clients, device.ID)
			a.mu.Unlock()
			if known {
				a.events.Disconnected(device, nil)
			}
		}()

		a.events.Connected(device)
	})
}

func (a *GoBLEAdapter) client(id string) (goble.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.clients[id]
	if !ok {
		return nil, fmt.Errorf("ble: device %s is not connected", id)
	}
	return c, nil
}

func (a *GoBLEAdapter) DiscoverServices(link Link) error {
	client, err := a.client(link.Device.ID)
	if err != nil {
		return err
	}

	return a.enqueue(func() {
		found, err := client.DiscoverServices(nil)
		if err != nil {
			a.events.ServicesDiscovered(link, nil, fmt.Errorf("ble: discover services: %w", err))
			return
		}
		services := make([]Service, 0, len(found))
		a.mu.Lock()
		for _, svc := range found {
			s := Service{UUID: gobleUUIDString(svc.UUID), Link: link}
			a.services[keyOfService(s)] = svc
			services = append(services, s)
		}
		a.mu.Unlock()
		a.events.ServicesDiscovered(link, services, nil)
	})
}

func (a *GoBLEAdapter) DiscoverCharacteristics(service Service) error {
	client, err := a.client(service.Link.Device.ID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	svc, ok := a.services[keyOfService(service)]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: unknown service %s", service.UUID)
	}

	return a.enqueue(func() {
		found, err := client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			a.events.CharacteristicsDiscovered(service, nil, fmt.Errorf("ble: discover characteristics: %w", err))
			return
		}
		chars := make([]Characteristic, 0, len(found))
		for _, gc := range found {
			// Subscribe needs the CCCD, which only descriptor discovery finds.
			if _, err := client.DiscoverDescriptors(nil, gc); err != nil {
				slog.Debug("[BLE] discover descriptors failed", "characteristic", gobleUUIDString(gc.UUID), "error", err)
			}
			c := Characteristic{UUID: gobleUUIDString(gc.UUID), Service: service}
			a.mu.Lock()
			a.chars[keyOfChar(c)] = gc
			a.mu.Unlock()
			chars = append(chars, c)
		}
		a.events.CharacteristicsDiscovered(service, chars, nil)
	})
}

func (a *GoBLEAdapter) characteristic(c Characteristic) (goble.Client, *goble.Characteristic, error) {
	client, err := a.client(c.Service.Link.Device.ID)
	if err != nil {
		return nil, nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	gc, ok := a.chars[keyOfChar(c)]
	if !ok {
		return nil, nil, fmt.Errorf("ble: unknown characteristic %s", c.UUID)
	}
	return client, gc, nil
}

func (a *GoBLEAdapter) SetNotify(c Characteristic, enabled bool) error {
	client, gc, err := a.characteristic(c)
	if err != nil {
		return err
	}

	return a.enqueue(func() {
		var err error
		if enabled {
			err = client.Subscribe(gc, false, func(buf []byte) {
				a.events.ValueUpdated(c, append([]byte(nil), buf...), nil)
			})
		} else {
			err = client.Unsubscribe(gc, false)
		}
		if err != nil {
			slog.Warn("[BLE] set notify failed", "characteristic", c.UUID, "enabled", enabled, "error", err)
		}
	})
}

func (a *GoBLEAdapter) Write(c Characteristic, data []byte, withResponse bool) error {
	client, gc, err := a.characteristic(c)
	if err != nil {
		return err
	}
	data = append([]byte(nil), data...)

	return a.enqueue(func() {
		err := client.WriteCharacteristic(gc, data, !withResponse)
		if err != nil {
			err = fmt.Errorf("ble: write %s: %w", c.UUID, err)
		}
		a.events.WriteConfirmed(c, err)
	})
}

func (a *GoBLEAdapter) Read(c Characteristic) error {
	client, gc, err := a.characteristic(c)
	if err != nil {
		return err
	}

	return a.enqueue(func() {
		value, err := client.ReadCharacteristic(gc)
		if err != nil {
			a.events.ValueUpdated(c, nil, fmt.Errorf("ble: read %s: %w", c.UUID, err))
			return
		}
		a.events.ValueUpdated(c, value, nil)
	})
}

func (a *GoBLEAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	dev := a.dev
	clients := make([]goble.Client, 0, len(a.clients))
	for id, c := range a.clients {
		clients = append(clients, c)
		delete(a.clients, id)
	}
	a.mu.Unlock()

	a.stopScan()

	var errs []error
	for _, c := range clients {
		if err := c.CancelConnection(); err != nil {
			errs = append(errs, err)
		}
	}
	if dev != nil {
		if err := dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("ble: stop device: %w", err))
		}
	}
	close(a.quit)
	return errors.Join(errs...)
}

// gobleUUIDString matches uuidString: go-ble keeps UUIDs little-endian.
func gobleUUIDString(u goble.UUID) string {
	b := make([]byte, len(u))
	for i := range u {
		b[len(u)-1-i] = u[i]
	}
	if len(b) != 16 {
		return strings.ToUpper(fmt.Sprintf("%x", b))
	}
	return strings.ToUpper(fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]))
}
