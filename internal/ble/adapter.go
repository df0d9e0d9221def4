// Package ble provides the BLE central session for talking to the traffic
// light's serial module. It finds the peripheral by advertised name, walks
// its services and characteristics, and exchanges bytes over one
// notify/write characteristic.
package ble

import (
	"errors"
	"fmt"
)

// Defaults for the HM-10 style module on the traffic light board.
const (
	DefaultDeviceName         = "BLE-LinkV1.8"
	DefaultCharacteristicUUID = "DFB1"
)

// AdapterState is the power state of the local radio.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterResetting
	AdapterUnsupported
	AdapterUnauthorized
	AdapterPoweredOff
	AdapterPoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case AdapterUnknown:
		return "unknown"
	case AdapterResetting:
		return "resetting"
	case AdapterUnsupported:
		return "unsupported"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterPoweredOff:
		return "powered off"
	case AdapterPoweredOn:
		return "powered on"
	default:
		return fmt.Sprintf("AdapterState(%d)", int(s))
	}
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string // advertised local name, empty when not advertised
	ID   string // opaque handle understood by the Adapter that reported it
	RSSI int
}

// Link is an established connection to one device.
type Link struct {
	Device Device
}

// Service is a GATT service found on a Link.
type Service struct {
	UUID string
	Link Link
}

// Characteristic is a GATT characteristic found in a Service.
type Characteristic struct {
	UUID    string
	Service Service
}

// ErrQueueFull is returned by an Adapter request that found the adapter's
// request queue full. The request is dropped.
var ErrQueueFull = errors.New("ble: adapter queue full")

// Adapter abstracts the BLE hardware adapter. Every request returns as soon
// as it has been issued; outcomes are reported later through the Events
// passed to Start. A returned error means the request could not be issued.
// Requests never wait for queue space; see ErrQueueFull.
type Adapter interface {
	// Start begins observing the radio and delivering events.
	Start(events Events) error
	// StartScan scans for every advertising device, with no service filter.
	StartScan() error
	// Connect requests a connection to a device reported by a scan.
	Connect(device Device) error
	// DiscoverServices enumerates every service on the link.
	DiscoverServices(link Link) error
	// DiscoverCharacteristics enumerates every characteristic of a service.
	DiscoverCharacteristics(service Service) error
	// SetNotify enables or disables notifications for a characteristic.
	SetNotify(char Characteristic, enabled bool) error
	// Write sends data to a characteristic.
	Write(char Characteristic, data []byte, withResponse bool) error
	// Read requests the current value of a characteristic.
	Read(char Characteristic) error
	// Close stops scanning and drops every connection.
	Close() error
}

// Events is the inbound half of the adapter contract. Implementations
// expect calls from a single goroutine; see Loop.
type Events interface {
	AdapterStateChanged(state AdapterState)
	DeviceDiscovered(device Device)
	Connected(device Device)
	ConnectFailed(device Device, err error)
	Disconnected(device Device, err error)
	ServicesDiscovered(link Link, services []Service, err error)
	CharacteristicsDiscovered(service Service, chars []Characteristic, err error)
	ValueUpdated(char Characteristic, value []byte, err error)
	WriteConfirmed(char Characteristic, err error)
}
