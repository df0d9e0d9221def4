//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// writeValue uses the only write tinygo/bluetooth offers off macOS and
// Windows. On Linux that is BlueZ's WriteValue with no write type: BlueZ
// sends a write request when the characteristic supports one and the call
// returns once the peripheral has answered. withResponse has no effect.
func writeValue(dc bluetooth.DeviceCharacteristic, data []byte, _ bool) error {
	_, err := dc.WriteWithoutResponse(data)
	return err
}
