//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// writeValue sends a write request when withResponse is set and a write
// command otherwise.
func writeValue(dc bluetooth.DeviceCharacteristic, data []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = dc.Write(data)
	} else {
		_, err = dc.WriteWithoutResponse(data)
	}
	return err
}
