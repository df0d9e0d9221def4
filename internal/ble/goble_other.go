//go:build !linux

package ble

import "errors"

// NewGoBLEAdapter is only available on Linux, where go-ble talks to HCI
// sockets directly.
func NewGoBLEAdapter(hci int) (Adapter, error) {
	return nil, errors.New("ble: the goble backend requires linux")
}
