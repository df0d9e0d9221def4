package ble

import "unicode/utf8"

// Payload is anything that can be written to the characteristic.
type Payload interface {
	Bytes() []byte
}

// Raw is a byte sequence sent unchanged.
type Raw []byte

func (r Raw) Bytes() []byte { return []byte(r) }

// Text is sent as UTF-8. Text that is not valid UTF-8 encodes to an empty
// payload.
type Text string

func (t Text) Bytes() []byte {
	if !utf8.ValidString(string(t)) {
		return []byte{}
	}
	return []byte(t)
}

// Byte is sent as a single byte.
type Byte byte

func (b Byte) Bytes() []byte { return []byte{byte(b)} }
