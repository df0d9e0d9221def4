package ble

import (
	"errors"
	"log/slog"
)

// SessionOptions configures which peripheral and characteristic the session
// looks for. Both match exactly and case-sensitively.
type SessionOptions struct {
	DeviceName         string
	CharacteristicUUID string
}

// DefaultSessionOptions returns the traffic light module's identifiers.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		DeviceName:         DefaultDeviceName,
		CharacteristicUUID: DefaultCharacteristicUUID,
	}
}

// Session is the central-role state machine. It implements Events and is
// driven entirely by them: powered on → scan → connect → discover services →
// discover characteristics → ready.
//
// Session is not safe for concurrent use. Every Events method, Send and Read
// must run on the same goroutine; Loop provides one.
type Session struct {
	adapter  Adapter
	listener Listener
	opts     SessionOptions

	state state
	value []byte // last value seen on the characteristic of interest
}

var _ Events = (*Session)(nil)

// NewSession creates an idle session. A nil listener discards callbacks.
func NewSession(adapter Adapter, listener Listener, opts SessionOptions) (*Session, error) {
	if adapter == nil {
		return nil, errors.New("ble: adapter must not be nil")
	}
	if listener == nil {
		listener = nopListener{}
	}
	if opts.DeviceName == "" {
		opts.DeviceName = DefaultDeviceName
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = DefaultCharacteristicUUID
	}
	return &Session{
		adapter:  adapter,
		listener: listener,
		opts:     opts,
		state:    idle{},
	}, nil
}

// Phase reports the current state.
func (s *Session) Phase() Phase { return s.state.phase() }

// Ready reports whether Send and Read will issue requests.
func (s *Session) Ready() bool {
	_, ok := s.state.(ready)
	return ok
}

// Characteristic returns the characteristic of interest once ready.
func (s *Session) Characteristic() (Characteristic, bool) {
	st, ok := s.state.(ready)
	return st.char, ok
}

// Link returns the current connection, if any.
func (s *Session) Link() (Link, bool) { return linkOf(s.state) }

// Value returns a copy of the cached last-known characteristic value, or nil
// if nothing has been read or notified yet.
func (s *Session) Value() []byte {
	if s.value == nil {
		return nil
	}
	return append([]byte(nil), s.value...)
}

// Options returns the session's target identifiers.
func (s *Session) Options() SessionOptions { return s.opts }

// AdapterStateChanged starts scanning when the radio is powered on.
func (s *Session) AdapterStateChanged(state AdapterState) {
	slog.Debug("[BLE] adapter state changed", "state", state)

	if state != AdapterPoweredOn {
		if state == AdapterPoweredOff {
			slog.Warn("[BLE] bluetooth is disabled, switch it on and try again")
		} else {
			slog.Warn("[BLE] adapter state not supported", "state", state)
		}
		// A scan in progress dies with the radio; the next power on restarts it.
		if _, ok := s.state.(scanning); ok {
			s.state = idle{}
		}
		return
	}

	if _, ok := s.state.(idle); !ok {
		return
	}
	s.startScan()
}

func (s *Session) startScan() {
	slog.Info("[BLE] scanning", "name", s.opts.DeviceName)
	if err := s.adapter.StartScan(); err != nil {
		slog.Warn("[BLE] start scan failed", "error", err)
		s.state = idle{}
		return
	}
	s.state = scanning{}
}

// DeviceDiscovered connects to the first device advertising the target name.
func (s *Session) DeviceDiscovered(device Device) {
	if device.Name != s.opts.DeviceName {
		return
	}
	if _, ok := s.state.(scanning); !ok {
		return
	}

	slog.Info("[BLE] discovered target", "name", device.Name, "id", device.ID, "rssi", device.RSSI)
	s.state = connecting{device: device}
	if err := s.adapter.Connect(device); err != nil {
		slog.Warn("[BLE] connect request failed", "id", device.ID, "error", err)
	}
}

// Connected stores the link, starts service discovery and notifies the
// listener.
func (s *Session) Connected(device Device) {
	st, ok := s.state.(connecting)
	if !ok || st.device.ID != device.ID {
		slog.Debug("[BLE] ignoring unexpected connection", "id", device.ID)
		return
	}

	slog.Info("[BLE] connected", "id", device.ID)
	link := Link{Device: st.device}
	s.state = discoveringServices{link: link}

	s.listener.OnConnected(s)

	slog.Debug("[BLE] discovering services")
	if err := s.adapter.DiscoverServices(link); err != nil {
		slog.Warn("[BLE] discover services request failed", "error", err)
	}
}

// ConnectFailed is logged only. The session stays in connecting, the same as
// a connect request that never completes.
func (s *Session) ConnectFailed(device Device, err error) {
	slog.Warn("[BLE] connect failed", "id", device.ID, "error", err)
}

// Disconnected drops the link and characteristic and scans again.
func (s *Session) Disconnected(device Device, err error) {
	switch st := s.state.(type) {
	case connecting:
		if st.device.ID != device.ID {
			return
		}
	default:
		link, ok := linkOf(s.state)
		if !ok || link.Device.ID != device.ID {
			return
		}
	}

	slog.Warn("[BLE] disconnected, scanning again", "id", device.ID, "error", err)
	s.value = nil
	s.startScan()
}

// ServicesDiscovered requests characteristic discovery for every service.
func (s *Session) ServicesDiscovered(link Link, services []Service, err error) {
	st, ok := s.state.(discoveringServices)
	if !ok || st.link.Device.ID != link.Device.ID {
		return
	}
	if err != nil {
		slog.Warn("[BLE] discover services failed", "error", err)
		return
	}

	s.state = discoveringCharacteristics{link: st.link}
	if len(services) == 0 {
		slog.Warn("[BLE] no services found", "id", link.Device.ID)
	}
	for _, svc := range services {
		slog.Debug("[BLE] discovering characteristics", "service", svc.UUID)
		if err := s.adapter.DiscoverCharacteristics(svc); err != nil {
			slog.Warn("[BLE] discover characteristics request failed", "service", svc.UUID, "error", err)
		}
	}
}

// CharacteristicsDiscovered selects the target characteristic and subscribes
// to it. When several services carry a match, the last one processed wins.
func (s *Session) CharacteristicsDiscovered(service Service, chars []Characteristic, err error) {
	var link Link
	switch st := s.state.(type) {
	case discoveringCharacteristics:
		link = st.link
	case ready:
		link = st.link
	default:
		return
	}
	if service.Link.Device.ID != link.Device.ID {
		return
	}
	if err != nil {
		slog.Warn("[BLE] discover characteristics failed", "service", service.UUID, "error", err)
		return
	}

	for _, c := range chars {
		if c.UUID != s.opts.CharacteristicUUID {
			continue
		}
		slog.Info("[BLE] discovered characteristic", "characteristic", c.UUID, "service", service.UUID)
		s.state = ready{link: link, char: c}
		if err := s.adapter.SetNotify(c, true); err != nil {
			slog.Warn("[BLE] set notify request failed", "characteristic", c.UUID, "error", err)
		}
	}
}

// Send writes p to the characteristic with acknowledgement. It does nothing
// until the session is ready.
func (s *Session) Send(p Payload) {
	st, ok := s.state.(ready)
	if !ok {
		return
	}
	if err := s.adapter.Write(st.char, p.Bytes(), true); err != nil {
		slog.Warn("[BLE] write request failed", "error", err)
	}
}

// Read requests the characteristic's value. It does nothing until the
// session is ready.
func (s *Session) Read() {
	st, ok := s.state.(ready)
	if !ok {
		return
	}
	if err := s.adapter.Read(st.char); err != nil {
		slog.Warn("[BLE] read request failed", "error", err)
	}
}

// ValueUpdated caches the new value and forwards it to the listener.
func (s *Session) ValueUpdated(char Characteristic, value []byte, err error) {
	st, ok := s.state.(ready)
	if !ok || char.UUID != st.char.UUID {
		return
	}
	if err != nil {
		slog.Warn("[BLE] value update failed", "characteristic", char.UUID, "error", err)
		return
	}
	if value == nil {
		return
	}

	s.value = append([]byte(nil), value...)
	s.listener.OnDataReceived(s, s.Value())
}

// WriteConfirmed reports the cached value to the listener. The written bytes
// are not retained, so a write before any read or notification reports
// nothing.
func (s *Session) WriteConfirmed(char Characteristic, err error) {
	st, ok := s.state.(ready)
	if !ok || char.UUID != st.char.UUID {
		return
	}
	if err != nil {
		slog.Warn("[BLE] write failed", "characteristic", char.UUID, "error", err)
		return
	}
	if s.value == nil {
		return
	}

	s.listener.OnDataWritten(s, s.Value())
}
