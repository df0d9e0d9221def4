package ble

//go:generate mockgen -destination=../mocks/listener.go -package=mocks github.com/chaz8081/trafficlink/internal/ble Listener

// Listener receives the session's public callbacks. Callbacks run on the
// goroutine that drives the session and must not block it.
type Listener interface {
	// OnConnected fires once the link is up. The data channel is not ready
	// yet; Send and Read stay no-ops until the characteristic is found.
	OnConnected(s *Session)
	// OnDataReceived fires after a read completes or a notification arrives.
	OnDataReceived(s *Session, data []byte)
	// OnDataWritten fires after a write is acknowledged. data is the
	// characteristic's cached last-known value, not the bytes just written.
	OnDataWritten(s *Session, data []byte)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connected    func(s *Session)
	DataReceived func(s *Session, data []byte)
	DataWritten  func(s *Session, data []byte)
}

func (f ListenerFuncs) OnConnected(s *Session) {
	if f.Connected != nil {
		f.Connected(s)
	}
}

func (f ListenerFuncs) OnDataReceived(s *Session, data []byte) {
	if f.DataReceived != nil {
		f.DataReceived(s, data)
	}
}

func (f ListenerFuncs) OnDataWritten(s *Session, data []byte) {
	if f.DataWritten != nil {
		f.DataWritten(s, data)
	}
}

type nopListener struct{}

func (nopListener) OnConnected(*Session)            {}
func (nopListener) OnDataReceived(*Session, []byte) {}
func (nopListener) OnDataWritten(*Session, []byte)  {}
