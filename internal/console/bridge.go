package console

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chaz8081/trafficlink/internal/ble"
)

// Sender accepts messages for a running program. *tea.Program implements it.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge is a ble.Listener that forwards session callbacks to the console.
// Callbacks arriving before Attach are dropped.
type Bridge struct {
	mu     sync.Mutex
	sender Sender
}

var _ ble.Listener = (*Bridge)(nil)

// Attach starts forwarding callbacks to s.
func (b *Bridge) Attach(s Sender) {
	b.mu.Lock()
	b.sender = s
	b.mu.Unlock()
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	s := b.sender
	b.mu.Unlock()
	if s != nil {
		s.Send(msg)
	}
}

func (b *Bridge) OnConnected(s *ble.Session) {
	link, _ := s.Link()
	b.send(ConnectedMsg{Device: link.Device})
}

func (b *Bridge) OnDataReceived(_ *ble.Session, data []byte) {
	b.send(ReceivedMsg{Data: data})
}

func (b *Bridge) OnDataWritten(_ *ble.Session, data []byte) {
	b.send(WrittenMsg{Data: data})
}
