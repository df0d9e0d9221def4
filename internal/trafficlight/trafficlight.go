// Package trafficlight models the controller running on the peripheral: a
// light cycling open → closing → closed in normal mode, or blinking between
// closing and off in emergency mode.
package trafficlight

import (
	"fmt"
	"time"
)

// State is the light's current phase.
type State int

const (
	Open State = iota
	Closing
	Closed
	Off
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Off:
		return "off"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState parses the name produced by State.String.
func ParseState(name string) (State, error) {
	for _, s := range []State{Open, Closing, Closed, Off} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("trafficlight: unknown state %q", name)
}

// Color is the lamp that is lit.
type Color int

const (
	None Color = iota
	Green
	Yellow
	Red
)

func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	default:
		return "none"
	}
}

// Mode selects the step sequence.
type Mode int

const (
	Normal Mode = iota
	Emergency
)

func (m Mode) String() string {
	if m == Emergency {
		return "emergency"
	}
	return "normal"
}

// CommandSwitchMode is the byte that toggles the mode when written to the
// serial module.
const CommandSwitchMode byte = 'A'

// Step delays.
const (
	ShortDelay    = 1 * time.Second
	MediumDelay   = 2 * time.Second
	LongDelay     = 3 * time.Second
	VeryLongDelay = 4 * time.Second
)

// ColorOf returns the lamp lit in state s.
func ColorOf(s State) Color {
	switch s {
	case Open:
		return Green
	case Closing:
		return Yellow
	case Closed:
		return Red
	default:
		return None
	}
}

// Manager runs the light. It starts off in normal mode with the yellow lamp
// selected, the way the board powers up. Manager is not safe for concurrent use.
type Manager struct {
	state State
	mode  Mode
	color Color

	// OnUpdate, if set, is called after every state change.
	OnUpdate func(State)
}

// NewManager returns a manager that is off, in normal mode.
func NewManager() *Manager {
	return &Manager{state: Off, mode: Normal, color: Yellow}
}

func (m *Manager) State() State { return m.state }
func (m *Manager) Mode() Mode   { return m.mode }
func (m *Manager) Color() Color { return m.color }

// Step advances the light and returns how long to wait before the next step.
func (m *Manager) Step() time.Duration {
	if m.mode == Normal {
		switch m.state {
		case Open:
			m.set(Closing)
			return MediumDelay
		case Closing:
			m.set(Closed)
			return VeryLongDelay
		case Closed:
			m.set(Open)
			return VeryLongDelay
		case Off:
			m.set(Open)
			return ShortDelay
		}
		return ShortDelay
	}

	if m.state == Off {
		m.set(Closing)
	} else {
		m.set(Off)
	}
	return MediumDelay
}

// SwitchMode toggles between normal and emergency.
func (m *Manager) SwitchMode() {
	if m.mode == Normal {
		m.mode = Emergency
	} else {
		m.mode = Normal
	}
}

func (m *Manager) set(s State) {
	m.state = s
	m.color = ColorOf(s)
	if m.OnUpdate != nil {
		m.OnUpdate(s)
	}
}
