package ble

// Phase names the session's current state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseConnecting
	PhaseDiscoveringServices
	PhaseDiscoveringCharacteristics
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseConnecting:
		return "connecting"
	case PhaseDiscoveringServices:
		return "discovering services"
	case PhaseDiscoveringCharacteristics:
		return "discovering characteristics"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// state is one of the concrete session states below. Each carries exactly
// what the next transition needs.
type state interface {
	phase() Phase
}

type idle struct{}

type scanning struct{}

type connecting struct {
	device Device
}

type discoveringServices struct {
	link Link
}

type discoveringCharacteristics struct {
	link Link
}

type ready struct {
	link Link
	char Characteristic
}

func (idle) phase() Phase                       { return PhaseIdle }
func (scanning) phase() Phase                   { return PhaseScanning }
func (connecting) phase() Phase                 { return PhaseConnecting }
func (discoveringServices) phase() Phase        { return PhaseDiscoveringServices }
func (discoveringCharacteristics) phase() Phase { return PhaseDiscoveringCharacteristics }
func (ready) phase() Phase                      { return PhaseReady }

// linkOf returns the link owned by st, if any.
func linkOf(st state) (Link, bool) {
	switch st := st.(type) {
	case discoveringServices:
		return st.link, true
	case discoveringCharacteristics:
		return st.link, true
	case ready:
		return st.link, true
	}
	return Link{}, false
}
