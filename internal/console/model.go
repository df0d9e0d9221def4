// Package console is an interactive terminal view of a traffic light session.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/trafficlink/internal/ble"
	"github.com/chaz8081/trafficlink/internal/trafficlight"
)

// Controller issues requests to the session. *ble.Loop implements it.
type Controller interface {
	Send(p ble.Payload) error
	Read() error
}

// Model is the Bubbletea model for the console.
type Model struct {
	ctrl Controller

	// Data
	connected bool
	device    ble.Device
	received  []byte
	written   []byte
	errorMsg  string

	// Components
	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	styles  Styles
}

// ConnectedMsg reports that the session linked to a device.
type ConnectedMsg struct {
	Device ble.Device
}

// ReceivedMsg carries a value read or notified from the characteristic.
type ReceivedMsg struct {
	Data []byte
}

// WrittenMsg carries the value reported after a confirmed write.
type WrittenMsg struct {
	Data []byte
}

// requestErrMsg reports that a request could not be handed to the session.
type requestErrMsg struct {
	err error
}

// NewModel creates a console that sends its requests to ctrl.
func NewModel(ctrl Controller) Model {
	h := help.New()
	h.ShowAll = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	return Model{
		ctrl:    ctrl,
		keys:    DefaultKeyMap(),
		help:    h,
		spinner: s,
		styles:  DefaultStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ConnectedMsg:
		m.connected = true
		m.device = msg.Device
		m.errorMsg = ""
		return m, nil

	case ReceivedMsg:
		m.received = msg.Data
		return m, nil

	case WrittenMsg:
		m.written = msg.Data
		return m, nil

	case requestErrMsg:
		m.errorMsg = msg.err.Error()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Update):
		if !m.connected {
			return m, nil
		}
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return requestResult(ctrl.Send(ble.Byte(trafficlight.CommandSwitchMode)))
		}

	case key.Matches(msg, m.keys.Read):
		if !m.connected {
			return m, nil
		}
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return requestResult(ctrl.Read())
		}
	}

	return m, nil
}

func requestResult(err error) tea.Msg {
	if err != nil {
		return requestErrMsg{err: err}
	}
	return nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteString("\n\n")

	if m.connected {
		b.WriteString(m.renderField("Light", m.renderLight()))
		b.WriteString(m.renderField("Received", m.renderValue(m.received)))
		b.WriteString(m.renderField("Written", m.renderValue(m.written)))
	} else {
		b.WriteString(m.styles.Muted.Render("Waiting for the traffic light to come into range."))
		b.WriteString("\n")
	}

	if m.errorMsg != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Error.Render(m.errorMsg))
		b.WriteString("\n")
	}

	helpView := m.styles.Help.Render(m.help.View(m.keys))

	return m.styles.App.Render(b.String() + helpView)
}

func (m Model) renderTitleBar() string {
	parts := []string{m.styles.Title.Render("Traffic Light")}
	if !m.connected {
		parts = append(parts, m.spinner.View()+" "+m.styles.Warning.Render("Searching..."))
	} else {
		parts = append(parts, m.styles.Success.Render("●"))
		name := m.device.Name
		if name == "" {
			name = m.device.ID
		}
		parts = append(parts, m.styles.Muted.Render(name))
	}
	return strings.Join(parts, " ")
}

// renderLight shows the lamp named by the last received value, or the raw
// value if it is not a state name.
func (m Model) renderLight() string {
	if m.received == nil {
		return m.styles.Muted.Render("unknown")
	}
	state, err := trafficlight.ParseState(string(m.received))
	if err != nil {
		return m.styles.Muted.Render(string(m.received))
	}

	label := fmt.Sprintf("● %s", state)
	switch trafficlight.ColorOf(state) {
	case trafficlight.Green:
		return m.styles.Green.Render(label)
	case trafficlight.Yellow:
		return m.styles.Yellow.Render(label)
	case trafficlight.Red:
		return m.styles.Red.Render(label)
	default:
		return m.styles.Muted.Render("○ " + state.String())
	}
}

func (m Model) renderValue(data []byte) string {
	if data == nil {
		return m.styles.Muted.Render("-")
	}
	return fmt.Sprintf("%q", data)
}

func (m Model) renderField(label, value string) string {
	return m.styles.Label.Render(label+":") + " " + m.styles.Value.Render(value) + "\n"
}
