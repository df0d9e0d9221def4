package ble_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/chaz8081/trafficlink/internal/ble"
)

var (
	target = ble.Device{Name: "BLE-LinkV1.8", ID: "AA:BB:CC:DD:EE:FF", RSSI: -48}
	other  = ble.Device{Name: "Kitchen-Speaker", ID: "11:22:33:44:55:66", RSSI: -70}
)

func newTestSession(t *testing.T) (*ble.Session, *mockAdapter, *recordingListener) {
	t.Helper()
	adapter := newMockAdapter()
	listener := &recordingListener{}
	s, err := ble.NewSession(adapter, listener, ble.DefaultSessionOptions())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s, adapter, listener
}

var (
	targetLink    = ble.Link{Device: target}
	targetService = ble.Service{UUID: "FFE0", Link: targetLink}
	targetChar    = ble.Characteristic{UUID: "DFB1", Service: targetService}
)

// driveToReady plays the happy path up to a ready session.
func driveToReady(t *testing.T, s *ble.Session) {
	t.Helper()
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.Connected(target)
	s.ServicesDiscovered(targetLink, []ble.Service{targetService}, nil)
	s.CharacteristicsDiscovered(targetService, []ble.Characteristic{
		{UUID: "2A00", Service: targetService},
		targetChar,
	}, nil)
	if !s.Ready() {
		t.Fatalf("session phase = %v, want ready", s.Phase())
	}
}

func TestNewSessionRequiresAdapter(t *testing.T) {
	if _, err := ble.NewSession(nil, nil, ble.DefaultSessionOptions()); err == nil {
		t.Fatal("NewSession(nil adapter) should return an error")
	}
}

func TestNewSessionFillsDefaults(t *testing.T) {
	s, err := ble.NewSession(newMockAdapter(), nil, ble.SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	opts := s.Options()
	if opts.DeviceName != ble.DefaultDeviceName {
		t.Errorf("DeviceName = %q, want %q", opts.DeviceName, ble.DefaultDeviceName)
	}
	if opts.CharacteristicUUID != ble.DefaultCharacteristicUUID {
		t.Errorf("CharacteristicUUID = %q, want %q", opts.CharacteristicUUID, ble.DefaultCharacteristicUUID)
	}
	if s.Phase() != ble.PhaseIdle {
		t.Errorf("Phase() = %v, want idle", s.Phase())
	}
}

func TestNoScanUnlessPoweredOn(t *testing.T) {
	states := []ble.AdapterState{
		ble.AdapterUnknown,
		ble.AdapterResetting,
		ble.AdapterUnsupported,
		ble.AdapterUnauthorized,
		ble.AdapterPoweredOff,
	}
	for _, state := range states {
		t.Run(state.String(), func(t *testing.T) {
			s, adapter, _ := newTestSession(t)
			s.AdapterStateChanged(state)
			if n := adapter.count("scan"); n != 0 {
				t.Errorf("scan requests = %d, want 0", n)
			}
			if s.Phase() != ble.PhaseIdle {
				t.Errorf("Phase() = %v, want idle", s.Phase())
			}
		})
	}
}

func TestPoweredOnStartsScan(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)

	if n := adapter.count("scan"); n != 1 {
		t.Fatalf("scan requests = %d, want 1", n)
	}
	if s.Phase() != ble.PhaseScanning {
		t.Errorf("Phase() = %v, want scanning", s.Phase())
	}

	// A repeated power-on event while scanning does not stack scans.
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	if n := adapter.count("scan"); n != 1 {
		t.Errorf("scan requests after second power on = %d, want 1", n)
	}
}

func TestPowerCycleRestartsScan(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.AdapterStateChanged(ble.AdapterPoweredOff)
	if s.Phase() != ble.PhaseIdle {
		t.Fatalf("Phase() after power off = %v, want idle", s.Phase())
	}
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	if n := adapter.count("scan"); n != 2 {
		t.Errorf("scan requests = %d, want 2", n)
	}
}

func TestScanStartFailureStaysIdle(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	adapter.failOps["scan"] = errors.New("radio busy")
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	if s.Phase() != ble.PhaseIdle {
		t.Errorf("Phase() = %v, want idle", s.Phase())
	}
}

func TestSendAndReadAreNoOpsUntilReady(t *testing.T) {
	s, adapter, _ := newTestSession(t)

	steps := []struct {
		name string
		step func()
	}{
		{"idle", func() {}},
		{"scanning", func() { s.AdapterStateChanged(ble.AdapterPoweredOn) }},
		{"connecting", func() { s.DeviceDiscovered(target) }},
		{"discovering services", func() { s.Connected(target) }},
		{"discovering characteristics", func() {
			s.ServicesDiscovered(targetLink, []ble.Service{targetService}, nil)
		}},
	}
	for _, st := range steps {
		st.step()
		for i := 0; i < 3; i++ {
			s.Send(ble.Text("A"))
			s.Read()
		}
		if n := adapter.count("write"); n != 0 {
			t.Errorf("%s: write requests = %d, want 0", st.name, n)
		}
		if n := adapter.count("read"); n != 0 {
			t.Errorf("%s: read requests = %d, want 0", st.name, n)
		}
	}
}

func TestDiscoveredTargetConnectsOnce(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)

	s.DeviceDiscovered(other)
	if n := adapter.count("connect"); n != 0 {
		t.Fatalf("connect requests for non-target = %d, want 0", n)
	}

	s.DeviceDiscovered(target)
	s.DeviceDiscovered(other)
	s.DeviceDiscovered(ble.Device{Name: "ble-linkv1.8", ID: "case"})
	s.DeviceDiscovered(ble.Device{ID: "anonymous"})

	if n := adapter.count("connect"); n != 1 {
		t.Fatalf("connect requests = %d, want 1", n)
	}
	req, _ := adapter.last("connect")
	if req.device != target {
		t.Errorf("connect device = %+v, want %+v", req.device, target)
	}
	if s.Phase() != ble.PhaseConnecting {
		t.Errorf("Phase() = %v, want connecting", s.Phase())
	}
}

func TestDuplicateTargetNameDoesNotOverwriteLink(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)

	twin := ble.Device{Name: target.Name, ID: "twin"}
	s.DeviceDiscovered(twin)
	if n := adapter.count("connect"); n != 1 {
		t.Fatalf("connect requests = %d, want 1", n)
	}

	// A connection report for the twin is not the link being waited on.
	s.Connected(twin)
	if s.Phase() != ble.PhaseConnecting {
		t.Fatalf("Phase() after twin connected = %v, want connecting", s.Phase())
	}

	s.Connected(target)
	link, ok := s.Link()
	if !ok || link.Device.ID != target.ID {
		t.Errorf("Link() = %+v, %v, want device %s", link, ok, target.ID)
	}
}

func TestConnectedDiscoversServicesAndNotifies(t *testing.T) {
	s, adapter, listener := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.Connected(target)

	if listener.connected != 1 {
		t.Errorf("OnConnected calls = %d, want 1", listener.connected)
	}
	if s.Ready() {
		t.Error("session should not be ready right after connecting")
	}
	req, ok := adapter.last("discover-services")
	if !ok {
		t.Fatal("no service discovery issued")
	}
	if req.link.Device.ID != target.ID {
		t.Errorf("discover services link = %s, want %s", req.link.Device.ID, target.ID)
	}
}

func TestServicesDiscoveredWalksEveryService(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.Connected(target)

	services := []ble.Service{
		{UUID: "1800", Link: targetLink},
		{UUID: "180A", Link: targetLink},
		targetService,
	}
	s.ServicesDiscovered(targetLink, services, nil)

	if n := adapter.count("discover-characteristics"); n != len(services) {
		t.Errorf("characteristic discoveries = %d, want %d", n, len(services))
	}
	if s.Phase() != ble.PhaseDiscoveringCharacteristics {
		t.Errorf("Phase() = %v, want discovering characteristics", s.Phase())
	}
}

func TestServicesDiscoveredErrorYieldsNothing(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.Connected(target)

	s.ServicesDiscovered(targetLink, []ble.Service{targetService}, errors.New("gatt timeout"))
	if n := adapter.count("discover-characteristics"); n != 0 {
		t.Errorf("characteristic discoveries = %d, want 0", n)
	}
	if s.Phase() != ble.PhaseDiscoveringServices {
		t.Errorf("Phase() = %v, want discovering services", s.Phase())
	}
}

func TestNoServicesIsLoggedAndStalls(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.Connected(target)

	s.ServicesDiscovered(targetLink, nil, nil)
	if s.Phase() != ble.PhaseDiscoveringCharacteristics {
		t.Errorf("Phase() = %v, want discovering characteristics", s.Phase())
	}
	if n := adapter.count("discover-characteristics"); n != 0 {
		t.Errorf("characteristic discoveries = %d, want 0", n)
	}
	if !strings.Contains(logs.String(), "no services found") {
		t.Errorf("log output = %q, want a no services warning", logs.String())
	}
}

func TestMatchingCharacteristicMakesSessionReady(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	driveToReady(t, s)

	if n := adapter.count("set-notify"); n != 1 {
		t.Fatalf("set-notify requests = %d, want 1", n)
	}
	req, _ := adapter.last("set-notify")
	if req.char != targetChar || !req.enabled {
		t.Errorf("set-notify = %+v enabled=%v, want %+v enabled=true", req.char, req.enabled, targetChar)
	}
	got, ok := s.Characteristic()
	if !ok || got != targetChar {
		t.Errorf("Characteristic() = %+v, %v, want %+v", got, ok, targetChar)
	}
}

func TestCharacteristicMatchIsCaseSensitive(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.Connected(target)
	s.ServicesDiscovered(targetLink, []ble.Service{targetService}, nil)
	s.CharacteristicsDiscovered(targetService, []ble.Characteristic{{UUID: "dfb1", Service: targetService}}, nil)

	if s.Ready() {
		t.Error("lowercase characteristic should not match")
	}
	if n := adapter.count("set-notify"); n != 0 {
		t.Errorf("set-notify requests = %d, want 0", n)
	}
}

func TestCharacteristicsDiscoveredErrorIsIgnored(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.Connected(target)
	s.ServicesDiscovered(targetLink, []ble.Service{targetService}, nil)
	s.CharacteristicsDiscovered(targetService, []ble.Characteristic{targetChar}, errors.New("insufficient auth"))

	if s.Ready() {
		t.Error("session should not be ready after a failed discovery")
	}
	if n := adapter.count("set-notify"); n != 0 {
		t.Errorf("set-notify requests = %d, want 0", n)
	}
}

func TestLastMatchingServiceWins(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	driveToReady(t, s)

	second := ble.Service{UUID: "FFF0", Link: targetLink}
	secondChar := ble.Characteristic{UUID: "DFB1", Service: second}
	s.CharacteristicsDiscovered(second, []ble.Characteristic{secondChar}, nil)

	got, _ := s.Characteristic()
	if got != secondChar {
		t.Errorf("Characteristic() = %+v, want %+v", got, secondChar)
	}
	if n := adapter.count("set-notify"); n != 2 {
		t.Errorf("set-notify requests = %d, want 2", n)
	}
}

func TestReadIssuesOneRequestPerCall(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	driveToReady(t, s)

	for i := 0; i < 5; i++ {
		s.Read()
	}
	if n := adapter.count("read"); n != 5 {
		t.Errorf("read requests = %d, want 5", n)
	}
	req, _ := adapter.last("read")
	if req.char != targetChar {
		t.Errorf("read characteristic = %+v, want %+v", req.char, targetChar)
	}
}

func TestSendEncodesPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload ble.Payload
		want    []byte
	}{
		{"text", ble.Text("A"), []byte{0x41}},
		{"raw", ble.Raw{0x00, 0xFF}, []byte{0x00, 0xFF}},
		{"byte", ble.Byte(0x07), []byte{0x07}},
		{"invalid utf8", ble.Text("\xff"), []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, adapter, _ := newTestSession(t)
			driveToReady(t, s)
			s.Send(tt.payload)

			req, ok := adapter.last("write")
			if !ok {
				t.Fatal("no write issued")
			}
			if !bytes.Equal(req.data, tt.want) {
				t.Errorf("write data = %x, want %x", req.data, tt.want)
			}
			if !req.withResponse {
				t.Error("write should request acknowledgement")
			}
			if req.char != targetChar {
				t.Errorf("write characteristic = %+v, want %+v", req.char, targetChar)
			}
		})
	}
}

func TestValueUpdatedEmitsOnce(t *testing.T) {
	s, _, listener := newTestSession(t)
	driveToReady(t, s)

	payload := []byte("closing")
	s.ValueUpdated(targetChar, payload, nil)

	if len(listener.received) != 1 {
		t.Fatalf("OnDataReceived calls = %d, want 1", len(listener.received))
	}
	if !bytes.Equal(listener.received[0], payload) {
		t.Errorf("received = %q, want %q", listener.received[0], payload)
	}
	if !bytes.Equal(s.Value(), payload) {
		t.Errorf("Value() = %q, want %q", s.Value(), payload)
	}

	// The cache is a copy, not an alias of the adapter's buffer.
	payload[0] = 'X'
	if s.Value()[0] != 'c' {
		t.Error("Value() aliases the delivered buffer")
	}
}

func TestValueUpdatedIgnoresOtherCharacteristicsAndErrors(t *testing.T) {
	s, _, listener := newTestSession(t)
	driveToReady(t, s)

	s.ValueUpdated(ble.Characteristic{UUID: "2A19", Service: targetService}, []byte{100}, nil)
	s.ValueUpdated(targetChar, []byte("open"), errors.New("read not permitted"))
	s.ValueUpdated(targetChar, nil, nil)

	if len(listener.received) != 0 {
		t.Errorf("OnDataReceived calls = %d, want 0", len(listener.received))
	}
	if s.Value() != nil {
		t.Errorf("Value() = %q, want nil", s.Value())
	}
}

func TestValueUpdatedBeforeReadyIsIgnored(t *testing.T) {
	s, _, listener := newTestSession(t)
	s.ValueUpdated(targetChar, []byte("open"), nil)
	if len(listener.received) != 0 {
		t.Errorf("OnDataReceived calls = %d, want 0", len(listener.received))
	}
}

// The write confirmation reports the cached last-read value, not the bytes
// just written.
func TestWriteConfirmedReportsCachedValue(t *testing.T) {
	s, adapter, listener := newTestSession(t)
	driveToReady(t, s)

	s.ValueUpdated(targetChar, []byte("open"), nil)
	s.Send(ble.Text("A"))
	req, _ := adapter.last("write")
	if !bytes.Equal(req.data, []byte{0x41}) {
		t.Fatalf("write data = %x, want 41", req.data)
	}

	s.WriteConfirmed(targetChar, nil)
	if len(listener.written) != 1 {
		t.Fatalf("OnDataWritten calls = %d, want 1", len(listener.written))
	}
	if got := listener.written[0]; !bytes.Equal(got, []byte("open")) {
		t.Errorf("written = %q, want cached %q", got, "open")
	}
	if bytes.Equal(listener.written[0], req.data) {
		t.Error("OnDataWritten should not report the written payload")
	}
}

func TestWriteConfirmedWithoutCachedValueEmitsNothing(t *testing.T) {
	s, _, listener := newTestSession(t)
	driveToReady(t, s)

	s.Send(ble.Text("A"))
	s.WriteConfirmed(targetChar, nil)
	if len(listener.written) != 0 {
		t.Errorf("OnDataWritten calls = %d, want 0 (no value cached yet)", len(listener.written))
	}
}

func TestWriteConfirmedErrorEmitsNothing(t *testing.T) {
	s, _, listener := newTestSession(t)
	driveToReady(t, s)
	s.ValueUpdated(targetChar, []byte("open"), nil)

	s.WriteConfirmed(targetChar, errors.New("write not permitted"))
	s.WriteConfirmed(ble.Characteristic{UUID: "2A00", Service: targetService}, nil)
	if len(listener.written) != 0 {
		t.Errorf("OnDataWritten calls = %d, want 0", len(listener.written))
	}
}

func TestHappyPathScenario(t *testing.T) {
	s, adapter, listener := newTestSession(t)
	driveToReady(t, s)

	want := []string{"scan", "connect", "discover-services", "discover-characteristics", "set-notify"}
	got := adapter.ops()
	if len(got) != len(want) {
		t.Fatalf("requests = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if listener.connected != 1 {
		t.Errorf("OnConnected calls = %d, want 1", listener.connected)
	}
}

// A connect failure keeps the session waiting in connecting; nothing
// restarts the scan.
func TestConnectFailureLeavesSessionStuck(t *testing.T) {
	s, adapter, listener := newTestSession(t)
	s.AdapterStateChanged(ble.AdapterPoweredOn)
	s.DeviceDiscovered(target)
	s.ConnectFailed(target, errors.New("connection timed out"))

	if s.Phase() != ble.PhaseConnecting {
		t.Errorf("Phase() = %v, want connecting", s.Phase())
	}
	if n := adapter.count("scan"); n != 1 {
		t.Errorf("scan requests = %d, want 1", n)
	}
	s.DeviceDiscovered(target)
	if n := adapter.count("connect"); n != 1 {
		t.Errorf("connect requests = %d, want 1", n)
	}
	if listener.connected != 0 {
		t.Errorf("OnConnected calls = %d, want 0", listener.connected)
	}
}

// A disconnect returns the session to scanning, and readiness has to be
// earned again.
func TestDisconnectReturnsToScanning(t *testing.T) {
	s, adapter, listener := newTestSession(t)
	driveToReady(t, s)
	s.ValueUpdated(targetChar, []byte("open"), nil)

	s.Disconnected(ble.Device{ID: target.ID}, errors.New("link lost"))

	if s.Phase() != ble.PhaseScanning {
		t.Fatalf("Phase() = %v, want scanning", s.Phase())
	}
	if s.Ready() {
		t.Error("session should not be ready after disconnect")
	}
	if s.Value() != nil {
		t.Errorf("Value() = %q, want nil after disconnect", s.Value())
	}
	if n := adapter.count("scan"); n != 2 {
		t.Errorf("scan requests = %d, want 2", n)
	}

	s.Send(ble.Text("A"))
	if n := adapter.count("write"); n != 0 {
		t.Errorf("write requests after disconnect = %d, want 0", n)
	}

	driveToReady(t, s)
	if listener.connected != 2 {
		t.Errorf("OnConnected calls = %d, want 2", listener.connected)
	}
}

func TestDisconnectOfUnknownDeviceIsIgnored(t *testing.T) {
	s, adapter, _ := newTestSession(t)
	driveToReady(t, s)

	s.Disconnected(other, nil)
	if !s.Ready() {
		t.Errorf("Phase() = %v, want ready", s.Phase())
	}
	if n := adapter.count("scan"); n != 1 {
		t.Errorf("scan requests = %d, want 1", n)
	}
}

func TestPowerOffWhileReadyKeepsLink(t *testing.T) {
	s, _, _ := newTestSession(t)
	driveToReady(t, s)
	s.AdapterStateChanged(ble.AdapterPoweredOff)
	if !s.Ready() {
		t.Errorf("Phase() = %v, want ready until the adapter reports a disconnect", s.Phase())
	}
}
