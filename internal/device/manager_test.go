package device

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

type fakeLink struct {
	mu      sync.Mutex
	handler func([]byte)
	writes  []string

	done         chan struct{}
	lost         sync.Once
	disconnected atomic.Int32
}

func newFakeLink() *fakeLink {
	return &fakeLink{done: make(chan struct{})}
}

func (l *fakeLink) Subscribe(handler func(p []byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
	return nil
}

func (l *fakeLink) Write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, string(p))
	return nil
}

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Disconnect() error {
	l.disconnected.Add(1)
	return nil
}

func (l *fakeLink) emit(p []byte) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	h(p)
}

func (l *fakeLink) drop() {
	l.lost.Do(func() { close(l.done) })
}

type fakeRadio struct {
	enableErr  error
	connectErr error
	adverts    []Device

	enables atomic.Int32
	scans   atomic.Int32

	mu    sync.Mutex
	links []*fakeLink
}

func (r *fakeRadio) Enable() error {
	r.enables.Add(1)
	return r.enableErr
}

func (r *fakeRadio) Scan(ctx context.Context, found func(Device)) error {
	r.scans.Add(1)
	for _, d := range r.adverts {
		found(d)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeRadio) Connect(_ context.Context, id string) (Link, error) {
	if r.connectErr != nil {
		return nil, r.connectErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l := newFakeLink()
	r.links = append(r.links, l)
	return l, nil
}

func (r *fakeRadio) lastLink() *fakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.links) == 0 {
		return nil
	}
	return r.links[len(r.links)-1]
}

type fakeMemory struct {
	mu     sync.Mutex
	device *RememberedDevice
}

func (m *fakeMemory) Remembered(context.Context) (*RememberedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil, nil
	}
	d := *m.device
	return &d, nil
}

func (m *fakeMemory) Remember(_ context.Context, d RememberedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = &d
	return nil
}

func (m *fakeMemory) ForgetDevice(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = nil
	return nil
}

func rssi(v int16) *int16 { return &v }

func advertising() []Device {
	return []Device{
		{ID: "aa", Name: "DRV-One", RSSI: rssi(-70)},
		{ID: "bb", Name: "DRV-Two", RSSI: rssi(-60)},
		{ID: "bb", Name: "DRV-Two", RSSI: rssi(-40)},
		{ID: "cc", Name: "Headphones", RSSI: rssi(-10)},
		{ID: "dd", Name: "DRV-Quiet"},
	}
}

func newTestManager(radio Radio, memory Memory, options ...func(m *Manager)) *Manager {
	options = append([]func(m *Manager){
		WithScanTimeout(30 * time.Millisecond),
		WithAutoConnectTimeout(30 * time.Millisecond),
		WithSampleInterval(MinSampleInterval),
	}, options...)
	return NewManager(radio, memory, options...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c <-chan telemetry.Sample) telemetry.Sample {
	t.Helper()
	select {
	case s := <-c:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for sample")
		return telemetry.Sample{}
	}
}

func TestConnect_FallsBackToSimulator(t *testing.T) {
	tests := []struct {
		name   string
		radio  Radio
		reason error
	}{
		{"no radio", nil, ErrRadioUnavailable},
		{"radio off", &fakeRadio{enableErr: ErrRadioUnavailable}, ErrRadioUnavailable},
		{"permission denied", &fakeRadio{enableErr: ErrPermissionDenied}, ErrPermissionDenied},
		{"no devices", &fakeRadio{}, ErrNoDevices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(tt.radio, nil)
			defer m.Close()

			sub := m.Subscribe(16)
			defer sub.Close()

			state, err := m.Connect(context.Background(), nil)
			if err != nil {
				t.Fatalf("connect: %v", err)
			}

			if !state.Connected() || state.Mode != ModeSimulated {
				t.Fatalf("expected simulated connection, got %s", state)
			}
			if state.Device == nil || state.Device.ID != SyntheticDeviceID {
				t.Errorf("expected synthetic device, got %+v", state.Device)
			}
			if !errors.Is(state.FallbackReason, tt.reason) {
				t.Errorf("expected fallback reason %v, got %v", tt.reason, state.FallbackReason)
			}

			s := receive(t, sub.C)
			if s.Speed < 0 || math.IsNaN(s.Temperature) {
				t.Errorf("invalid simulated sample %+v", s)
			}
		})
	}
}

func TestConnect_RealSourceDoesNotFallBack(t *testing.T) {
	radio := &fakeRadio{}
	m := newTestManager(radio, nil, WithSource(SourceReal))
	defer m.Close()

	state, err := m.Connect(context.Background(), nil)
	if !errors.Is(err, ErrDeviceUnreachable) || !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if state.Phase != PhaseDisconnected {
		t.Errorf("expected disconnected, got %s", state)
	}

	radio.enableErr = ErrPermissionDenied
	if _, err = m.Connect(context.Background(), nil); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected permission denied, got %v", err)
	}
}

func TestConnect_FallbackDisabled(t *testing.T) {
	m := newTestManager(nil, nil, WithFallback(false))
	defer m.Close()

	state, err := m.Connect(context.Background(), nil)
	if !errors.Is(err, ErrRadioUnavailable) {
		t.Fatalf("expected radio unavailable, got %v", err)
	}
	if state.Phase != PhaseDisconnected {
		t.Errorf("expected disconnected, got %s", state)
	}
}

func TestConnect_StrongestDevice(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	memory := &fakeMemory{}

	m := newTestManager(radio, memory)
	defer m.Close()

	sub := m.Subscribe(16)
	defer sub.Close()

	state, err := m.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !state.Connected() || state.Mode != ModeReal || state.Device.ID != "bb" {
		t.Fatalf("expected real connection to bb, got %s", state)
	}
	if state.FallbackReason != nil {
		t.Errorf("unexpected fallback reason %v", state.FallbackReason)
	}

	remembered, _ := memory.Remembered(context.Background())
	if remembered == nil || remembered.ID != "bb" || remembered.Name != "DRV-Two" {
		t.Errorf("expected bb to be remembered, got %+v", remembered)
	}

	link := radio.lastLink()
	link.emit(telemetry.EncodeFrame(telemetry.Frame{Speed: 88, GForceX: 0.3, GForceY: 0.4, Temperature: 31}))

	s := receive(t, sub.C)
	if s.Speed != 88 {
		t.Errorf("expected speed 88, got %f", s.Speed)
	}
	if math.Abs(s.GForce-0.5) > 1e-6 {
		t.Errorf("expected g-force 0.5, got %f", s.GForce)
	}
	if s.GForceX == nil || s.GForceY == nil || s.GForceZ == nil {
		t.Errorf("expected per-axis values in real mode")
	}

	link.emit([]byte{1, 2, 3}) // short frame is replaced, not dropped
	s = receive(t, sub.C)
	if s.GForceX != nil {
		t.Errorf("expected synthesized sample without axes, got %+v", s)
	}
}

func TestConnect_UnreachableNamedDevice(t *testing.T) {
	radio := &fakeRadio{connectErr: ErrDeviceUnreachable}
	memory := &fakeMemory{}

	m := newTestManager(radio, memory)
	defer m.Close()

	state, err := m.Connect(context.Background(), &Device{ID: "aa", Name: "DRV-One"})
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if state.Phase != PhaseDisconnected {
		t.Errorf("expected disconnected, got %s", state)
	}
	if remembered, _ := memory.Remembered(context.Background()); remembered != nil {
		t.Errorf("failed connection must not be remembered")
	}
}

func TestConnect_ReplacesPriorConnection(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), &Device{ID: "aa", Name: "DRV-One"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := radio.lastLink()

	state, err := m.Connect(context.Background(), &Device{ID: "bb", Name: "DRV-Two"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if state.Device.ID != "bb" {
		t.Errorf("expected bb, got %s", state)
	}
	if first.disconnected.Load() != 1 {
		t.Errorf("expected prior link to be disconnected")
	}
}

func TestConnect_SimulatedSource(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil, WithSource(SourceSimulated))
	defer m.Close()

	state, err := m.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if state.Mode != ModeSimulated || state.FallbackReason != nil {
		t.Errorf("expected plain simulated connection, got %s (%v)", state, state.FallbackReason)
	}
	if radio.enables.Load() != 0 || radio.scans.Load() != 0 {
		t.Errorf("simulated source must not touch the radio")
	}
}

func TestScan(t *testing.T) {
	m := newTestManager(&fakeRadio{adverts: advertising()}, nil)
	defer m.Close()

	devices, err := m.Scan(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{"bb", "aa", "dd"}
	if len(devices) != len(want) {
		t.Fatalf("expected %d devices, got %+v", len(want), devices)
	}
	for i, id := range want {
		if devices[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, devices[i].ID)
		}
	}
	if *devices[0].RSSI != -40 {
		t.Errorf("expected strongest rssi kept, got %d", *devices[0].RSSI)
	}
	if m.State().Phase != PhaseDisconnected {
		t.Errorf("expected disconnected after scan, got %s", m.State())
	}
}

func TestScan_Empty(t *testing.T) {
	m := newTestManager(&fakeRadio{}, nil)
	defer m.Close()

	devices, err := m.Scan(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("expected no devices, got %+v", devices)
	}
}

func TestScan_Coalesced(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil)
	defer m.Close()

	results := make(chan int, 2)
	scan := func() {
		devices, err := m.Scan(context.Background(), 200*time.Millisecond)
		if err != nil {
			t.Errorf("scan: %v", err)
		}
		results <- len(devices)
	}

	go scan()
	waitFor(t, "first scan", func() bool { return radio.scans.Load() == 1 })
	if m.State().Phase != PhaseScanning {
		t.Errorf("expected scanning, got %s", m.State())
	}
	go scan()

	if a, b := <-results, <-results; a != 3 || b != 3 {
		t.Errorf("expected both callers to get 3 devices, got %d and %d", a, b)
	}
	if radio.scans.Load() != 1 {
		t.Errorf("expected one radio scan, got %d", radio.scans.Load())
	}
}

func TestDisconnect_CancelsScan(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil)
	defer m.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Scan(context.Background(), time.Minute)
	}()

	waitFor(t, "scan", func() bool { return radio.scans.Load() == 1 })
	m.Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scan was not cancelled")
	}
	if m.State().Phase != PhaseDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestDisconnect(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil)
	defer m.Close()

	m.Disconnect()
	m.Disconnect()
	if m.State().Phase != PhaseDisconnected {
		t.Fatalf("expected disconnected")
	}

	if _, err := m.Connect(context.Background(), &Device{ID: "aa", Name: "DRV-One"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Disconnect()
	m.Disconnect()

	if m.State().Phase != PhaseDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
	if n := radio.lastLink().disconnected.Load(); n != 1 {
		t.Errorf("expected link disconnected once, got %d", n)
	}
}

func TestSendCommand(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil)
	defer m.Close()

	if err := m.SendCommand(context.Background(), "ZERO"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	if _, err := m.Connect(context.Background(), &Device{ID: "aa", Name: "DRV-One"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.SendCommand(context.Background(), "ZERO"); err != nil {
		t.Fatalf("send: %v", err)
	}

	link := radio.lastLink()
	link.mu.Lock()
	writes := append([]string(nil), link.writes...)
	link.mu.Unlock()
	if len(writes) != 1 || writes[0] != "ZERO" {
		t.Errorf("expected ZERO written, got %v", writes)
	}

	sim := newTestManager(nil, nil)
	defer sim.Close()
	if _, err := sim.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := sim.SendCommand(context.Background(), "ZERO"); err != nil {
		t.Errorf("expected simulator to acknowledge, got %v", err)
	}
}

func TestLinkLost_SwitchesToSimulator(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil)
	defer m.Close()

	sub := m.Subscribe(64)
	defer sub.Close()

	if _, err := m.Connect(context.Background(), &Device{ID: "aa", Name: "DRV-One"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	link := radio.lastLink()
	link.drop()

	waitFor(t, "simulator", func() bool { return m.State().Mode == ModeSimulated })

	state := m.State()
	if !state.Connected() || !errors.Is(state.FallbackReason, ErrLinkLost) {
		t.Errorf("expected connected simulator after link loss, got %s (%v)", state, state.FallbackReason)
	}
	receive(t, sub.C)

	if n := link.disconnected.Load(); n != 1 {
		t.Errorf("expected lost link released once, got %d", n)
	}
}

func TestLinkLost_RealSourceDisconnects(t *testing.T) {
	radio := &fakeRadio{adverts: advertising()}
	m := newTestManager(radio, nil, WithSource(SourceReal))
	defer m.Close()

	if _, err := m.Connect(context.Background(), &Device{ID: "aa", Name: "DRV-One"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	radio.lastLink().drop()

	waitFor(t, "disconnect", func() bool { return m.State().Phase == PhaseDisconnected })
}

func TestTryAutoConnect(t *testing.T) {
	memory := &fakeMemory{device: &RememberedDevice{ID: "aa", Name: "DRV-One"}}
	m := newTestManager(&fakeRadio{adverts: advertising()}, memory)
	defer m.Close()

	if !m.TryAutoConnect(context.Background()) {
		t.Fatalf("expected auto-connect to succeed")
	}
	if state := m.State(); state.Mode != ModeReal || state.Device.ID != "aa" {
		t.Errorf("expected real connection to aa, got %s", state)
	}
}

func TestTryAutoConnect_Fails(t *testing.T) {
	tests := []struct {
		name   string
		radio  Radio
		memory Memory
	}{
		{"no memory", &fakeRadio{adverts: advertising()}, nil},
		{"nothing remembered", &fakeRadio{adverts: advertising()}, &fakeMemory{}},
		{"not advertising", &fakeRadio{adverts: advertising()}, &fakeMemory{device: &RememberedDevice{ID: "zz"}}},
		{"radio off", &fakeRadio{enableErr: ErrRadioUnavailable}, &fakeMemory{device: &RememberedDevice{ID: "aa"}}},
		{"unreachable", &fakeRadio{adverts: advertising(), connectErr: ErrDeviceUnreachable}, &fakeMemory{device: &RememberedDevice{ID: "aa"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(tt.radio, tt.memory)
			defer m.Close()

			if m.TryAutoConnect(context.Background()) {
				t.Fatalf("expected auto-connect to fail")
			}
			if m.State().Phase != PhaseDisconnected {
				t.Errorf("expected disconnected without fallback, got %s", m.State())
			}
		})
	}
}

func TestForget(t *testing.T) {
	memory := &fakeMemory{device: &RememberedDevice{ID: "aa"}}
	m := newTestManager(nil, memory)
	defer m.Close()

	if err := m.Forget(context.Background()); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if d, _ := memory.Remembered(context.Background()); d != nil {
		t.Errorf("expected remembered device to be cleared")
	}
}

func TestSubscriptionSurvivesReconnect(t *testing.T) {
	m := newTestManager(nil, nil)
	defer m.Close()

	sub := m.Subscribe(64)
	defer sub.Close()

	for i := 0; i < 2; i++ {
		if _, err := m.Connect(context.Background(), nil); err != nil {
			t.Fatalf("connect: %v", err)
		}
		receive(t, sub.C)
		m.Disconnect()
	}

	m.Close()
	for range sub.C {
	}
}
