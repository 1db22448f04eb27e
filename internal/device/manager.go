package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roman-kulish/drive-telemetry/internal/stream"
	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

const (
	DefaultNamePrefix         = "DRV-"
	DefaultScanTimeout        = 5 * time.Second
	DefaultAutoConnectTimeout = 3 * time.Second
	DefaultSampleInterval     = telemetry.DefaultTickInterval

	MinSampleInterval = 50 * time.Millisecond
	MaxSampleInterval = 100 * time.Millisecond

	// frames waiting to be decoded before notifications are dropped
	frameBuffer = 32
)

// WithLogger sets the logger for the manager
func WithLogger(logger *slog.Logger) func(m *Manager) {
	return func(m *Manager) {
		m.logger = logger.With(slog.String("component", "device"))
	}
}

// WithSource selects real, simulated or automatic telemetry
func WithSource(source Source) func(m *Manager) {
	return func(m *Manager) {
		m.source = source
	}
}

// WithNamePrefix sets the advertised name prefix of matching devices
func WithNamePrefix(prefix string) func(m *Manager) {
	return func(m *Manager) {
		m.namePrefix = prefix
	}
}

// WithScanTimeout sets the scan duration used by Connect
func WithScanTimeout(d time.Duration) func(m *Manager) {
	return func(m *Manager) {
		m.scanTimeout = d
	}
}

// WithAutoConnectTimeout bounds the scan performed by TryAutoConnect
func WithAutoConnectTimeout(d time.Duration) func(m *Manager) {
	return func(m *Manager) {
		m.autoConnectTimeout = d
	}
}

// WithSampleInterval sets the simulator cadence. Values outside
// [MinSampleInterval, MaxSampleInterval] are clamped.
func WithSampleInterval(d time.Duration) func(m *Manager) {
	return func(m *Manager) {
		m.sampleInterval = min(max(d, MinSampleInterval), MaxSampleInterval)
	}
}

// WithFallback enables or disables switching to the simulator when no
// real device can be used. It only applies to SourceAuto.
func WithFallback(enabled bool) func(m *Manager) {
	return func(m *Manager) {
		m.fallback = enabled
	}
}

// WithSimulator replaces the simulator used for synthetic telemetry
func WithSimulator(sim *telemetry.Simulator) func(m *Manager) {
	return func(m *Manager) {
		m.sim = sim
	}
}

// producer is a running goroutine publishing samples to the hub
type producer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *producer) stop() {
	p.cancel()
	<-p.done
}

// Manager owns the connection to a telemetry unit and the telemetry stream.
// Once connected, real or simulated, samples are published on a single hub
// that outlives individual connections.
type Manager struct {
	radio  Radio
	memory Memory

	source             Source
	namePrefix         string
	scanTimeout        time.Duration
	autoConnectTimeout time.Duration
	sampleInterval     time.Duration
	fallback           bool

	hub     *stream.Hub[telemetry.Sample]
	sim     *telemetry.Simulator
	decoder *telemetry.Decoder
	epoch   time.Time
	scans   singleflight.Group

	connMu sync.Mutex // serializes Connect and TryAutoConnect

	mu            sync.Mutex
	state         ConnectionState
	link          Link
	producer      *producer
	connecting    bool
	cancelScan    context.CancelFunc
	cancelConnect context.CancelFunc

	logger *slog.Logger
}

// NewManager creates a disconnected manager. radio and memory may be nil: a
// nil radio behaves as an absent adapter, a nil memory disables
// auto-connect.
func NewManager(radio Radio, memory Memory, options ...func(m *Manager)) *Manager {
	m := Manager{
		radio:              radio,
		memory:             memory,
		source:             SourceAuto,
		namePrefix:         DefaultNamePrefix,
		scanTimeout:        DefaultScanTimeout,
		autoConnectTimeout: DefaultAutoConnectTimeout,
		sampleInterval:     DefaultSampleInterval,
		fallback:           true,
		hub:                stream.NewHub[telemetry.Sample](),
		epoch:              time.Now(),
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&m)
	}

	if m.sim == nil {
		m.sim = telemetry.NewSimulator(telemetry.WithTickInterval(m.sampleInterval))
	}
	m.decoder = telemetry.NewDecoder(m.sim, telemetry.WithDecoderLogger(m.logger))

	return &m
}

// SyntheticDevice is the device reported while the simulator is active
func (m *Manager) SyntheticDevice() Device {
	return Device{ID: SyntheticDeviceID, Name: m.namePrefix + "Simulator"}
}

// State returns the current connection state
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	s.Device = cloneDevice(s.Device)
	return s
}

// Subscribe registers a consumer of the telemetry stream. Subscriptions
// survive disconnects and reconnects.
func (m *Manager) Subscribe(buffer int) *stream.Subscription[telemetry.Sample] {
	return m.hub.Subscribe(buffer)
}

// Scan discovers matching devices for up to timeout, strongest signal first.
// Finding nothing is not an error. A scan already in flight is joined
// rather than started again.
func (m *Manager) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	if m.source == SourceSimulated || m.radio == nil {
		return nil, ErrRadioUnavailable
	}
	if timeout <= 0 {
		timeout = m.scanTimeout
	}

	ch := m.scans.DoChan("scan", func() (any, error) {
		return m.scan(timeout)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		found := res.Val.([]Device)
		devices := make([]Device, len(found))
		for i := range found {
			devices[i] = *cloneDevice(&found[i])
		}
		return devices, nil
	}
}

func (m *Manager) scan(timeout time.Duration) ([]Device, error) {
	if err := m.radio.Enable(); err != nil {
		return nil, fmt.Errorf("enabling radio: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m.mu.Lock()
	m.cancelScan = cancel
	if m.state.Phase == PhaseDisconnected {
		m.transition(ConnectionState{Phase: PhaseScanning})
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cancelScan = nil
		if m.state.Phase == PhaseScanning && !m.connecting {
			m.transition(ConnectionState{Phase: PhaseDisconnected})
		}
		m.mu.Unlock()
	}()

	var (
		mu    sync.Mutex
		found = map[string]Device{}
	)

	m.logger.Debug("scan started", slog.Duration("timeout", timeout))

	err := m.radio.Scan(ctx, func(d Device) {
		if !strings.HasPrefix(d.Name, m.namePrefix) {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		if prev, ok := found[d.ID]; !ok || signal(d) > signal(prev) {
			found[d.ID] = *cloneDevice(&d)
		}
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scanning: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	devices := make([]Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if si, sj := signal(devices[i]), signal(devices[j]); si != sj {
			return si > sj
		}
		return devices[i].ID < devices[j].ID
	})

	m.logger.Debug("scan finished", slog.Int("devices", len(devices)))
	return devices, nil
}

// Connect connects to d, or to the strongest device found by a scan when d
// is nil. Any prior connection is dropped first. When the radio, the
// permission or a device is missing and fallback is enabled, the simulator
// is connected instead and the cause is reported in FallbackReason.
func (m *Manager) Connect(ctx context.Context, d *Device) (ConnectionState, error) {
	return m.connect(ctx, d, m.source == SourceAuto && m.fallback)
}

// TryAutoConnect connects to the remembered device if it can be found within
// the auto-connect timeout. Failures are logged and reported as false.
func (m *Manager) TryAutoConnect(ctx context.Context) bool {
	if m.memory == nil || m.radio == nil || m.source == SourceSimulated {
		return false
	}

	remembered, err := m.memory.Remembered(ctx)
	if err != nil {
		m.logger.Warn("reading remembered device", slog.String("error", err.Error()))
		return false
	}
	if remembered == nil {
		return false
	}

	logger := m.logger.With(slog.String("deviceID", remembered.ID))

	devices, err := m.Scan(ctx, m.autoConnectTimeout)
	if err != nil {
		logger.Info("auto-connect scan failed", slog.String("error", err.Error()))
		return false
	}

	for _, d := range devices {
		if d.ID != remembered.ID {
			continue
		}
		if _, err = m.connect(ctx, &d, false); err != nil {
			logger.Info("auto-connect failed", slog.String("error", err.Error()))
			return false
		}
		return true
	}

	logger.Info("remembered device not found")
	return false
}

func (m *Manager) connect(ctx context.Context, d *Device, fallback bool) (ConnectionState, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.connecting = true
	m.cancelConnect = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.cancelConnect = nil
		if m.state.Phase == PhaseScanning {
			m.transition(ConnectionState{Phase: PhaseDisconnected})
		}
		m.mu.Unlock()
	}()

	if m.source == SourceSimulated {
		m.startSimulated(nil)
		return m.State(), nil
	}

	err := m.connectReal(ctx, d)
	if err == nil {
		return m.State(), nil
	}

	if fallback && ctx.Err() == nil && isCapabilityError(err) {
		m.logger.Warn("no usable device, falling back to simulator", slog.String("reason", err.Error()))
		m.startSimulated(err)
		return m.State(), nil
	}

	m.mu.Lock()
	if m.state.Phase != PhaseDisconnected {
		m.transition(ConnectionState{Phase: PhaseDisconnected})
	}
	m.mu.Unlock()

	return m.State(), err
}

func isCapabilityError(err error) bool {
	return errors.Is(err, ErrRadioUnavailable) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNoDevices)
}

func (m *Manager) connectReal(ctx context.Context, d *Device) error {
	if m.radio == nil {
		return ErrRadioUnavailable
	}

	if d == nil {
		devices, err := m.Scan(ctx, m.scanTimeout)
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if len(devices) == 0 {
			return fmt.Errorf("%w: %w", ErrDeviceUnreachable, ErrNoDevices)
		}
		d = &devices[0]
	} else if err := m.radio.Enable(); err != nil {
		return fmt.Errorf("enabling radio: %w", err)
	}

	logger := m.logger.With(slog.String("deviceID", d.ID), slog.String("name", d.Name))

	m.mu.Lock()
	ok := m.transition(ConnectionState{Phase: PhaseConnecting, Device: cloneDevice(d), Mode: ModeReal})
	m.mu.Unlock()
	if !ok {
		return context.Canceled // disconnected meanwhile
	}

	logger.Info("connecting...")

	link, err := m.radio.Connect(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", d.ID, err)
	}

	if err = m.startReal(link, *d); err != nil {
		if derr := link.Disconnect(); derr != nil {
			logger.Warn("closing link", slog.String("error", derr.Error()))
		}
		return err
	}

	logger.Info("connected")

	if m.memory != nil {
		remembered := RememberedDevice{ID: d.ID, Name: d.Name, ConnectedAt: time.Now().UTC()}
		if err = m.memory.Remember(ctx, remembered); err != nil {
			logger.Warn("remembering device", slog.String("error", err.Error()))
		}
	}

	return nil
}

// startReal decodes notifications from link on a single producer goroutine
func (m *Manager) startReal(link Link, d Device) error {
	frames := make(chan []byte, frameBuffer)

	err := link.Subscribe(func(p []byte) {
		select {
		case frames <- bytes.Clone(p):
		default:
			m.logger.Debug("telemetry frame dropped")
		}
	})
	if err != nil {
		return fmt.Errorf("%w: subscribing to telemetry: %w", ErrDeviceUnreachable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &producer{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase != PhaseConnecting ||
		!m.transition(ConnectionState{Phase: PhaseConnected, Device: cloneDevice(&d), Mode: ModeReal}) {
		cancel()
		return context.Canceled // disconnected while connecting
	}
	m.link = link
	m.producer = p

	go func() {
		defer close(p.done)

		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-frames:
				m.hub.Publish(m.decoder.Decode(frame, m.now()))
			case <-link.Done():
				m.linkLost(p, link)
				return
			}
		}
	}()

	return nil
}

// linkLost replaces a dropped real connection with the simulator, or
// disconnects when fallback is not allowed
func (m *Manager) linkLost(p *producer, link Link) {
	defer func() {
		if err := link.Disconnect(); err != nil {
			m.logger.Debug("closing lost link", slog.String("error", err.Error()))
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.producer != p {
		return // Disconnect got here first
	}

	m.link = nil
	m.producer = nil

	if m.source != SourceAuto || !m.fallback {
		m.logger.Warn("device link lost")
		m.transition(ConnectionState{Phase: PhaseDisconnected})
		return
	}

	m.logger.Warn("device link lost, switching to simulator")

	synthetic := m.SyntheticDevice()
	m.producer = m.simulate()
	m.transition(ConnectionState{
		Phase:          PhaseConnected,
		Device:         &synthetic,
		Mode:           ModeSimulated,
		FallbackReason: ErrLinkLost,
	})
}

func (m *Manager) startSimulated(reason error) {
	synthetic := m.SyntheticDevice()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.producer = m.simulate()
	m.transition(ConnectionState{
		Phase:          PhaseConnected,
		Device:         &synthetic,
		Mode:           ModeSimulated,
		FallbackReason: reason,
	})

	m.logger.Info("simulator connected", slog.Duration("interval", m.sampleInterval))
}

func (m *Manager) simulate() *producer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &producer{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(m.sampleInterval)
		defer ticker.Stop()

		phase := m.sim.Phase()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.hub.Publish(m.sim.Next(m.now()))

				if next := m.sim.Phase(); next != phase {
					m.logger.Debug("simulated driving phase", slog.String("from", phase.String()), slog.String("to", next.String()))
					phase = next
				}
			}
		}
	}()

	return p
}

// Disconnect stops the telemetry producer, closes the link and cancels any
// scan or connection attempt. It is a no-op when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancelScan, cancelConnect := m.cancelScan, m.cancelConnect
	if m.state.Phase != PhaseDisconnected {
		m.transition(ConnectionState{Phase: PhaseDisconnected})
	}
	m.mu.Unlock()

	if cancelScan != nil {
		cancelScan()
	}
	if cancelConnect != nil {
		cancelConnect()
	}

	m.release()
}

// release stops the producer and closes the link of the current connection.
// Scans in flight are left running.
func (m *Manager) release() {
	m.mu.Lock()
	p, link := m.producer, m.link
	m.producer, m.link = nil, nil

	if m.state.Phase == PhaseConnected {
		m.transition(ConnectionState{Phase: PhaseDisconnected})
	}
	m.mu.Unlock()

	if p != nil {
		p.stop()
	}
	if link != nil {
		if err := link.Disconnect(); err != nil {
			m.logger.Warn("disconnecting device", slog.String("error", err.Error()))
		}
	}
}

// SendCommand writes a command to the connected device. The simulator
// accepts every command without effect.
func (m *Manager) SendCommand(ctx context.Context, command string) error {
	m.mu.Lock()
	state, link := m.state, m.link
	m.mu.Unlock()

	if state.Phase != PhaseConnected {
		return ErrNotConnected
	}
	if state.Mode == ModeSimulated {
		m.logger.Debug("command acknowledged by simulator", slog.String("command", command))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if link == nil {
		return ErrNotConnected
	}

	if err := link.Write([]byte(command)); err != nil {
		return fmt.Errorf("sending command %q: %w", command, err)
	}
	return nil
}

// Forget clears the remembered device
func (m *Manager) Forget(ctx context.Context) error {
	if m.memory == nil {
		return nil
	}
	if err := m.memory.ForgetDevice(ctx); err != nil {
		return fmt.Errorf("forgetting device: %w", err)
	}
	return nil
}

// Close disconnects and closes every telemetry subscription
func (m *Manager) Close() {
	m.Disconnect()
	m.hub.Close()
}

// transition moves to next if the state machine allows it. Callers hold mu.
func (m *Manager) transition(next ConnectionState) bool {
	from := m.state.Phase
	if !canTransition(from, next.Phase) {
		m.logger.Warn("rejected state transition",
			slog.String("from", from.String()),
			slog.String("to", next.Phase.String()),
		)
		return false
	}

	m.state = next
	m.logger.Debug("state changed", slog.String("from", from.String()), slog.String("to", next.String()))
	return true
}

// now returns monotonic milliseconds since the manager was created
func (m *Manager) now() int64 {
	return time.Since(m.epoch).Milliseconds()
}
