package device

import (
	"fmt"
	"time"
)

// SyntheticDeviceID identifies the simulator in a ConnectionState
const SyntheticDeviceID = "simulator"

// Device is a telemetry unit found during a scan
type Device struct {
	ID   string
	Name string
	RSSI *int16 // dBm, nil when the radio did not report it
}

// RememberedDevice is the last device connected successfully
type RememberedDevice struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Phase is the coarse connection state
type Phase uint8

const (
	PhaseDisconnected Phase = iota
	PhaseScanning
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseScanning:
		return "scanning"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Mode tells where samples of a connected state come from
type Mode uint8

const (
	ModeReal Mode = iota
	ModeSimulated
)

func (m Mode) String() string {
	if m == ModeSimulated {
		return "simulated"
	}
	return "real"
}

// ConnectionState is a snapshot of the manager state. Device and Mode are
// only meaningful while connecting or connected; FallbackReason is set when
// the simulator replaced a real device.
type ConnectionState struct {
	Phase          Phase
	Device         *Device
	Mode           Mode
	FallbackReason error
}

// Connected reports whether telemetry is being produced
func (s ConnectionState) Connected() bool {
	return s.Phase == PhaseConnected
}

func (s ConnectionState) String() string {
	switch s.Phase {
	case PhaseConnected:
		name := ""
		if s.Device != nil {
			name = s.Device.Name
		}
		return fmt.Sprintf("connected(%s, %s)", name, s.Mode)
	case PhaseConnecting:
		if s.Device != nil {
			return fmt.Sprintf("connecting(%s)", s.Device.Name)
		}
	}
	return s.Phase.String()
}

// Source selects where the manager takes telemetry from
type Source string

const (
	SourceAuto      Source = "auto"      // real device with simulator fallback
	SourceReal      Source = "real"      // real device only
	SourceSimulated Source = "simulated" // never touch the radio
)

// ParseSource validates a configured source name. An empty name means auto.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case "", SourceAuto:
		return SourceAuto, nil
	case SourceReal, SourceSimulated:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown telemetry source %q", s)
	}
}

var allowedTransitions = map[Phase][]Phase{
	PhaseDisconnected: {PhaseScanning, PhaseConnecting, PhaseConnected},
	PhaseScanning:     {PhaseDisconnected, PhaseConnecting, PhaseConnected},
	PhaseConnecting:   {PhaseDisconnected, PhaseConnected},
	PhaseConnected:    {PhaseDisconnected, PhaseConnected},
}

func canTransition(from, to Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func cloneDevice(d *Device) *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.RSSI != nil {
		rssi := *d.RSSI
		c.RSSI = &rssi
	}
	return &c
}

// signal orders devices by signal strength, unknown strength last
func signal(d Device) int {
	if d.RSSI == nil {
		return -1 << 16
	}
	return int(*d.RSSI)
}
