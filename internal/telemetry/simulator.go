package telemetry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// DefaultTickInterval is the nominal simulator cadence (10 Hz)
	DefaultTickInterval = 100 * time.Millisecond

	MaxSpeed  = 200.0
	MaxGForce = 3.0

	MaxAltitude = 2000.0

	standardGravity = 9.80665
	targetTolerance = 5.0
)

// Per-tick speed change in km/h
const (
	accelerateRate = 2.5
	decelerateRate = 2.0
	cruiseRate     = 0.5
	idleRate       = 0.3
)

const (
	idleDuration       = 2 * time.Second
	accelerateDuration = 4 * time.Second
	cruiseDuration     = 3 * time.Second
	decelerateDuration = 3 * time.Second
)

const (
	PhaseIdle Phase = iota
	PhaseAccelerate
	PhaseCruise
	PhaseDecelerate
)

// Phase is a simulated driving phase
type Phase int

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccelerate:
		return "accelerate"
	case PhaseCruise:
		return "cruise"
	case PhaseDecelerate:
		return "decelerate"
	default:
		return "unknown"
	}
}

// WithRand sets the random source, mostly useful for reproducible tests
func WithRand(r *rand.Rand) func(s *Simulator) {
	return func(s *Simulator) {
		s.rnd = r
	}
}

// WithTickInterval sets the tick duration assumed when consecutive
// timestamps do not advance
func WithTickInterval(d time.Duration) func(s *Simulator) {
	return func(s *Simulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Simulator produces plausible driving telemetry when no device is present.
// It cycles idle → accelerate → cruise → decelerate → idle, each phase with
// its own target speed and duration. Simulator is safe for concurrent use.
type Simulator struct {
	mu sync.Mutex

	rnd      *rand.Rand
	interval time.Duration

	phase   Phase
	elapsed time.Duration
	target  float64

	speed       float64
	temperature float64
	altitude    float64
	humidity    float64

	lastTimestamp int64
	started       bool

	norm Normalizer
}

// NewSimulator creates a simulator at rest
func NewSimulator(options ...func(s *Simulator)) *Simulator {
	s := Simulator{
		interval:    DefaultTickInterval,
		phase:       PhaseIdle,
		temperature: 24,
		altitude:    120,
		humidity:    45,
	}

	for _, option := range options {
		option(&s)
	}

	if s.rnd == nil {
		s.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}

	return &s
}

// Phase returns the current driving phase
func (s *Simulator) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Next advances the simulation to timestamp and returns a sample
func (s *Simulator) Next(timestamp int64) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := s.interval
	if s.started && timestamp > s.lastTimestamp {
		dt = time.Duration(timestamp-s.lastTimestamp) * time.Millisecond
	}
	s.started = true
	s.lastTimestamp = timestamp

	g := s.step(dt)

	humidity := clamp(s.humidity+s.noise(0.1), 0, 100)

	return s.norm.Sample(Reading{
		Timestamp:   timestamp,
		Speed:       clamp(s.speed+s.noise(0.25), 0, MaxSpeed),
		GForce:      clamp(g+s.noise(0.01), 0, MaxGForce),
		Temperature: max(s.temperature+s.noise(0.05), 0),
		Altitude:    clamp(s.altitude+s.noise(0.05), 0, MaxAltitude),
		Humidity:    &humidity,
	})
}

// step advances the phase state machine by one tick of length dt and returns
// the g-force before output noise.
func (s *Simulator) step(dt time.Duration) float64 {
	prev := s.speed
	s.speed = clamp(approach(s.speed, s.target, s.rate()), 0, MaxSpeed)
	s.elapsed += dt

	switch s.phase {
	case PhaseIdle:
		if s.elapsed >= idleDuration {
			s.enter(PhaseAccelerate, s.uniform(80, 200))
		}
	case PhaseAccelerate:
		if s.elapsed >= accelerateDuration || math.Abs(s.speed-s.target) <= targetTolerance {
			s.enter(PhaseCruise, s.target)
		}
	case PhaseCruise:
		if s.elapsed >= cruiseDuration {
			s.enter(PhaseDecelerate, s.uniform(20, 60))
		}
	case PhaseDecelerate:
		if s.elapsed >= decelerateDuration || math.Abs(s.speed-s.target) <= targetTolerance {
			s.enter(PhaseIdle, 0)
		}
	}

	var g float64
	if seconds := dt.Seconds(); seconds > 0 {
		g = math.Abs((s.speed-prev)/3.6/seconds) / standardGravity
	}
	if s.phase == PhaseCruise && s.speed > 60 {
		g += 0.1 + 0.3*s.rnd.Float64()
	}
	g += s.noise(0.02)

	tempTarget := 24.0
	if s.speed > 100 {
		tempTarget = 38
	}
	s.temperature += (tempTarget - s.temperature) * 0.02

	s.altitude = clamp(s.altitude+s.noise(0.3), 0, MaxAltitude)
	s.humidity = clamp(s.humidity+s.noise(0.05), 20, 80)

	return clamp(g, 0, MaxGForce)
}

func (s *Simulator) enter(p Phase, target float64) {
	s.phase = p
	s.target = target
	s.elapsed = 0
}

func (s *Simulator) rate() float64 {
	switch s.phase {
	case PhaseAccelerate:
		return accelerateRate
	case PhaseDecelerate:
		return decelerateRate
	case PhaseCruise:
		return cruiseRate
	default:
		return idleRate
	}
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rnd.Float64()
}

// noise returns a value uniformly distributed in [-amplitude, amplitude]
func (s *Simulator) noise(amplitude float64) float64 {
	return (s.rnd.Float64()*2 - 1) * amplitude
}

func approach(current, target, rate float64) float64 {
	switch {
	case current < target:
		return min(current+rate, target)
	case current > target:
		return max(current-rate, target)
	default:
		return current
	}
}

func clamp(v, lo, hi float64) float64 {
	if !IsFinite(v) {
		return lo
	}
	return min(max(v, lo), hi)
}
