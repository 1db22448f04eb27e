package telemetry

import "math"

// Sample is a single normalized telemetry reading from the device or the
// simulator. Every numeric field is finite and Speed and GForce are never
// negative. Altitude may be below sea level.
type Sample struct {
	Timestamp   int64    `json:"timestamp"`          // Capture time in monotonic milliseconds
	Speed       float64  `json:"speed"`              // Speed in km/h
	GForce      float64  `json:"gForce"`             // Total g-force magnitude
	GForceX     *float64 `json:"gForceX,omitempty"`  // Longitudinal g-force, real device only
	GForceY     *float64 `json:"gForceY,omitempty"`  // Lateral g-force, real device only
	GForceZ     *float64 `json:"gForceZ,omitempty"`  // Vertical g-force, real device only
	Temperature float64  `json:"temperature"`        // Temperature in °C
	Altitude    float64  `json:"altitude"`           // Altitude in meters
	Humidity    *float64 `json:"humidity,omitempty"` // Relative humidity in %
}

// Reading carries raw channel values before normalization
type Reading struct {
	Timestamp   int64
	Speed       float64
	GForce      float64
	GForceX     *float64
	GForceY     *float64
	GForceZ     *float64
	Temperature float64
	Altitude    float64
	Humidity    *float64
}

// Normalizer turns readings into samples. Magnitudes that are not finite or
// negative become 0, continuous quantities that are not finite keep the last
// known good value. A Normalizer is not safe for concurrent use.
type Normalizer struct {
	temperature float64
	altitude    float64
	humidity    *float64
}

// Sample normalizes r and remembers its continuous values
func (n *Normalizer) Sample(r Reading) Sample {
	s := Sample{
		Timestamp: r.Timestamp,
		Speed:     magnitude(r.Speed),
		GForce:    magnitude(r.GForce),
		GForceX:   axis(r.GForceX),
		GForceY:   axis(r.GForceY),
		GForceZ:   axis(r.GForceZ),
	}

	if IsFinite(r.Temperature) {
		n.temperature = r.Temperature
	}
	s.Temperature = n.temperature

	if IsFinite(r.Altitude) {
		n.altitude = r.Altitude
	}
	s.Altitude = n.altitude

	if r.Humidity != nil && IsFinite(*r.Humidity) {
		h := *r.Humidity
		n.humidity = &h
	}
	if r.Humidity != nil && n.humidity != nil {
		h := *n.humidity
		s.Humidity = &h
	}

	return s
}

// IsFinite reports whether v is neither NaN nor an infinity
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func magnitude(v float64) float64 {
	if !IsFinite(v) || v < 0 {
		return 0
	}
	return v
}

func axis(v *float64) *float64 {
	if v == nil {
		return nil
	}
	a := *v
	if !IsFinite(a) {
		a = 0
	}
	return &a
}
