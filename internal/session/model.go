package session

import (
	"time"

	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

// Session is one recording window: telemetry and GPS captured between
// start and stop, with statistics computed when it was saved.
type Session struct {
	Key       Key                `json:"key"`             // Externally visible identifier
	StartTime time.Time          `json:"startTime"`       // Wall-clock time recording started
	Duration  float64            `json:"duration"`        // Duration in seconds
	Samples   []telemetry.Sample `json:"samples"`         // Telemetry in capture order
	Track     []gps.Point        `json:"track,omitempty"` // GPS path in capture order, may be empty
	Stats     Stats              `json:"stats"`           // Derived from Samples
}

// Stats summarizes the telemetry of a session
type Stats struct {
	PeakSpeed      float64 `json:"peakSpeed"`      // km/h
	AvgSpeed       float64 `json:"avgSpeed"`       // km/h
	PeakGForce     float64 `json:"peakGForce"`     // g
	AvgGForce      float64 `json:"avgGForce"`      // g
	MinTemperature float64 `json:"minTemperature"` // °C
	MaxTemperature float64 `json:"maxTemperature"` // °C
	MinAltitude    float64 `json:"minAltitude"`    // m
	MaxAltitude    float64 `json:"maxAltitude"`    // m
	AltitudeChange float64 `json:"altitudeChange"` // m, MaxAltitude - MinAltitude
	SampleCount    int     `json:"sampleCount"`
	Duration       float64 `json:"duration"` // seconds between first and last sample
}
