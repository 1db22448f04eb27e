package gps

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPoint is returned by NewPoint for fixes without a usable position
var ErrInvalidPoint = errors.New("invalid gps fix")

// Fix is a raw position report from a location provider
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Accuracy  *float64
	Speed     *float64
	Time      time.Time
}

// Point is a validated track point
type Point struct {
	Latitude  float64  `json:"latitude"`           // Latitude in degrees
	Longitude float64  `json:"longitude"`          // Longitude in degrees
	Altitude  *float64 `json:"altitude,omitempty"` // Altitude above mean sea level in meters
	Accuracy  *float64 `json:"accuracy,omitempty"` // Horizontal accuracy in meters
	Speed     *float64 `json:"speed,omitempty"`    // Ground speed in m/s
	Timestamp int64    `json:"timestamp"`          // Device clock, Unix milliseconds
}

// NewPoint validates a fix. Non-finite or out of range coordinates are
// rejected, non-finite optional values are dropped.
func NewPoint(f Fix) (Point, error) {
	if !finite(f.Latitude) || !finite(f.Longitude) {
		return Point{}, fmt.Errorf("%w: non-finite coordinates", ErrInvalidPoint)
	}
	if math.Abs(f.Latitude) > 90 || math.Abs(f.Longitude) > 180 {
		return Point{}, fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrInvalidPoint, f.Latitude, f.Longitude)
	}

	p := Point{
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Altitude:  optional(f.Altitude),
		Accuracy:  optional(f.Accuracy),
		Speed:     optional(f.Speed),
		Timestamp: f.Time.UnixMilli(),
	}
	if p.Accuracy != nil && *p.Accuracy < 0 {
		p.Accuracy = nil
	}
	if p.Speed != nil && *p.Speed < 0 {
		p.Speed = nil
	}

	return p, nil
}

func optional(v *float64) *float64 {
	if v == nil || !finite(*v) {
		return nil
	}
	c := *v
	return &c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
