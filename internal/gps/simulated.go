package gps

import (
	"context"
	"math"
	"time"
)

// WithInterval sets how often the simulated provider reports a fix
func WithInterval(d time.Duration) func(p *SimulatedProvider) {
	return func(p *SimulatedProvider) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRadius sets the radius of the simulated circuit in meters
func WithRadius(meters float64) func(p *SimulatedProvider) {
	return func(p *SimulatedProvider) {
		if meters > 0 {
			p.radius = meters
		}
	}
}

// SimulatedProvider drives a circular lap around an origin at constant speed
type SimulatedProvider struct {
	originLat float64
	originLon float64
	altitude  float64
	radius    float64 // meters
	speed     float64 // m/s
	interval  time.Duration
}

// NewSimulatedProvider creates a provider circling the given origin
func NewSimulatedProvider(originLat, originLon float64, options ...func(p *SimulatedProvider)) *SimulatedProvider {
	p := SimulatedProvider{
		originLat: originLat,
		originLon: originLon,
		altitude:  120,
		radius:    400,
		speed:     25,
		interval:  time.Second,
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

func (p *SimulatedProvider) Open(ctx context.Context) error {
	return ctx.Err()
}

func (p *SimulatedProvider) Watch(ctx context.Context, found func(Fix)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// angular step per tick along the circuit
	step := p.speed * p.interval.Seconds() / p.radius
	accuracy := 3.0

	var angle float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			angle = math.Mod(angle+step, 2*math.Pi)

			north := p.radius * math.Cos(angle)
			east := p.radius * math.Sin(angle)
			alt := p.altitude + 2*math.Sin(angle)
			speed := p.speed

			found(Fix{
				Latitude:  p.originLat + north/earthRadiusM*180/math.Pi,
				Longitude: p.originLon + east/(earthRadiusM*math.Cos(toRadians(p.originLat)))*180/math.Pi,
				Altitude:  &alt,
				Accuracy:  &accuracy,
				Speed:     &speed,
				Time:      now,
			})
		}
	}
}

func (p *SimulatedProvider) Close() error {
	return nil
}
