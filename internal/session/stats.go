package session

import (
	"math"

	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

// ComputeStats derives session statistics from telemetry in stored order.
// An empty sequence yields zero Stats. Min, max and averages do not depend on
// order; Duration is taken from the first and last sample.
func ComputeStats(samples []telemetry.Sample) Stats {
	if len(samples) == 0 {
		return Stats{}
	}

	st := Stats{
		MinTemperature: math.Inf(1),
		MaxTemperature: math.Inf(-1),
		MinAltitude:    math.Inf(1),
		MaxAltitude:    math.Inf(-1),
		SampleCount:    len(samples),
	}

	var speedSum, gSum float64
	for _, s := range samples {
		speedSum += s.Speed
		gSum += s.GForce

		st.PeakSpeed = max(st.PeakSpeed, s.Speed)
		st.PeakGForce = max(st.PeakGForce, s.GForce)
		st.MinTemperature = min(st.MinTemperature, s.Temperature)
		st.MaxTemperature = max(st.MaxTemperature, s.Temperature)
		st.MinAltitude = min(st.MinAltitude, s.Altitude)
		st.MaxAltitude = max(st.MaxAltitude, s.Altitude)
	}

	n := float64(len(samples))
	st.AvgSpeed = speedSum / n
	st.AvgGForce = gSum / n
	st.AltitudeChange = st.MaxAltitude - st.MinAltitude

	if d := samples[len(samples)-1].Timestamp - samples[0].Timestamp; d > 0 {
		st.Duration = float64(d) / 1000
	}

	return sanitize(st)
}

// sanitize zeroes non-finite statistics, which only arise from samples that
// were not built by a telemetry.Normalizer.
func sanitize(st Stats) Stats {
	for _, f := range []*float64{
		&st.PeakSpeed, &st.AvgSpeed, &st.PeakGForce, &st.AvgGForce,
		&st.MinTemperature, &st.MaxTemperature, &st.MinAltitude, &st.MaxAltitude,
		&st.AltitudeChange, &st.Duration,
	} {
		if !telemetry.IsFinite(*f) {
			*f = 0
		}
	}
	return st
}
