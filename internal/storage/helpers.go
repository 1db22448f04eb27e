package storage

import (
	"database/sql"
	"errors"
	"math"

	"github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError rolls back an unfinished transaction. Rolling back a
// committed transaction is not an error.
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// classify maps SQLite failures callers can act on to package errors
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return errors.Join(ErrStorageFull, err)
	}
	return err
}

// sanitizeSamples re-normalizes samples so that nothing non-finite is
// persisted, whatever produced them
func sanitizeSamples(samples []telemetry.Sample) []telemetry.Sample {
	var norm telemetry.Normalizer

	out := make([]telemetry.Sample, len(samples))
	for i, s := range samples {
		out[i] = norm.Sample(telemetry.Reading{
			Timestamp:   s.Timestamp,
			Speed:       s.Speed,
			GForce:      s.GForce,
			GForceX:     s.GForceX,
			GForceY:     s.GForceY,
			GForceZ:     s.GForceZ,
			Temperature: s.Temperature,
			Altitude:    s.Altitude,
			Humidity:    s.Humidity,
		})
	}
	return out
}

// sanitizePoints drops points without a usable position and clears invalid
// optional fields
func sanitizePoints(points []gps.Point) []gps.Point {
	out := make([]gps.Point, 0, len(points))
	for _, p := range points {
		if !telemetry.IsFinite(p.Latitude) || !telemetry.IsFinite(p.Longitude) {
			continue
		}
		p.Altitude = finiteOrNil(p.Altitude)
		p.Accuracy = finiteOrNil(p.Accuracy)
		p.Speed = finiteOrNil(p.Speed)
		out = append(out, p)
	}
	return out
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || !telemetry.IsFinite(*v) {
		return nil
	}
	return v
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
