// Package export writes stored sessions in formats other tools understand.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/session"
)

// degrees to FIT semicircles
const degreesToSemicircles = 2147483648.0 / 180.0

// ErrEmptySession is returned for sessions without telemetry
var ErrEmptySession = errors.New("session has no samples")

// FIT writes s as a FIT activity. Every telemetry sample becomes a record,
// positioned at the last GPS point taken at or before it.
func FIT(w io.Writer, s *session.Session) error {
	if s == nil || len(s.Samples) == 0 {
		return ErrEmptySession
	}

	recs := records(s)
	last := recs[len(recs)-1]
	elapsed := scaled(s.Duration, 1000)

	fit := proto.FIT{}

	fileID := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		TimeCreated:  s.StartTime,
	}
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	start := mesgdef.Event{
		Timestamp: s.StartTime,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStart,
	}
	fit.Messages = append(fit.Messages, start.ToMesg(nil))

	for _, rec := range recs {
		fit.Messages = append(fit.Messages, rec.ToMesg(nil))
	}

	stop := mesgdef.Event{
		Timestamp: last.Timestamp,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}
	fit.Messages = append(fit.Messages, stop.ToMesg(nil))

	distance := scaled(gps.TrackLength(s.Track), 100)

	lap := mesgdef.Lap{
		Timestamp:        last.Timestamp,
		StartTime:        s.StartTime,
		TotalElapsedTime: elapsed,
		TotalTimerTime:   elapsed,
		TotalDistance:    distance,
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, lap.ToMesg(nil))

	summary := mesgdef.Session{
		Timestamp:        last.Timestamp,
		StartTime:        s.StartTime,
		TotalElapsedTime: elapsed,
		TotalTimerTime:   elapsed,
		TotalDistance:    distance,
		EnhancedAvgSpeed: speed(s.Stats.AvgSpeed),
		EnhancedMaxSpeed: speed(s.Stats.PeakSpeed),
		MaxTemperature:   temperature(s.Stats.MaxTemperature),
		TotalAscent:      uint16(min(s.Stats.AltitudeChange, math.MaxUint16-1)),
		Sport:            typedef.SportDriving,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
		NumLaps:          1,
	}
	fit.Messages = append(fit.Messages, summary.ToMesg(nil))

	activity := mesgdef.Activity{
		Timestamp:      last.Timestamp,
		TotalTimerTime: elapsed,
		NumSessions:    1,
		Type:           typedef.ActivityManual,
		Event:          typedef.EventActivity,
		EventType:      typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, activity.ToMesg(nil))

	if err := encoder.New(w).Encode(&fit); err != nil {
		return fmt.Errorf("encoding fit activity %s: %w", s.Key, err)
	}
	return nil
}

// records converts samples to FIT records. Sample timestamps are taken
// relative to the first one and anchored at the session start.
func records(s *session.Session) []*mesgdef.Record {
	origin := s.Samples[0].Timestamp
	track := s.Track

	var (
		at       *gps.Point
		distance float64
	)

	out := make([]*mesgdef.Record, 0, len(s.Samples))
	for _, smp := range s.Samples {
		ts := s.StartTime.Add(time.Duration(smp.Timestamp-origin) * time.Millisecond)

		for len(track) > 0 && track[0].Timestamp <= ts.UnixMilli() {
			if at != nil {
				distance += gps.Distance(*at, track[0])
			}
			at = &track[0]
			track = track[1:]
		}

		rec := mesgdef.NewRecord(nil)
		rec.Timestamp = ts
		rec.EnhancedSpeed = speed(smp.Speed)
		rec.EnhancedAltitude = altitude(smp.Altitude)
		rec.Temperature = temperature(smp.Temperature)

		if at != nil {
			rec.PositionLat = int32(at.Latitude * degreesToSemicircles)
			rec.PositionLong = int32(at.Longitude * degreesToSemicircles)
			rec.Distance = scaled(distance, 100)
			if at.Altitude != nil {
				rec.EnhancedAltitude = altitude(*at.Altitude)
			}
		}

		out = append(out, rec)
	}
	return out
}

// speed converts km/h to mm/s
func speed(kmh float64) uint32 {
	return scaled(kmh/3.6, 1000)
}

// altitude applies the FIT altitude scale 5 and offset 500 m
func altitude(m float64) uint32 {
	return scaled(m+500, 5)
}

func temperature(c float64) int8 {
	return int8(max(min(math.Round(c), math.MaxInt8), math.MinInt8+1))
}

func scaled(v, scale float64) uint32 {
	v = math.Round(v * scale)
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return uint32(min(v, math.MaxUint32-1))
}
