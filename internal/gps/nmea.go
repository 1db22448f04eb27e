package gps

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
)

const (
	knotsToMps = 0.514444

	// user equivalent range error used to turn HDOP into an accuracy estimate
	uereMeters = 5.0
)

var (
	ErrBadChecksum = errors.New("nmea checksum mismatch")
	ErrBadSentence = errors.New("malformed nmea sentence")
)

// nmeaDecoder assembles fixes from GGA and RMC sentences. A fix is emitted
// for every valid RMC sentence, enriched with the altitude and accuracy of
// the most recent GGA sentence.
type nmeaDecoder struct {
	altitude *float64
	accuracy *float64
}

// Feed consumes one sentence and reports a fix when one is complete.
// Sentences of other types are ignored.
func (d *nmeaDecoder) Feed(line string) (Fix, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, fmt.Errorf("%w: missing '$'", ErrBadSentence)
	}

	s, err := nmea.Parse(line)
	if err != nil {
		var unsupported *nmea.NotSupportedError
		switch {
		case errors.As(err, &unsupported):
			return Fix{}, false, nil
		case strings.Contains(err.Error(), "checksum mismatch"):
			return Fix{}, false, fmt.Errorf("%w: %w", ErrBadChecksum, err)
		default:
			return Fix{}, false, fmt.Errorf("%w: %w", ErrBadSentence, err)
		}
	}

	switch m := s.(type) {
	case nmea.GGA:
		d.gga(m)
		return Fix{}, false, nil
	case nmea.RMC:
		return d.rmc(m)
	default:
		return Fix{}, false, nil
	}
}

func (d *nmeaDecoder) gga(m nmea.GGA) {
	if m.FixQuality == "" || m.FixQuality == nmea.Invalid {
		d.altitude, d.accuracy = nil, nil // no fix
		return
	}

	acc := m.HDOP * uereMeters
	alt := m.Altitude
	d.accuracy, d.altitude = &acc, &alt
}

func (d *nmeaDecoder) rmc(m nmea.RMC) (Fix, bool, error) {
	if m.Validity != nmea.ValidRMC {
		return Fix{}, false, nil // void
	}
	if !m.Date.Valid || !m.Time.Valid {
		return Fix{}, false, fmt.Errorf("%w: RMC without date or time", ErrBadSentence)
	}

	mps := m.Speed * knotsToMps

	return Fix{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Altitude:  d.altitude,
		Accuracy:  d.accuracy,
		Speed:     &mps,
		Time:      fixTime(m.Date, m.Time),
	}, true, nil
}

// fixTime combines the RMC date and time in UTC. Two-digit years from 69
// are in the 1900s.
func fixTime(date nmea.Date, clock nmea.Time) time.Time {
	year := 2000 + date.YY
	if date.YY >= 69 {
		year = 1900 + date.YY
	}

	return time.Date(year, time.Month(date.MM), date.DD,
		clock.Hour, clock.Minute, clock.Second, clock.Millisecond*int(time.Millisecond), time.UTC)
}
