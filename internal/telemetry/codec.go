package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// FrameSize is the length of a device notification frame in bytes
const FrameSize = 20

var (
	// ErrShortFrame is returned when a frame carries fewer than FrameSize bytes
	ErrShortFrame = errors.New("short telemetry frame")

	// ErrNonFinite is returned when a frame decodes to NaN or an infinity
	ErrNonFinite = errors.New("non-finite value in telemetry frame")
)

// Frame is the decoded wire layout of a device notification:
// [0:4) speed, [4:8) gX, [8:12) gY, [12:16) gZ, [16:20) temperature,
// all little-endian IEEE-754 float32.
type Frame struct {
	Speed       float32
	GForceX     float32
	GForceY     float32
	GForceZ     float32
	Temperature float32
}

// Magnitude returns the Euclidean norm of the three g-force axes
func (f Frame) Magnitude() float64 {
	x, y, z := float64(f.GForceX), float64(f.GForceY), float64(f.GForceZ)
	return math.Sqrt(x*x + y*y + z*z)
}

// DecodeFrame parses a device notification. Bytes past FrameSize are ignored.
func DecodeFrame(p []byte) (Frame, error) {
	if len(p) < FrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortFrame, len(p), FrameSize)
	}

	var values [5]float32
	for i := range values {
		v := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4 : i*4+4]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Frame{}, fmt.Errorf("%w: field %d", ErrNonFinite, i)
		}
		values[i] = v
	}

	return Frame{
		Speed:       values[0],
		GForceX:     values[1],
		GForceY:     values[2],
		GForceZ:     values[3],
		Temperature: values[4],
	}, nil
}

// EncodeFrame is the inverse of DecodeFrame
func EncodeFrame(f Frame) []byte {
	p := make([]byte, FrameSize)
	for i, v := range []float32{f.Speed, f.GForceX, f.GForceY, f.GForceZ, f.Temperature} {
		binary.LittleEndian.PutUint32(p[i*4:i*4+4], math.Float32bits(v))
	}
	return p
}

// WithDecoderLogger sets the logger for the decoder
func WithDecoderLogger(logger *slog.Logger) func(d *Decoder) {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// Decoder turns device frames into samples. A frame that cannot be decoded is
// replaced by a sample from the fallback provider so that the stream never
// stalls on a corrupt notification.
type Decoder struct {
	fallback Provider
	logger   *slog.Logger

	mu   sync.Mutex
	norm Normalizer

	rejected atomic.Uint64
}

// NewDecoder creates a Decoder. A nil fallback uses a new Simulator.
func NewDecoder(fallback Provider, options ...func(d *Decoder)) *Decoder {
	if fallback == nil {
		fallback = NewSimulator()
	}

	d := Decoder{
		fallback: fallback,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// Decode decodes a frame captured at timestamp
func (d *Decoder) Decode(p []byte, timestamp int64) Sample {
	frame, err := DecodeFrame(p)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.rejected.Add(1)
		d.logger.Debug("frame rejected, synthesizing sample", slog.String("error", err.Error()))

		s := d.fallback.Next(timestamp)
		return d.norm.Sample(Reading{
			Timestamp:   timestamp,
			Speed:       s.Speed,
			GForce:      s.GForce,
			Temperature: s.Temperature,
			Altitude:    s.Altitude,
			Humidity:    s.Humidity,
		})
	}

	x := float64(frame.GForceX)
	y := float64(frame.GForceY)
	z := float64(frame.GForceZ)

	return d.norm.Sample(Reading{
		Timestamp:   timestamp,
		Speed:       float64(frame.Speed),
		GForce:      frame.Magnitude(),
		GForceX:     &x,
		GForceY:     &y,
		GForceZ:     &z,
		Temperature: float64(frame.Temperature),
		Altitude:    math.NaN(), // not carried by the frame, keep last known
	})
}

// Rejected returns the number of frames replaced by synthesized samples
func (d *Decoder) Rejected() uint64 {
	return d.rejected.Load()
}
