package gps

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/drive-telemetry/internal/stream"
)

const (
	// DefaultMinInterval and DefaultMinDistance throttle captured fixes: a fix
	// is kept once either has been reached since the last kept fix.
	DefaultMinInterval = time.Second
	DefaultMinDistance = 1.0 // meters
)

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(r *Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "gps"))
	}
}

// WithThrottle overrides the capture interval and distance thresholds
func WithThrottle(interval time.Duration, meters float64) func(r *Recorder) {
	return func(r *Recorder) {
		r.minInterval = interval
		r.minDistance = meters
	}
}

type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Recorder captures a GPS track for the duration of a recording window,
// independently of the telemetry connection.
type Recorder struct {
	provider Provider
	hub      *stream.Hub[Point]
	logger   *slog.Logger

	minInterval time.Duration
	minDistance float64

	mu     sync.Mutex
	watch  *watch
	points []Point
	last   *Point
	err    error // why the last StartTracking failed
}

// NewRecorder creates a recorder for the given location provider
func NewRecorder(provider Provider, options ...func(r *Recorder)) *Recorder {
	r := Recorder{
		provider:    provider,
		hub:         stream.NewHub[Point](),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		minInterval: DefaultMinInterval,
		minDistance: DefaultMinDistance,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// StartTracking requests location access and begins capturing fixes. It
// returns false, without an error, when access is refused or the location
// source is unavailable. Calling it while already tracking is a no-op.
func (r *Recorder) StartTracking(ctx context.Context) bool {
	r.mu.Lock()
	if r.watch != nil {
		r.mu.Unlock()
		return true
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	r.watch = w
	r.points = nil
	r.last = nil
	r.err = nil
	r.mu.Unlock()

	if err := r.provider.Open(ctx); err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied):
			r.logger.Warn("location permission denied", slog.String("error", err.Error()))
		case errors.Is(err, context.Canceled):
			r.logger.Debug("tracking cancelled before start")
		default:
			r.logger.Warn("location unavailable", slog.String("error", err.Error()))
		}

		cancel()
		close(w.done)

		r.mu.Lock()
		if r.watch == w {
			r.watch = nil
		}
		r.err = err
		r.mu.Unlock()
		return false
	}

	go func() {
		defer close(w.done)
		defer func() {
			if err := r.provider.Close(); err != nil {
				r.logger.Warn("closing location provider", slog.String("error", err.Error()))
			}
		}()

		r.logger.Info("tracking started")
		if err := r.provider.Watch(ctx, r.capture); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("location watch stopped", slog.String("error", err.Error()))
		}
	}()

	return true
}

// StopTracking stops the watch and hands the captured points to the caller.
// The recorder is empty afterwards.
func (r *Recorder) StopTracking() []Point {
	r.mu.Lock()
	w := r.watch
	r.watch = nil
	r.mu.Unlock()

	if w != nil {
		w.cancel()
		<-w.done
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	points := r.points
	r.points = nil
	r.last = nil

	r.logger.Info("tracking stopped", slog.Int("points", len(points)))
	return points
}

// TrackingErr returns the reason the last StartTracking call failed, nil
// after a successful start
func (r *Recorder) TrackingErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// IsTracking reports whether a watch is active
func (r *Recorder) IsTracking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watch != nil
}

// Len returns the number of points captured so far
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

// Subscribe registers for captured point notifications
func (r *Recorder) Subscribe(buffer int) *stream.Subscription[Point] {
	return r.hub.Subscribe(buffer)
}

func (r *Recorder) capture(f Fix) {
	p, err := NewPoint(f)
	if err != nil {
		r.logger.Debug("fix dropped", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	if r.last != nil && !r.due(*r.last, p) {
		r.mu.Unlock()
		return
	}
	r.points = append(r.points, p)
	r.last = &p
	r.mu.Unlock()

	r.hub.Publish(p)
}

func (r *Recorder) due(last, p Point) bool {
	if time.Duration(p.Timestamp-last.Timestamp)*time.Millisecond >= r.minInterval {
		return true
	}
	return Distance(last, p) >= r.minDistance
}
