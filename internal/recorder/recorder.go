package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/session"
	"github.com/roman-kulish/drive-telemetry/internal/stream"
	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

const (
	// subscription buffers, about 25 s of telemetry at 10 Hz
	telemetryBuffer = 256
	trackBuffer     = 64

	reportTimeout = 10 * time.Second
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is active
	ErrAlreadyRecording = errors.New("already recording")

	// ErrUnsaved is returned by Start while a stopped recording could not be
	// saved. Stop retries the save, Discard drops the recording.
	ErrUnsaved = errors.New("previous recording not saved")
)

// TelemetrySource is the telemetry stream, real or simulated
type TelemetrySource interface {
	Subscribe(buffer int) *stream.Subscription[telemetry.Sample]
}

// Tracker captures the GPS track of a recording
type Tracker interface {
	StartTracking(ctx context.Context) bool
	StopTracking() []gps.Point
	TrackingErr() error
	Subscribe(buffer int) *stream.Subscription[gps.Point]
}

// Saver persists finished recordings
type Saver interface {
	Save(ctx context.Context, start time.Time, samples []telemetry.Sample, points []gps.Point, duration float64) (session.Key, error)
}

// Profile resolves the user a session is attributed to
type Profile interface {
	ActiveUserID(ctx context.Context) (string, error)
}

// Leaderboard receives the best values of every saved session
type Leaderboard interface {
	Report(ctx context.Context, userID string, topSpeed, maxGForce float64) error
}

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(r *Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// WithLeaderboard reports saved sessions for the profile's active user
func WithLeaderboard(profile Profile, board Leaderboard) func(r *Recorder) {
	return func(r *Recorder) {
		r.profile = profile
		r.board = board
	}
}

// Status describes the current recording
type Status struct {
	Recording   bool
	Tracking    bool  // GPS is being captured
	TrackingErr error // why GPS is not being captured
	StartedAt   time.Time
	Samples     int
	Points      int
	Unsaved     bool // a stopped recording awaits another Stop
}

type window struct {
	cancel      context.CancelFunc // aborts a pending tracking start
	start       time.Time
	tracking    bool
	trackingErr error

	samples Buffer[telemetry.Sample]
	points  Buffer[gps.Point]

	telemetry *stream.Subscription[telemetry.Sample]
	track     *stream.Subscription[gps.Point]
	wg        sync.WaitGroup
}

// Recorder coordinates a single telemetry and GPS recording window. It only
// touches the store when a recording stops.
type Recorder struct {
	source  TelemetrySource
	tracker Tracker
	store   Saver

	profile Profile
	board   Leaderboard

	mu      sync.Mutex
	active  *window
	unsaved *capture // drained recording whose save failed

	reports sync.WaitGroup
	logger  *slog.Logger
}

// New creates an idle recorder
func New(source TelemetrySource, tracker Tracker, store Saver, options ...func(r *Recorder)) *Recorder {
	r := Recorder{
		source:  source,
		tracker: tracker,
		store:   store,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Start opens a recording window. GPS being unavailable does not prevent
// recording; the session is saved with an empty track. Stop may be called
// while the location permission request is still pending.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	if r.unsaved != nil {
		r.mu.Unlock()
		return ErrUnsaved
	}

	trackCtx, cancel := context.WithCancel(ctx)

	w := &window{
		cancel:    cancel,
		start:     time.Now(),
		telemetry: r.source.Subscribe(telemetryBuffer),
		track:     r.tracker.Subscribe(trackBuffer),
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		for s := range w.telemetry.C {
			w.samples.Append(s)
		}
	}()
	go func() {
		defer w.wg.Done()
		for p := range w.track.C {
			w.points.Append(p)
		}
	}()

	r.active = w
	r.mu.Unlock()

	r.logger.Info("recording started")

	tracking := r.tracker.StartTracking(trackCtx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != w {
		// stopped while the permission request was pending
		if tracking && r.active == nil {
			r.tracker.StopTracking()
		}
		return nil
	}

	w.tracking = tracking
	if !tracking {
		w.trackingErr = r.tracker.TrackingErr()
		r.logger.Warn("recording without gps track")
	}
	return nil
}

// capture is a drained recording ready to be saved
type capture struct {
	start    time.Time
	samples  []telemetry.Sample
	points   []gps.Point
	duration float64
}

// Stop closes the recording window and saves it. Stopping while idle returns
// the zero key and no error. If the save fails the recording is kept and
// the next Stop retries it.
func (r *Recorder) Stop(ctx context.Context) (session.Key, error) {
	r.mu.Lock()
	w, c := r.active, r.unsaved
	r.active, r.unsaved = nil, nil
	r.mu.Unlock()

	if w != nil {
		c = r.drain(w)
	}
	if c == nil {
		return session.Key{}, nil
	}

	key, err := r.store.Save(ctx, c.start, c.samples, c.points, c.duration)
	if err != nil {
		r.mu.Lock()
		r.unsaved = c
		r.mu.Unlock()

		r.logger.Warn("recording kept for retry", slog.Int("samples", len(c.samples)), slog.String("error", err.Error()))
		return session.Key{}, fmt.Errorf("saving session: %w", err)
	}

	r.mu.Lock()
	r.unsaved = nil
	r.mu.Unlock()

	r.logger.Info("recording saved",
		slog.String("key", key.String()),
		slog.Int("samples", len(c.samples)),
		slog.Int("points", len(c.points)),
		slog.Float64("duration", c.duration),
	)

	r.report(key, c.samples)
	return key, nil
}

// drain stops tracking and collects everything the window buffered
func (r *Recorder) drain(w *window) *capture {
	w.cancel()
	tracked := r.tracker.StopTracking()

	w.telemetry.Close()
	w.track.Close()
	w.wg.Wait()

	c := capture{
		start:   w.start,
		samples: w.samples.DrainAll(),
		points:  w.points.DrainAll(),
	}
	if len(tracked) > len(c.points) {
		// the subscription dropped points, the tracker kept them all
		c.points = tracked
	}

	if dropped := w.telemetry.Dropped(); dropped > 0 {
		r.logger.Warn("telemetry samples dropped during recording", slog.Uint64("dropped", dropped))
	}

	c.duration = time.Since(w.start).Seconds()
	if len(c.samples) > 0 {
		c.duration = float64(c.samples[len(c.samples)-1].Timestamp-c.samples[0].Timestamp) / 1000
	}

	return &c
}

// Discard drops a recording whose save failed
func (r *Recorder) Discard() {
	r.mu.Lock()
	c := r.unsaved
	r.unsaved = nil
	r.mu.Unlock()

	if c != nil {
		r.logger.Warn("unsaved recording discarded", slog.Int("samples", len(c.samples)))
	}
}

// report sends the session's best values to the leaderboard in the
// background. Failures are logged only.
func (r *Recorder) report(key session.Key, samples []telemetry.Sample) {
	if r.profile == nil || r.board == nil {
		return
	}

	stats := session.ComputeStats(samples)
	logger := r.logger.With(slog.String("key", key.String()))

	r.reports.Add(1)
	go func() {
		defer r.reports.Done()

		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()

		userID, err := r.profile.ActiveUserID(ctx)
		if err != nil {
			logger.Warn("resolving active user", slog.String("error", err.Error()))
			return
		}
		if userID == "" {
			logger.Debug("no active user, leaderboard not updated")
			return
		}

		if err = r.board.Report(ctx, userID, stats.PeakSpeed, stats.PeakGForce); err != nil {
			logger.Warn("updating leaderboard", slog.String("error", err.Error()))
			return
		}
		logger.Debug("leaderboard updated", slog.String("userID", userID))
	}()
}

// Status reports whether a recording is active and how much it holds
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return Status{Unsaved: r.unsaved != nil}
	}
	return Status{
		Recording:   true,
		Tracking:    r.active.tracking,
		TrackingErr: r.active.trackingErr,
		StartedAt:   r.active.start,
		Samples:     r.active.samples.Size(),
		Points:      r.active.points.Size(),
		Unsaved:     r.unsaved != nil,
	}
}

// Close discards an active or unsaved recording and waits for pending
// leaderboard reports
func (r *Recorder) Close() {
	r.Discard()

	r.mu.Lock()
	w := r.active
	r.active = nil
	r.mu.Unlock()

	if w != nil {
		c := r.drain(w)
		r.logger.Warn("recording discarded", slog.Int("samples", len(c.samples)))
	}

	r.reports.Wait()
}
