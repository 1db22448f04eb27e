package gps

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider emits fixes pushed through its fixes channel
type fakeProvider struct {
	openErr   error
	openBlock bool

	opens   atomic.Int32
	watches atomic.Int32
	closes  atomic.Int32

	fixes chan Fix
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{fixes: make(chan Fix)}
}

func (p *fakeProvider) Open(ctx context.Context) error {
	p.opens.Add(1)
	if p.openBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.openErr
}

func (p *fakeProvider) Watch(ctx context.Context, found func(Fix)) error {
	p.watches.Add(1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.fixes:
			found(f)
		}
	}
}

func (p *fakeProvider) Close() error {
	p.closes.Add(1)
	return nil
}

func fixAt(lat, lon float64, ms int64) Fix {
	return Fix{Latitude: lat, Longitude: lon, Time: time.UnixMilli(ms)}
}

func TestRecorder_StartStop(t *testing.T) {
	p := newFakeProvider()
	r := NewRecorder(p)

	if !r.StartTracking(context.Background()) {
		t.Fatalf("expected tracking to start")
	}

	p.fixes <- fixAt(51.5, -0.12, 1000)
	p.fixes <- fixAt(51.5001, -0.12, 2000)
	p.fixes <- fixAt(51.5002, -0.12, 3000)

	points := r.StopTracking()
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[0].Timestamp != 1000 || points[2].Timestamp != 3000 {
		t.Errorf("points out of capture order: %+v", points)
	}

	if r.Len() != 0 {
		t.Errorf("expected recorder to be empty after stop, got %d", r.Len())
	}
	if len(r.StopTracking()) != 0 {
		t.Errorf("expected second stop to return no points")
	}
	if p.closes.Load() != 1 {
		t.Errorf("expected provider closed once, got %d", p.closes.Load())
	}
}

func TestRecorder_StartTwice(t *testing.T) {
	p := newFakeProvider()
	r := NewRecorder(p)

	if !r.StartTracking(context.Background()) || !r.StartTracking(context.Background()) {
		t.Fatalf("expected both calls to report tracking")
	}

	p.fixes <- fixAt(10, 10, 1000)
	p.fixes <- fixAt(10.001, 10, 2000)

	points := r.StopTracking()
	if len(points) != 2 {
		t.Errorf("expected 2 points, got %d", len(points))
	}
	if p.opens.Load() != 1 || p.watches.Load() != 1 {
		t.Errorf("expected a single watch, got opens=%d watches=%d", p.opens.Load(), p.watches.Load())
	}
}

func TestRecorder_PermissionDenied(t *testing.T) {
	p := newFakeProvider()
	p.openErr = ErrPermissionDenied
	r := NewRecorder(p)

	if r.StartTracking(context.Background()) {
		t.Fatalf("expected tracking to fail closed")
	}
	if r.IsTracking() {
		t.Errorf("expected recorder not to be tracking")
	}
	if err := r.TrackingErr(); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied as the cause, got %v", err)
	}
	if points := r.StopTracking(); len(points) != 0 {
		t.Errorf("expected no points, got %d", len(points))
	}

	p.openErr = nil
	if !r.StartTracking(context.Background()) {
		t.Fatalf("expected tracking to start once permission is granted")
	}
	if err := r.TrackingErr(); err != nil {
		t.Errorf("expected cause cleared after a successful start, got %v", err)
	}
	r.StopTracking()
}

func TestRecorder_StopDuringPendingPermission(t *testing.T) {
	p := newFakeProvider()
	p.openBlock = true
	r := NewRecorder(p)

	started := make(chan bool)
	go func() {
		started <- r.StartTracking(context.Background())
	}()

	for p.opens.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	stopped := make(chan []Point)
	go func() {
		stopped <- r.StopTracking()
	}()

	select {
	case points := <-stopped:
		if len(points) != 0 {
			t.Errorf("expected empty result, got %d points", len(points))
		}
	case <-time.After(time.Second):
		t.Fatalf("StopTracking hung on pending permission request")
	}

	if <-started {
		t.Errorf("expected cancelled start to report false")
	}
}

func TestRecorder_Throttle(t *testing.T) {
	p := newFakeProvider()
	r := NewRecorder(p)
	r.StartTracking(context.Background())

	p.fixes <- fixAt(48.0, 11.0, 1000)
	p.fixes <- fixAt(48.0, 11.0, 1200)          // same place, too soon
	p.fixes <- fixAt(48.00002, 11.0, 1400)      // ~2.2 m moved
	p.fixes <- fixAt(48.00002, 11.0, 2400)      // one second later
	p.fixes <- Fix{Latitude: 200, Longitude: 0} // invalid

	points := r.StopTracking()
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
}

func TestRecorder_WithThrottle(t *testing.T) {
	p := newFakeProvider()
	r := NewRecorder(p, WithThrottle(5*time.Second, 100))
	r.StartTracking(context.Background())

	p.fixes <- fixAt(48.0, 11.0, 1000)
	p.fixes <- fixAt(48.00002, 11.0, 2000) // ~2.2 m, under 100 m
	p.fixes <- fixAt(48.00002, 11.0, 4000) // 3 s, under 5 s
	p.fixes <- fixAt(48.0, 11.0, 6000)     // 5 s since the first
	p.fixes <- fixAt(48.0010, 11.0, 6500)  // ~111 m moved

	points := r.StopTracking()
	if len(points) != 3 {
		t.Fatalf("expected 3 points with the wider thresholds, got %d", len(points))
	}
	if points[1].Timestamp != 6000 || points[2].Timestamp != 6500 {
		t.Errorf("unexpected points kept: %+v", points)
	}
}

func TestRecorder_Subscribe(t *testing.T) {
	p := newFakeProvider()
	r := NewRecorder(p)

	a := r.Subscribe(8)
	b := r.Subscribe(8)

	r.StartTracking(context.Background())
	p.fixes <- fixAt(1, 1, 1000)

	var wg sync.WaitGroup
	for _, c := range []<-chan Point{a.C, b.C} {
		wg.Add(1)
		go func(c <-chan Point) {
			defer wg.Done()
			select {
			case pt := <-c:
				if pt.Timestamp != 1000 {
					t.Errorf("unexpected point %+v", pt)
				}
			case <-time.After(time.Second):
				t.Errorf("timeout waiting for point")
			}
		}(c)
	}
	wg.Wait()

	a.Close()
	a.Close()
	r.StopTracking()
	b.Close()
}

func TestNewPoint(t *testing.T) {
	nan := func() *float64 { v := 0.0; v = v / v; return &v }
	neg := -3.0

	p, err := NewPoint(Fix{Latitude: 1, Longitude: 2, Altitude: nan(), Accuracy: &neg, Time: time.UnixMilli(5)})
	if err != nil {
		t.Fatalf("new point: %v", err)
	}
	if p.Altitude != nil || p.Accuracy != nil {
		t.Errorf("expected invalid optionals to be dropped, got %+v", p)
	}
	if p.Timestamp != 5 {
		t.Errorf("expected timestamp 5, got %d", p.Timestamp)
	}

	if _, err = NewPoint(Fix{Latitude: *nan(), Longitude: 0}); err == nil {
		t.Errorf("expected error for non-finite latitude")
	}
}
