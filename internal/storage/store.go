package storage

import (
	"context"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/drive-telemetry/internal/device"
	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/session"
	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

var (
	// ErrNotFound is returned when no session exists for a key
	ErrNotFound = errors.New("session not found")

	// ErrCorrupted is returned when a stored session cannot be decoded. The
	// record is removed before the error is returned.
	ErrCorrupted = errors.New("session record corrupted")

	// ErrStorageFull is returned when the database cannot grow
	ErrStorageFull = errors.New("storage full")
)

// Store persists recorded sessions and the remembered device. Sessions are
// immutable once saved; they can only be deleted.
type Store interface {
	// Save persists a finished recording and returns its key. Samples and
	// points are sanitized and statistics are computed before anything is
	// written. The session is readable with Get once Save returns.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - start: Wall-clock time the recording started, determines the key
	//   - samples: Telemetry in capture order
	//   - points: GPS track in capture order, may be empty
	//   - duration: Recording duration in seconds
	//
	// Returns:
	//   - key: Identifier of the stored session
	//   - error: ErrStorageFull if the database cannot grow
	Save(ctx context.Context, start time.Time, samples []telemetry.Sample, points []gps.Point, duration float64) (session.Key, error)

	// List returns the keys of all stored sessions, newest first
	List(ctx context.Context) ([]session.Key, error)

	// Latest returns the most recent session, or nil if there is none.
	// The result is cached until the next Save or Delete.
	Latest(ctx context.Context) (*session.Session, error)

	// Get returns the session stored under key.
	//
	// Returns:
	//   - session: The stored session with its track and statistics
	//   - error: ErrNotFound if the key is unknown, ErrCorrupted if the
	//     record could not be decoded (the record is deleted)
	Get(ctx context.Context, key session.Key) (*session.Session, error)

	// Delete removes the session and its track. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key session.Key) error

	device.Memory

	// Close releases all database connections.
	// It is safe to call Close multiple times.
	Close() error
}
