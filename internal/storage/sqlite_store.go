package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/drive-telemetry/internal/device"
	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/session"
	"github.com/roman-kulish/drive-telemetry/internal/telemetry"
)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) func(s *SqliteStore) {
	return func(s *SqliteStore) {
		s.logger = logger.With(slog.String("component", "storage"))
	}
}

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error

	latestMu sync.Mutex
	latest   *session.Session
	cached   bool
	gen      uint64 // bumped by every write

	logger *slog.Logger
}

var _ Store = (*SqliteStore)(nil)

// NewSqliteStore creates a store backed by the SQLite database at dbPath.
// The database and its schema are created on first use.
func NewSqliteStore(dbPath string, options ...func(s *SqliteStore)) *SqliteStore {
	s := SqliteStore{
		dbPath: dbPath,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", classify(err))
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

// getReadDB opens the read-only connection. The write connection is opened
// first so that the file and schema exist.
func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}

	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) Save(ctx context.Context, start time.Time, samples []telemetry.Sample, points []gps.Point, duration float64) (key session.Key, err error) {
	samples = sanitizeSamples(samples)
	points = sanitizePoints(points)
	duration = nonNegative(duration)

	stats := session.ComputeStats(samples)

	statsData, err := json.Marshal(stats)
	if err != nil {
		return key, fmt.Errorf("marshaling stats: %w", err)
	}
	samplesData, err := json.Marshal(samples)
	if err != nil {
		return key, fmt.Errorf("marshaling samples: %w", err)
	}

	db, err := s.getWriteDB()
	if err != nil {
		return key, fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return key, fmt.Errorf("beginning transaction: %w", classify(err))
	}
	defer rollbackWithError(tx, &err)

	key = session.NewKey(start)

	_, err = tx.ExecContext(ctx, insertSessionSQL,
		key.Date,
		key.Name,
		start.UnixMilli(),
		duration,
		stats.SampleCount,
		string(statsData),
		string(samplesData),
	)
	if err != nil {
		return session.Key{}, fmt.Errorf("inserting session: %w", classify(err))
	}

	if len(points) > 0 {
		var pointsData []byte
		if pointsData, err = json.Marshal(points); err != nil {
			return session.Key{}, fmt.Errorf("marshaling track: %w", err)
		}
		if _, err = tx.ExecContext(ctx, insertTrackSQL, key.Date, key.Name, string(pointsData)); err != nil {
			return session.Key{}, fmt.Errorf("inserting track: %w", classify(err))
		}
	}

	if err = tx.Commit(); err != nil {
		return session.Key{}, fmt.Errorf("committing transaction: %w", classify(err))
	}

	s.invalidateLatest()

	s.logger.Info("session saved",
		slog.String("key", key.String()),
		slog.Int("samples", len(samples)),
		slog.Int("points", len(points)),
	)
	return key, nil
}

func (s *SqliteStore) List(ctx context.Context) (keys []session.Key, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectKeysSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var k session.Key
		if err = rows.Scan(&k.Date, &k.Name); err != nil {
			err = fmt.Errorf("scanning session key: %w", err)
			return
		}
		keys = append(keys, k)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating sessions: %w", err)
	}
	return
}

func (s *SqliteStore) Latest(ctx context.Context) (*session.Session, error) {
	s.latestMu.Lock()
	if s.cached {
		latest := copySession(s.latest)
		s.latestMu.Unlock()
		return latest, nil
	}
	gen := s.gen
	s.latestMu.Unlock()

	keys, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var latest *session.Session
	for _, k := range keys {
		latest, err = s.Get(ctx, k)
		if errors.Is(err, ErrCorrupted) || errors.Is(err, ErrNotFound) {
			continue // removed meanwhile, try the next one
		}
		if err != nil {
			return nil, err
		}
		break
	}

	s.latestMu.Lock()
	if s.gen == gen {
		s.latest, s.cached = latest, true
	}
	s.latestMu.Unlock()

	return copySession(latest), nil
}

func (s *SqliteStore) invalidateLatest() {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()

	s.latest, s.cached = nil, false
	s.gen++
}

func (s *SqliteStore) Get(ctx context.Context, key session.Key) (sess *session.Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	var row sessionRow
	err = db.QueryRowContext(ctx, selectSessionSQL, key.Date, key.Name).
		Scan(&row.StartTime, &row.Duration, &row.Stats, &row.Samples, &row.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess, err = decodeSession(key, row)
	if err != nil {
		s.logger.Warn("removing corrupted session", slog.String("key", key.String()), slog.String("error", err.Error()))

		if dErr := s.Delete(ctx, key); dErr != nil {
			s.logger.Error("removing corrupted session", slog.String("key", key.String()), slog.String("error", dErr.Error()))
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupted, key, err)
	}

	return sess, nil
}

func decodeSession(key session.Key, row sessionRow) (*session.Session, error) {
	sess := session.Session{
		Key:       key,
		StartTime: time.UnixMilli(row.StartTime),
		Duration:  row.Duration,
	}

	if err := json.Unmarshal([]byte(row.Stats), &sess.Stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Samples), &sess.Samples); err != nil {
		return nil, fmt.Errorf("decoding samples: %w", err)
	}
	if row.Points.Valid {
		if err := json.Unmarshal([]byte(row.Points.String), &sess.Track); err != nil {
			return nil, fmt.Errorf("decoding track: %w", err)
		}
	}
	if sess.Stats.SampleCount != len(sess.Samples) {
		return nil, fmt.Errorf("stats cover %d samples, found %d", sess.Stats.SampleCount, len(sess.Samples))
	}

	return &sess, nil
}

func (s *SqliteStore) Delete(ctx context.Context, key session.Key) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, deleteTrackSQL, key.Date, key.Name); err != nil {
		return fmt.Errorf("deleting track: %w", err)
	}
	if _, err = tx.ExecContext(ctx, deleteSessionSQL, key.Date, key.Name); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.invalidateLatest()
	return nil
}

// Remembered returns the remembered device, nil if none
func (s *SqliteStore) Remembered(ctx context.Context) (*device.RememberedDevice, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	var row rememberedRow
	err = db.QueryRowContext(ctx, selectRememberedSQL).Scan(&row.ID, &row.Name, &row.ConnectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning remembered device: %w", err)
	}

	return &device.RememberedDevice{
		ID:          row.ID,
		Name:        row.Name,
		ConnectedAt: time.UnixMilli(row.ConnectedAt),
	}, nil
}

// Remember replaces the remembered device
func (s *SqliteStore) Remember(ctx context.Context, d device.RememberedDevice) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, upsertRememberedSQL, d.ID, d.Name, d.ConnectedAt.UnixMilli()); err != nil {
		return fmt.Errorf("storing remembered device: %w", classify(err))
	}
	return nil
}

// ForgetDevice clears the remembered device
func (s *SqliteStore) ForgetDevice(ctx context.Context) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, deleteRememberedSQL); err != nil {
		return fmt.Errorf("deleting remembered device: %w", err)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}

func copySession(s *session.Session) *session.Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Samples = append([]telemetry.Sample(nil), s.Samples...)
	c.Track = append([]gps.Point(nil), s.Track...)
	return &c
}
