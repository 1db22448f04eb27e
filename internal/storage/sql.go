package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (date_bucket,
                      name,
                      start_time,
                      duration,
                      sample_count,
                      stats,
                      samples)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertTrackSQL = `
INSERT INTO tracks (date_bucket,
                    name,
                    points)
VALUES (?, ?, ?)`

	selectSessionSQL = `
SELECT 
    s.start_time,
    s.duration,
    s.stats,
    s.samples,
    t.points
FROM sessions s
LEFT JOIN tracks t ON t.date_bucket = s.date_bucket AND t.name = s.name
WHERE 
    s.date_bucket = ? AND s.name = ?`

	selectKeysSQL = `
SELECT 
    date_bucket,
    name
FROM sessions
ORDER BY date_bucket DESC, start_time DESC, name DESC`

	deleteSessionSQL = `DELETE FROM sessions WHERE date_bucket = ? AND name = ?`
	deleteTrackSQL   = `DELETE FROM tracks WHERE date_bucket = ? AND name = ?`

	selectRememberedSQL = `SELECT id, name, connected_at FROM remembered_device WHERE slot = 1`

	upsertRememberedSQL = `
INSERT INTO remembered_device (slot, id, name, connected_at)
VALUES (1, ?, ?, ?)
ON CONFLICT (slot) DO UPDATE SET id           = excluded.id,
                                 name         = excluded.name,
                                 connected_at = excluded.connected_at`

	deleteRememberedSQL = `DELETE FROM remembered_device`
)

//go:embed schema.sql
var schemaSQL string
