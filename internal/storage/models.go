package storage

import (
	"database/sql"
)

// sessionRow is a sessions row joined with its track
type sessionRow struct {
	StartTime int64
	Duration  float64
	Stats     string
	Samples   string
	Points    sql.NullString
}

type rememberedRow struct {
	ID          string
	Name        string
	ConnectedAt int64
}
