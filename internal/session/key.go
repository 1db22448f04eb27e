package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "150405"
)

// ErrInvalidKey is returned by ParseKey for malformed keys
var ErrInvalidKey = errors.New("invalid session key")

// Key identifies a stored session by its date bucket and a per-session name,
// e.g. 2024-06-01/143012-9f1c2e7a.
type Key struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// NewKey generates a key for a session saved at t. The name leads with the
// time of day so keys within a bucket sort chronologically.
func NewKey(t time.Time) Key {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return Key{
		Date: t.Format(dateLayout),
		Name: fmt.Sprintf("%s-%s", t.Format(timeLayout), id[:8]),
	}
}

// ParseKey parses the string form produced by Key.String
func ParseKey(s string) (Key, error) {
	date, name, ok := strings.Cut(s, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return Key{}, fmt.Errorf("%w: bad date %q", ErrInvalidKey, date)
	}
	return Key{Date: date, Name: name}, nil
}

// IsZero reports whether k is the zero key
func (k Key) IsZero() bool {
	return k.Date == "" && k.Name == ""
}

func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return k.Date + "/" + k.Name
}
