// Package ulid generates time-sortable identifiers for stored assets.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a new ULID stamped with the current time.
func New() string {
	return NewFromTime(time.Now())
}

// NewFromTime generates a new ULID with a specific timestamp.
func NewFromTime(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// FileName returns a lower-case ULID followed by the given extension.
// ext may be passed with or without the leading dot.
func FileName(t time.Time, ext string) string {
	name := strings.ToLower(NewFromTime(t))
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// IsValid checks if a string is a valid ULID.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}

// Time extracts the timestamp from a ULID string.
func Time(s string) (time.Time, error) {
	id, err := ulid.Parse(strings.ToUpper(s))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
