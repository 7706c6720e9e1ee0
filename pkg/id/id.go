// Package id generates identifiers used across the service.
//
// Request and trace identifiers are ULIDs so that logs sort by time.
// Document and chunk identifiers are UUID v4.
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string. Safe for concurrent use.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewRequestID returns an identifier suitable for request correlation.
func NewRequestID() string {
	return NewULID()
}

// NewUUID returns a new UUID v4 string.
func NewUUID() string {
	return uuid.NewString()
}

// IsValidULID reports whether s parses as a ULID.
func IsValidULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// IsValidUUID reports whether s parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// ULIDTime extracts the embedded timestamp from a ULID string.
func ULIDTime(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(u.Time())), nil
}
