// Package msgid mints and validates message identifiers used to correlate
// beacon fetches with stored messages. Identifiers are UUID version 7, so
// their canonical textual form sorts lexicographically in creation order
// at millisecond granularity.
package msgid

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// New mints identifier for one outgoing message
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// entropy starvation, extremely unlikely, fall back to
		// purely random identifier losing sortability only
		return uuid.New().String()
	}
	return id.String()
}

// Valid reports whether raw is an identifier this system could have minted.
// Reporting and retrieval endpoints must call it before touching storage.
func Valid(raw string) bool {
	if len(raw) != 36 {
		return false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	// accept the fallback format too
	return id.Version() == 7 || id.Version() == 4
}

// Time extracts creation timestamp embedded into identifier,
// ok is false for identifiers without one
func Time(raw string) (t time.Time, ok bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return
	}
	if id.Version() != 7 {
		return
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec), true
}

// Random gets random hex encoded id for milter sessions
func Random() (id string, err error) {
	b := make([]byte, 10)
	_, err = rand.Read(b)
	if err != nil {
		return
	}
	id = hex.EncodeToString(b)
	return
}
