// Package domain provides the core types shared by every part of the
// execution client: messages addressed to AI characters, the execution
// client's own identity state, the enhancement audit record, and the error
// taxonomy used across package boundaries.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Entity identity
// ---------------------------------------------------------------------------

// EntityID is a typed identifier. Store records use UUID strings, ledger
// records use base58 account addresses.
type EntityID string

// NewID generates a random store identifier.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// IsStoreID reports whether id has the shape of a store-assigned identifier.
func (id EntityID) IsStoreID() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

// ---------------------------------------------------------------------------
// Timestamp value object
// ---------------------------------------------------------------------------

// Timestamp wraps time.Time with UTC normalization.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC timestamp.
func Now() Timestamp { return Timestamp{time.Now().UTC()} }

// ZeroTime returns the zero-value timestamp.
func ZeroTime() Timestamp { return Timestamp{} }

// TimestampFrom wraps an existing time.Time.
func TimestampFrom(t time.Time) Timestamp { return Timestamp{t.UTC()} }
