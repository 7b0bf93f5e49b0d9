package canonical

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions callers are expected to branch on.
// Layers wrap these with fmt.Errorf and %w, adding the key, identifier, or
// checksum context needed to act on them.
var (
	// ErrInvalidIdentifier marks malformed identifier input, rejected
	// before any I/O happens.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrNotFound marks an absent storage key.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a write-once violation: different bytes written to
	// an existing key.
	ErrConflict = errors.New("write-once conflict")

	// ErrDuplicateAnnouncement marks a `new` event for an identifier that
	// already has an announced version. Byte-identical replays of a
	// previously appended event are not errors; they are no-ops.
	ErrDuplicateAnnouncement = errors.New("duplicate announcement")

	// ErrOutOfOrderEvent marks an event whose predecessor state has not
	// arrived yet. The caller should buffer and retry after the
	// predecessor is applied; the ledger never waits for it.
	ErrOutOfOrderEvent = errors.New("out-of-order event")

	// ErrListingSealed marks an append to a day that has been closed.
	ErrListingSealed = errors.New("listing sealed")

	// ErrCorruptionDetected marks a checksum mismatch found during
	// verification. Never repaired automatically.
	ErrCorruptionDetected = errors.New("corruption detected")

	// ErrBackendUnavailable marks a transient storage failure. Safe to
	// retry at the caller; never retried silently inside the core.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// CorruptionError carries the context an operator needs to remediate a
// checksum mismatch. It unwraps to ErrCorruptionDetected.
type CorruptionError struct {
	Key       string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption detected at %s: %s checksum %s, expected %s",
		e.Key, e.Algorithm, e.Actual, e.Expected)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruptionDetected }

// SuppressedError is returned when a suppressed version is read. It
// unwraps to ErrNotFound so generic callers treat the version as gone,
// while callers that care can recover the tombstone with errors.As.
type SuppressedError struct {
	Tombstone Tombstone
}

func (e *SuppressedError) Error() string {
	return fmt.Sprintf("%s is suppressed: %s", e.Tombstone.Identifier, e.Tombstone.Reason)
}

func (e *SuppressedError) Unwrap() error { return ErrNotFound }
