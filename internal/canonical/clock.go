package canonical

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// EventIDGenerator abstracts event id generation so tests are deterministic.
type EventIDGenerator interface {
	New() string
}

// UUIDv7Generator produces time-ordered UUIDv7 event ids, so ids assigned
// by a single writer sort in assignment order.
type UUIDv7Generator struct{}

func (UUIDv7Generator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source fails; fall back to v4
		// rather than propagate an error through every append path.
		return uuid.New().String()
	}
	return id.String()
}
