package canonical

// EprintState is the ledger's per-identifier announcement state:
// Unannounced (no row) -> Announced -> Withdrawn or superseded by the
// next version.
type EprintState struct {
	Identifier     string
	LatestVersion  int
	IsWithdrawn    bool
	FirstAnnounced string // ISO date of the first `new` announcement
}

// LedgerIndex is the queryable index over appended announcement events.
// It is a rebuildable cache: the listing files in the resource store are
// the source of truth, and Reset followed by replaying the store's
// listings reconstructs it exactly.
type LedgerIndex interface {
	// FindEvent returns the previously recorded event with the given
	// deduplication key, or nil if none was recorded.
	FindEvent(identifier string, eventType EventType, eventID string) (*Event, error)

	// ListEvents returns every recorded event for an identifier and
	// event type, so id-less redeliveries can be matched by content.
	ListEvents(identifier string, eventType EventType) ([]Event, error)

	// RecordEvent stores an applied event under its deduplication key.
	RecordEvent(event Event) error

	// GetState returns the announcement state for an unversioned
	// identifier, or nil if the identifier is unannounced.
	GetState(identifier string) (*EprintState, error)

	// UpsertState creates or replaces the state row for an identifier.
	UpsertState(state EprintState) error

	// Reset drops all recorded events and states, ahead of a rebuild
	// from the store.
	Reset() error

	// Close closes the underlying database.
	Close() error
}
