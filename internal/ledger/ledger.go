// Package ledger maintains the append-only, ordered log of announcement
// events and the per-identifier announcement state machine:
//
//	Unannounced -> Announced -> Withdrawn | superseded by next version
//
// Appends are idempotent under the (identifier, event_type, event_id)
// deduplication key, giving the upstream replication agent safe
// at-least-once delivery. Events whose predecessor state has not arrived
// fail with ErrOutOfOrderEvent; the ledger never waits for a missing
// predecessor.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"canonical-go/internal/canonical"
	"canonical-go/internal/listing"
)

// Ledger appends announcement events, materializing them into daily
// listing files and the queryable index.
type Ledger struct {
	index    canonical.LedgerIndex
	listings *listing.Builder
	store    canonical.ResourceStore
	idgen    canonical.EventIDGenerator
	logger   canonical.Logger
}

// New creates a Ledger.
func New(index canonical.LedgerIndex, listings *listing.Builder, store canonical.ResourceStore,
	idgen canonical.EventIDGenerator, logger canonical.Logger) *Ledger {
	return &Ledger{index: index, listings: listings, store: store, idgen: idgen, logger: logger}
}

// Append applies one announcement event. The returned event carries the
// assigned event id when the input had none. Replaying a previously
// appended event is a no-op returning the originally recorded event;
// an id-less redelivery is matched against recorded events by content.
func (l *Ledger) Append(ctx context.Context, event canonical.Event) (canonical.Event, error) {
	if err := event.Validate(); err != nil {
		return canonical.Event{}, err
	}

	if event.EventID == "" {
		prior, err := l.findByContent(event)
		if err != nil {
			return canonical.Event{}, err
		}
		if prior != nil {
			l.logger.Debug("event replay ignored", "event", prior.DedupKey())
			return *prior, nil
		}
		event.EventID = l.idgen.New()
	}

	recorded, err := l.index.FindEvent(event.Identifier, event.Type, event.EventID)
	if err != nil {
		return canonical.Event{}, err
	}
	if recorded != nil {
		if recorded.Equal(event) {
			l.logger.Debug("event replay ignored", "event", event.DedupKey())
			return *recorded, nil
		}
		return canonical.Event{}, fmt.Errorf("%w: event %s replayed with different content",
			canonical.ErrDuplicateAnnouncement, event.DedupKey())
	}

	state, err := l.index.GetState(event.Identifier)
	if err != nil {
		return canonical.Event{}, err
	}
	next, err := transition(state, event)
	if err != nil {
		return canonical.Event{}, err
	}

	// Listing first, index second: the listing files are the source of
	// truth, and a crash in between is healed by replaying the event
	// (the listing append deduplicates, the index records).
	if err := l.listings.Append(ctx, event); err != nil {
		return canonical.Event{}, err
	}
	if err := l.index.RecordEvent(event); err != nil {
		return canonical.Event{}, err
	}
	if err := l.index.UpsertState(next); err != nil {
		return canonical.Event{}, err
	}

	l.logger.Info("event appended",
		"identifier", event.Identifier, "version", event.Version,
		"type", string(event.Type), "event_id", event.EventID)
	return event, nil
}

// findByContent returns the recorded event that matches an id-less
// event on every field except the id, or nil. Events arrive over the
// wire without ids; without this check an at-least-once redelivery
// would get a fresh id and fail as a duplicate instead of replaying.
func (l *Ledger) findByContent(event canonical.Event) (*canonical.Event, error) {
	recorded, err := l.index.ListEvents(event.Identifier, event.Type)
	if err != nil {
		return nil, err
	}
	for i := range recorded {
		candidate := event
		candidate.EventID = recorded[i].EventID
		if recorded[i].Equal(candidate) {
			return &recorded[i], nil
		}
	}
	return nil, nil
}

// transition computes the state resulting from applying event to the
// current state (nil = unannounced). It enforces the predecessor
// requirements of each event type.
func transition(state *canonical.EprintState, event canonical.Event) (canonical.EprintState, error) {
	date := event.Timestamp.UTC().Format("2006-01-02")

	switch event.Type {
	case canonical.EventNew:
		if state != nil {
			return canonical.EprintState{}, fmt.Errorf("%w: %s is already announced at version %d",
				canonical.ErrDuplicateAnnouncement, event.Identifier, state.LatestVersion)
		}
		if event.Version != 1 {
			return canonical.EprintState{}, fmt.Errorf("%w: new event for %s has version %d, want 1",
				canonical.ErrOutOfOrderEvent, event.Identifier, event.Version)
		}
		return canonical.EprintState{
			Identifier:     event.Identifier,
			LatestVersion:  1,
			FirstAnnounced: date,
		}, nil

	case canonical.EventReplaced:
		if state == nil {
			return canonical.EprintState{}, fmt.Errorf("%w: replaced event for unannounced %s",
				canonical.ErrOutOfOrderEvent, event.Identifier)
		}
		if event.Version != state.LatestVersion+1 {
			return canonical.EprintState{}, fmt.Errorf("%w: replaced event for %s has version %d, latest announced is %d",
				canonical.ErrOutOfOrderEvent, event.Identifier, event.Version, state.LatestVersion)
		}
		next := *state
		next.LatestVersion = event.Version
		// A replacement is a fresh version; the withdrawn flag is
		// monotonic per version, not per identifier.
		next.IsWithdrawn = false
		return next, nil

	case canonical.EventWithdrawn:
		if state == nil {
			return canonical.EprintState{}, fmt.Errorf("%w: withdrawn event for unannounced %s",
				canonical.ErrOutOfOrderEvent, event.Identifier)
		}
		if event.Version > state.LatestVersion {
			return canonical.EprintState{}, fmt.Errorf("%w: withdrawn event for %s targets version %d, latest announced is %d",
				canonical.ErrOutOfOrderEvent, event.Identifier, event.Version, state.LatestVersion)
		}
		next := *state
		next.IsWithdrawn = true
		return next, nil

	case canonical.EventCrossList, canonical.EventUpdated:
		if state == nil {
			return canonical.EprintState{}, fmt.Errorf("%w: %s event for unannounced %s",
				canonical.ErrOutOfOrderEvent, event.Type, event.Identifier)
		}
		if event.Version > state.LatestVersion {
			return canonical.EprintState{}, fmt.Errorf("%w: %s event for %s targets version %d, latest announced is %d",
				canonical.ErrOutOfOrderEvent, event.Type, event.Identifier, event.Version, state.LatestVersion)
		}
		// No version change; the event only amends categories or
		// description in the day's listing.
		return *state, nil
	}

	return canonical.EprintState{}, fmt.Errorf("unknown event type: %q", event.Type)
}

// Reindex rebuilds the ledger index from the listing files in the store.
// The store is the source of truth; the index is disposable.
func (l *Ledger) Reindex(ctx context.Context) (int, error) {
	if err := l.index.Reset(); err != nil {
		return 0, err
	}

	var events []canonical.Event
	err := l.store.ListPrefix(ctx, "announcement/", func(key string) error {
		if strings.HasSuffix(key, ".manifest.json") {
			return nil
		}
		data, err := l.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		var shard listing.Shard
		if err := json.Unmarshal(data, &shard); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		events = append(events, shard.Events...)
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})

	seen := make(map[string]struct{})
	applied := 0
	for _, event := range events {
		if _, dup := seen[event.DedupKey()]; dup {
			continue
		}
		seen[event.DedupKey()] = struct{}{}

		state, err := l.index.GetState(event.Identifier)
		if err != nil {
			return applied, err
		}
		next, err := transition(state, event)
		if err != nil {
			// The store's history was valid when written; an event that
			// no longer transitions cleanly points at a damaged or
			// partially replicated listing. Surface it, don't skip it.
			return applied, fmt.Errorf("reindexing %s: %w", event.DedupKey(), err)
		}
		if err := l.index.RecordEvent(event); err != nil {
			return applied, err
		}
		if err := l.index.UpsertState(next); err != nil {
			return applied, err
		}
		applied++
	}

	l.logger.Info("ledger index rebuilt", "events", applied)
	return applied, nil
}
