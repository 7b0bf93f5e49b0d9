package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical-go/internal/canonical"
	"canonical-go/internal/database"
	"canonical-go/internal/integrity"
	"canonical-go/internal/listing"
	"canonical-go/internal/store"
	"canonical-go/internal/testutil"
)

func newTestLedger(t *testing.T) (*Ledger, canonical.ResourceStore) {
	t.Helper()
	s := store.NewMemoryStore()
	idx, err := database.NewSQLiteIndex(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	listings := listing.NewBuilder(s, integrity.DefaultEngine(), "test", canonical.NewNopLogger())
	return New(idx, listings, s, testutil.NewStubIDGenerator(), canonical.NewNopLogger()), s
}

func event(id, identifier string, eventType canonical.EventType, version int, ts time.Time) canonical.Event {
	return canonical.Event{
		EventID:    id,
		Identifier: identifier,
		Version:    version,
		Type:       eventType,
		Timestamp:  ts,
	}
}

var (
	day1 = time.Date(2021, 5, 6, 10, 0, 0, 0, time.UTC)
	day2 = time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
)

func TestLedger_AppendNew(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	applied, err := l.Append(ctx, event("e1", "2105.01224", canonical.EventNew, 1, day1))
	require.NoError(t, err)
	assert.Equal(t, "e1", applied.EventID)
}

func TestLedger_AppendAssignsEventID(t *testing.T) {
	l, _ := newTestLedger(t)

	applied, err := l.Append(context.Background(), event("", "2105.01224", canonical.EventNew, 1, day1))
	require.NoError(t, err)
	assert.Equal(t, "id-1", applied.EventID)
}

func TestLedger_RedeliveryWithoutEventID(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	e := event("", "2105.01224", canonical.EventNew, 1, day1)
	e.Categories = []string{"astro-ph.GA"}
	first, err := l.Append(ctx, e)
	require.NoError(t, err)
	require.NotEmpty(t, first.EventID)

	shardKey := canonical.ListingShardKey("2021-05-06", "test")
	before, err := s.Get(ctx, shardKey)
	require.NoError(t, err)

	// The upstream agent redelivers the same wire event, still without
	// an id. It must replay as a no-op under the original id.
	again, err := l.Append(ctx, e)
	require.NoError(t, err, "redelivery of an identical id-less event must be a no-op")
	assert.Equal(t, first.EventID, again.EventID)

	after, err := s.Get(ctx, shardKey)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "redelivery must leave listing content unchanged")

	// A genuinely different id-less event is not a replay.
	other := event("", "2105.01224", canonical.EventCrossList, 1, day2)
	other.Categories = []string{"hep-th"}
	applied, err := l.Append(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.EventID, applied.EventID)
}

func TestLedger_ReplayIsIdempotent(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	e := event("e1", "2105.01224", canonical.EventNew, 1, day1)
	first, err := l.Append(ctx, e)
	require.NoError(t, err)

	// Snapshot the listing content after the first append.
	shardKey := canonical.ListingShardKey("2021-05-06", "test")
	before, err := s.Get(ctx, shardKey)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := l.Append(ctx, e)
		require.NoError(t, err)
		assert.True(t, again.Equal(first))
	}

	after, err := s.Get(ctx, shardKey)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "replays must leave listing content unchanged")
}

func TestLedger_ReplayWithDifferentContent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e := event("e1", "2105.01224", canonical.EventNew, 1, day1)
	_, err := l.Append(ctx, e)
	require.NoError(t, err)

	e.Description = "tampered"
	_, err = l.Append(ctx, e)
	assert.ErrorIs(t, err, canonical.ErrDuplicateAnnouncement)
}

func TestLedger_DuplicateNew(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, event("e1", "2105.01224", canonical.EventNew, 1, day1))
	require.NoError(t, err)

	_, err = l.Append(ctx, event("e2", "2105.01224", canonical.EventNew, 1, day1))
	assert.ErrorIs(t, err, canonical.ErrDuplicateAnnouncement)
}

func TestLedger_OutOfOrderEvents(t *testing.T) {
	tests := []struct {
		name  string
		event canonical.Event
	}{
		{
			name:  "withdrawn before new",
			event: event("e1", "2105.01224", canonical.EventWithdrawn, 1, day1),
		},
		{
			name:  "replaced before new",
			event: event("e1", "2105.01224", canonical.EventReplaced, 2, day1),
		},
		{
			name:  "cross-list before new",
			event: event("e1", "2105.01224", canonical.EventCrossList, 1, day1),
		},
		{
			name:  "updated before new",
			event: event("e1", "2105.01224", canonical.EventUpdated, 1, day1),
		},
		{
			name:  "new with version 2",
			event: event("e1", "2105.01224", canonical.EventNew, 2, day1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t)
			_, err := l.Append(context.Background(), tt.event)
			assert.ErrorIs(t, err, canonical.ErrOutOfOrderEvent)
		})
	}
}

func TestLedger_ReplacedSequence(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, event("e1", "2105.01224", canonical.EventNew, 1, day1))
	require.NoError(t, err)

	// Skipping v2 is out of order.
	_, err = l.Append(ctx, event("e3", "2105.01224", canonical.EventReplaced, 3, day2))
	assert.ErrorIs(t, err, canonical.ErrOutOfOrderEvent)

	_, err = l.Append(ctx, event("e2", "2105.01224", canonical.EventReplaced, 2, day2))
	require.NoError(t, err)

	// Now v3 has its predecessor.
	_, err = l.Append(ctx, event("e3", "2105.01224", canonical.EventReplaced, 3, day2))
	require.NoError(t, err)
}

func TestLedger_WithdrawnSetsFlag(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, event("e1", "2105.01224", canonical.EventNew, 1, day1))
	require.NoError(t, err)
	_, err = l.Append(ctx, event("e2", "2105.01224", canonical.EventWithdrawn, 1, day2))
	require.NoError(t, err)

	// A replacement starts a fresh, non-withdrawn version.
	_, err = l.Append(ctx, event("e3", "2105.01224", canonical.EventReplaced, 2, day2))
	require.NoError(t, err)
}

func TestLedger_CrossListAfterNew(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, event("e1", "2105.01224", canonical.EventNew, 1, day1))
	require.NoError(t, err)

	cross := event("e2", "2105.01224", canonical.EventCrossList, 1, day2)
	cross.Categories = []string{"hep-th"}
	_, err = l.Append(ctx, cross)
	require.NoError(t, err)
}

func TestLedger_Reindex(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, event("e1", "2105.01224", canonical.EventNew, 1, day1))
	require.NoError(t, err)
	_, err = l.Append(ctx, event("e2", "2105.01224", canonical.EventReplaced, 2, day2))
	require.NoError(t, err)
	_, err = l.Append(ctx, event("e3", "2110.00001", canonical.EventNew, 1, day2))
	require.NoError(t, err)

	// Build a second ledger over the same store with a fresh index.
	idx, err := database.NewSQLiteIndex(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	listings := listing.NewBuilder(s, integrity.DefaultEngine(), "test", canonical.NewNopLogger())
	rebuilt := New(idx, listings, s, testutil.NewStubIDGenerator(), canonical.NewNopLogger())

	applied, err := rebuilt.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	// The rebuilt index enforces the same state machine.
	_, err = rebuilt.Append(ctx, event("e4", "2105.01224", canonical.EventNew, 1, day2))
	assert.ErrorIs(t, err, canonical.ErrDuplicateAnnouncement)
	_, err = rebuilt.Append(ctx, event("e5", "2105.01224", canonical.EventReplaced, 3, day2))
	require.NoError(t, err)
}
