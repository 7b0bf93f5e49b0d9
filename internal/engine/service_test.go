package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical-go/internal/canonical"
	"canonical-go/internal/database"
	"canonical-go/internal/integrity"
	"canonical-go/internal/ledger"
	"canonical-go/internal/listing"
	"canonical-go/internal/preservation"
	"canonical-go/internal/record"
	"canonical-go/internal/store"
	"canonical-go/internal/testutil"
)

func newTestService(t *testing.T) (*Service, canonical.ResourceStore) {
	t.Helper()
	s := store.NewMemoryStore()
	idx, err := database.NewSQLiteIndex(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	eng := integrity.DefaultEngine()
	logger := canonical.NewNopLogger()
	clock := testutil.NewStubClock(time.Date(2021, 5, 6, 12, 0, 0, 0, time.UTC))

	listings := listing.NewBuilder(s, eng, "listings", logger)
	lg := ledger.New(idx, listings, s, canonical.UUIDv7Generator{}, logger)
	assembler := record.NewAssembler(s, eng, nil, clock, logger)
	snapshots := preservation.NewSnapshotter(s, eng, logger)
	exporter := preservation.NewExporter(s, snapshots, nil, logger)

	return NewService(lg, assembler, listings, snapshots, exporter, logger), s
}

func deposit(identifier, date string) record.Deposit {
	vid, _ := canonical.ParseVersionedIdentifier(identifier)
	return record.Deposit{
		Identifier: vid,
		Metadata: canonical.Metadata{
			Title:                 "A Study of End-to-End Record Keeping",
			Authors:               "D. Depositor",
			Abstract:              "Announced once, preserved forever.",
			PrimaryClassification: "astro-ph.GA",
		},
		Source:        []byte("\\documentclass{article} % " + identifier),
		Render:        []byte("%PDF-1.5 " + identifier),
		AnnouncedDate: date,
	}
}

func TestService_AnnounceAndRetrieve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Deposit(ctx, deposit("2105.01224v1", "2021-05-06"))
	require.NoError(t, err)

	_, err = svc.AppendEvent(ctx, canonical.Event{
		Identifier: "2105.01224",
		Version:    1,
		Type:       canonical.EventNew,
		Timestamp:  time.Date(2021, 5, 6, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	rec, err := svc.GetEprint(ctx, "2105.01224v1")
	require.NoError(t, err)
	assert.Equal(t, "2105.01224v1", rec.Identifier)

	events, err := svc.GetListing(ctx, "2021-05-06", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2105.01224", events[0].Identifier)
}

func TestService_ReplacementKeepsFirstAnnouncedDate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Deposit(ctx, deposit("2105.01224v1", "2021-05-06"))
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, deposit("2105.01224v2", "2021-06-01"))
	require.NoError(t, err)

	v2, err := svc.GetEprint(ctx, "2105.01224v2")
	require.NoError(t, err)
	assert.Equal(t, "2021-06-01", v2.AnnouncedDate)
	assert.Equal(t, "2021-05-06", v2.AnnouncedDateFirst)
}

func TestService_AppendEventRejectsMalformedIdentifier(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AppendEvent(context.Background(), canonical.Event{
		Identifier: "2113.99999", // month 13
		Version:    1,
		Type:       canonical.EventNew,
		Timestamp:  time.Now(),
	})
	assert.ErrorIs(t, err, canonical.ErrInvalidIdentifier)
}

func TestService_SealThenAppendFails(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.AppendEvent(ctx, canonical.Event{
		Identifier: "2105.01224",
		Version:    1,
		Type:       canonical.EventNew,
		Timestamp:  time.Date(2021, 5, 6, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = svc.SealListing(ctx, "2021-05-06")
	require.NoError(t, err)

	_, err = svc.AppendEvent(ctx, canonical.Event{
		Identifier: "2105.09999",
		Version:    1,
		Type:       canonical.EventNew,
		Timestamp:  time.Date(2021, 5, 6, 16, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, canonical.ErrListingSealed)
}

func TestService_SuppressThenGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Deposit(ctx, deposit("2105.01224v1", "2021-05-06"))
	require.NoError(t, err)

	_, err = svc.Suppress(ctx, "2105.01224v1", "copyright takedown")
	require.NoError(t, err)

	_, err = svc.GetEprint(ctx, "2105.01224v1")
	assert.ErrorIs(t, err, canonical.ErrNotFound)

	// Suppression is idempotent.
	_, err = svc.Suppress(ctx, "2105.01224v1", "copyright takedown")
	require.NoError(t, err)
}

func TestService_SuppressUnknownVersion(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Suppress(context.Background(), "2105.01224v1", "whatever")
	assert.ErrorIs(t, err, canonical.ErrNotFound)
}

func TestService_VerifyEprint(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Deposit(ctx, deposit("2105.01224v1", "2021-05-06"))
	require.NoError(t, err)

	report, err := svc.VerifyEprint(ctx, "2105.01224v1")
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestService_SnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Deposit(ctx, deposit("2105.01224v1", "2021-05-06"))
	require.NoError(t, err)

	manifest, err := svc.CreateSnapshot(ctx, "2021-05-07")
	require.NoError(t, err)
	assert.NotEmpty(t, manifest)

	report, err := svc.VerifySnapshot(ctx, "2021-05-07")
	require.NoError(t, err)
	assert.True(t, report.OK())

	path, err := svc.ExportSnapshot(ctx, "2021-05-07", t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestService_Reindex(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.AppendEvent(ctx, canonical.Event{
		Identifier: "2105.01224",
		Version:    1,
		Type:       canonical.EventNew,
		Timestamp:  time.Date(2021, 5, 6, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	applied, err := svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}
