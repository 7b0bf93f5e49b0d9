package preservation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical-go/internal/canonical"
	"canonical-go/internal/encryption"
	"canonical-go/internal/integrity"
	"canonical-go/internal/store"
)

func TestExporter_ExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	populateRecord(t, s)

	snap := newTestSnapshotter(s)
	manifest, err := snap.Create(ctx, "2021-05-07")
	require.NoError(t, err)

	exporter := NewExporter(s, snap, nil, canonical.NewNopLogger())
	path, err := exporter.Export(ctx, "2021-05-07", t.TempDir())
	require.NoError(t, err)

	entries, err := ReadBundle(path, nil)
	require.NoError(t, err)
	assert.Len(t, entries, len(manifest)+1, "every covered key plus the snapshot manifest")
	assert.Contains(t, entries, ManifestKey("2021-05-07"))

	// The bundle's content matches the store byte for byte.
	for _, key := range manifest.Keys() {
		stored, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, stored, entries[key], "bundle entry %s", key)
	}
}

func TestExporter_BundleVerifiesOffline(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	populateRecord(t, s)

	snap := newTestSnapshotter(s)
	_, err := snap.Create(ctx, "2021-05-07")
	require.NoError(t, err)

	exporter := NewExporter(s, snap, nil, canonical.NewNopLogger())
	path, err := exporter.Export(ctx, "2021-05-07", t.TempDir())
	require.NoError(t, err)

	// Rehydrate the bundle into a fresh store and verify against the
	// bundled manifest, without touching the original store.
	entries, err := ReadBundle(path, nil)
	require.NoError(t, err)

	offline := store.NewMemoryStore()
	for key, data := range entries {
		_, err := offline.Put(ctx, key, data)
		require.NoError(t, err)
	}

	bundled, err := integrity.DecodeManifest(entries[ManifestKey("2021-05-07")])
	require.NoError(t, err)
	report, err := integrity.DefaultEngine().Verify(ctx, bundled, offline)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestExporter_EncryptedBundle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	populateRecord(t, s)

	snap := newTestSnapshotter(s)
	_, err := snap.Create(ctx, "2021-05-07")
	require.NoError(t, err)

	encryptor := encryption.NewTestEncryptor()
	exporter := NewExporter(s, snap, encryptor, canonical.NewNopLogger())
	path, err := exporter.Export(ctx, "2021-05-07", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, path, ".tar.zst.age")

	// Unreadable without the decryption context.
	_, err = ReadBundle(path, nil)
	assert.Error(t, err)

	decrypt, err := encryptor.Unlock("any")
	require.NoError(t, err)
	entries, err := ReadBundle(path, decrypt)
	require.NoError(t, err)
	assert.Contains(t, entries, ManifestKey("2021-05-07"))
}

func TestExporter_ExportUnknownDate(t *testing.T) {
	s := store.NewMemoryStore()
	exporter := NewExporter(s, newTestSnapshotter(s), nil, canonical.NewNopLogger())

	_, err := exporter.Export(context.Background(), "2021-05-07", t.TempDir())
	assert.ErrorIs(t, err, canonical.ErrNotFound)
}

func TestExporter_ExportDeterministic(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	populateRecord(t, s)

	snap := newTestSnapshotter(s)
	_, err := snap.Create(ctx, "2021-05-07")
	require.NoError(t, err)

	exporter := NewExporter(s, snap, nil, canonical.NewNopLogger())
	path1, err := exporter.Export(ctx, "2021-05-07", t.TempDir())
	require.NoError(t, err)
	path2, err := exporter.Export(ctx, "2021-05-07", t.TempDir())
	require.NoError(t, err)

	first, err := ReadBundle(path1, nil)
	require.NoError(t, err)
	second, err := ReadBundle(path2, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical snapshots export identical content")
}
