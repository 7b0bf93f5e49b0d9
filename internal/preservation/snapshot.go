// Package preservation builds point-in-time snapshots of the canonical
// record for third-party archiving, and verifies them.
//
// A snapshot is a manifest over every stored key of the record as of a
// calendar date: e-print blobs and metadata, announcement listings, and
// suppression tombstones. The snapshot manifest is itself written to the
// store under the preservation/ prefix, so a snapshot can be verified
// later with nothing but the store and the date.
package preservation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"canonical-go/internal/canonical"
	"canonical-go/internal/integrity"
)

// snapshotPrefixes are the key prefixes a snapshot covers. Everything
// the record engine writes lives under one of these.
var snapshotPrefixes = []string{"e-prints/", "announcement/", "suppress/"}

// Snapshotter builds and verifies preservation snapshots.
type Snapshotter struct {
	store  canonical.ResourceStore
	engine *integrity.Engine
	logger canonical.Logger
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(store canonical.ResourceStore, engine *integrity.Engine, logger canonical.Logger) *Snapshotter {
	return &Snapshotter{store: store, engine: engine, logger: logger}
}

// ManifestKey returns the storage key of the snapshot manifest for a
// date (YYYY-MM-DD).
func ManifestKey(date string) string {
	return fmt.Sprintf("preservation/%s/preservation.manifest.json", date)
}

// Create builds the snapshot for a date: it enumerates every record key,
// digests the content, and commits the combined manifest. Listing shards
// of unsealed days are excluded: they are still mutable and would turn
// an ordinary append into a false corruption report on Verify. They are
// covered by a later snapshot, once their day is sealed. Creating the
// same date again over unchanged content is idempotent; if the record
// grew since the first snapshot the write-once store rejects the new
// manifest with ErrConflict, and the snapshot belongs under a new date.
func (s *Snapshotter) Create(ctx context.Context, date string) (integrity.Manifest, error) {
	keys, err := s.snapshotKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: nothing to snapshot", canonical.ErrNotFound)
	}

	var refs []integrity.Ref
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		refs = append(refs, integrity.Ref{Key: key, Data: data})
	}

	manifest := s.engine.ComputeManifest(refs)
	encoded, err := manifest.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Put(ctx, ManifestKey(date), encoded); err != nil {
		return nil, fmt.Errorf("committing snapshot %s: %w", date, err)
	}

	s.logger.Info("preservation snapshot created", "date", date, "keys", len(manifest))
	return manifest, nil
}

// snapshotKeys enumerates the keys a snapshot covers. A day's listing
// shards are included only once the day carries its seal manifest;
// before that the shard files may still legitimately change.
func (s *Snapshotter) snapshotKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for _, prefix := range snapshotPrefixes {
		err := s.store.ListPrefix(ctx, prefix, func(key string) error {
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sealedDays := make(map[string]bool)
	for _, key := range keys {
		if strings.HasPrefix(key, "announcement/") && strings.HasSuffix(key, ".manifest.json") {
			sealedDays[key[:strings.LastIndex(key, "/")+1]] = true
		}
	}

	var covered []string
	for _, key := range keys {
		if strings.HasPrefix(key, "announcement/") && !strings.HasSuffix(key, ".manifest.json") &&
			!sealedDays[key[:strings.LastIndex(key, "/")+1]] {
			continue
		}
		covered = append(covered, key)
	}
	return covered, nil
}

// Manifest loads the snapshot manifest for a date.
func (s *Snapshotter) Manifest(ctx context.Context, date string) (integrity.Manifest, error) {
	data, err := s.store.Get(ctx, ManifestKey(date))
	if errors.Is(err, canonical.ErrNotFound) {
		return nil, fmt.Errorf("%w: no snapshot for %s", canonical.ErrNotFound, date)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot manifest for %s: %w", date, err)
	}
	return integrity.DecodeManifest(data)
}

// Verify re-fetches every key covered by the date's snapshot and checks
// it against the recorded checksums. It reports per-key outcomes and
// never repairs anything.
func (s *Snapshotter) Verify(ctx context.Context, date string) (integrity.VerificationReport, error) {
	manifest, err := s.Manifest(ctx, date)
	if err != nil {
		return integrity.VerificationReport{}, err
	}
	report, err := s.engine.Verify(ctx, manifest, s.store)
	if err != nil {
		return report, err
	}

	if report.OK() {
		s.logger.Info("snapshot verified clean", "date", date, "keys", len(report.Results))
	} else {
		s.logger.Error("snapshot verification found damage",
			"date", date, "failures", len(report.Failures()))
	}
	return report, nil
}

// Dates returns the dates of all committed snapshots in ascending order.
func (s *Snapshotter) Dates(ctx context.Context) ([]string, error) {
	var dates []string
	err := s.store.ListPrefix(ctx, "preservation/", func(key string) error {
		parts := strings.Split(key, "/")
		if len(parts) == 3 && parts[2] == "preservation.manifest.json" {
			dates = append(dates, parts[1])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dates, nil
}
