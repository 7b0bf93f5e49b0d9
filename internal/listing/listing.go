// Package listing materializes announcement events into per-day,
// per-shard listing files and merges them back on read.
//
// Each writer process owns exactly one shard name and only ever rewrites
// its own shard file, so concurrent writers need no cross-process lock.
// A day becomes immutable when Seal writes its manifest; reads are the
// deduplicated, timestamp-ordered union of all shard files.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"canonical-go/internal/canonical"
	"canonical-go/internal/integrity"
)

// Shard is the stored form of one shard file within a day.
type Shard struct {
	Date   string            `json:"date"`
	Shard  string            `json:"shard"`
	Events []canonical.Event `json:"events"`
}

// Builder appends events to this writer's shard of the current day and
// merges whole days on read.
type Builder struct {
	store  canonical.ResourceStore
	engine *integrity.Engine
	shard  string
	logger canonical.Logger
}

// NewBuilder creates a Builder writing to the named shard.
func NewBuilder(store canonical.ResourceStore, engine *integrity.Engine, shard string, logger canonical.Logger) *Builder {
	return &Builder{store: store, engine: engine, shard: shard, logger: logger}
}

// Append adds an event to this writer's shard file for the event's day.
// Appending the same event again is a no-op. Appending to a sealed day
// fails with ErrListingSealed; corrections to closed days go through a
// separate path, never through the daily builder.
func (b *Builder) Append(ctx context.Context, event canonical.Event) error {
	date := event.Timestamp.UTC().Format("2006-01-02")

	sealed, err := b.Sealed(ctx, date)
	if err != nil {
		return err
	}
	if sealed {
		return fmt.Errorf("%w: %s", canonical.ErrListingSealed, date)
	}

	shard, err := b.readShard(ctx, date)
	if err != nil {
		return err
	}

	for _, existing := range shard.Events {
		if existing.DedupKey() == event.DedupKey() {
			// Replay of an event already in this shard.
			return nil
		}
	}

	shard.Events = append(shard.Events, event)
	data, err := json.MarshalIndent(shard, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding shard: %w", err)
	}

	key := canonical.ListingShardKey(date, b.shard)
	if err := b.store.Update(ctx, key, append(data, '\n')); err != nil {
		return fmt.Errorf("writing shard %s: %w", key, err)
	}

	b.logger.Debug("event appended to listing", "key", key, "event", event.DedupKey())
	return nil
}

func (b *Builder) readShard(ctx context.Context, date string) (*Shard, error) {
	key := canonical.ListingShardKey(date, b.shard)
	data, err := b.store.Get(ctx, key)
	if errors.Is(err, canonical.ErrNotFound) {
		return &Shard{Date: date, Shard: b.shard}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading shard %s: %w", key, err)
	}

	var shard Shard
	if err := json.Unmarshal(data, &shard); err != nil {
		return nil, fmt.Errorf("decoding shard %s: %w", key, err)
	}
	return &shard, nil
}

// Sealed reports whether the day has been closed.
func (b *Builder) Sealed(ctx context.Context, date string) (bool, error) {
	ok, err := b.store.Exists(ctx, canonical.ListingManifestKey(date))
	if err != nil {
		return false, fmt.Errorf("checking seal for %s: %w", date, err)
	}
	return ok, nil
}

// Seal closes a day by computing and writing a manifest over all of its
// shard files. Sealing an already-sealed day with unchanged content is
// idempotent; if shards changed since the first seal the write-once store
// rejects the new manifest with ErrConflict.
func (b *Builder) Seal(ctx context.Context, date string) (integrity.Manifest, error) {
	refs, err := b.shardRefs(ctx, date)
	if err != nil {
		return nil, err
	}

	manifest := b.engine.ComputeManifest(refs)
	data, err := manifest.Encode()
	if err != nil {
		return nil, err
	}

	key := canonical.ListingManifestKey(date)
	if _, err := b.store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("sealing %s: %w", date, err)
	}

	b.logger.Info("listing day sealed", "date", date, "shards", len(refs))
	return manifest, nil
}

// shardRefs fetches every shard file of a day, excluding the day manifest
// itself.
func (b *Builder) shardRefs(ctx context.Context, date string) ([]integrity.Ref, error) {
	manifestKey := canonical.ListingManifestKey(date)

	var refs []integrity.Ref
	err := b.store.ListPrefix(ctx, canonical.ListingPrefix(date), func(key string) error {
		if key == manifestKey || strings.HasSuffix(key, ".manifest.json") {
			return nil
		}
		data, err := b.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		refs = append(refs, integrity.Ref{Key: key, Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Read returns the merged listing for a day: the union of all shard
// files, deduplicated and ordered by event timestamp. shardFilter
// restricts the result to one shard name; pass "" for all shards.
// Merging is a pure read-side operation and works the same whether or
// not the day is sealed.
func (b *Builder) Read(ctx context.Context, date, shardFilter string) ([]canonical.Event, error) {
	var events []canonical.Event
	seen := make(map[string]struct{})

	err := b.store.ListPrefix(ctx, canonical.ListingPrefix(date), func(key string) error {
		if strings.HasSuffix(key, ".manifest.json") {
			return nil
		}
		data, err := b.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}

		var shard Shard
		if err := json.Unmarshal(data, &shard); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		if shardFilter != "" && shard.Shard != shardFilter {
			return nil
		}

		for _, event := range shard.Events {
			if _, dup := seen[event.DedupKey()]; dup {
				continue
			}
			seen[event.DedupKey()] = struct{}{}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})
	return events, nil
}
