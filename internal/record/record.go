// Package record assembles canonical e-print version records: metadata,
// source and render blobs, and the integrity manifest that commits them.
//
// A version exists once its manifest does. The assembler writes blobs
// first, metadata next, and the manifest last, so a crash at any point
// leaves either a fully committed version or loose blobs that the next
// deposit of the same content overwrites idempotently.
package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canonical-go/internal/canonical"
	"canonical-go/internal/integrity"
)

// Deposit is the input to assembling one version record. Source and
// Render may be empty for withdrawal versions, which carry metadata only.
type Deposit struct {
	Identifier          canonical.VersionedIdentifier
	Metadata            canonical.Metadata
	Source              []byte
	Render              []byte
	AnnouncedDate       string // YYYY-MM-DD
	IsWithdrawn         bool
	ReasonForWithdrawal string
	IsLegacy            bool
}

// Assembler builds and loads version records on top of a write-once
// store. validator may be nil, in which case metadata is accepted as-is.
type Assembler struct {
	store     canonical.ResourceStore
	engine    *integrity.Engine
	validator canonical.MetadataValidator
	clock     canonical.Clock
	logger    canonical.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(store canonical.ResourceStore, engine *integrity.Engine,
	validator canonical.MetadataValidator, clock canonical.Clock, logger canonical.Logger) *Assembler {
	return &Assembler{store: store, engine: engine, validator: validator, clock: clock, logger: logger}
}

// Deposit assembles and commits one version record. Re-depositing
// identical content is a no-op; depositing different content for a
// committed version fails with ErrConflict from the store.
//
// For versions above 1 the predecessor must already be committed: the
// announced-date-first and previous-version chain are carried over from
// it.
func (a *Assembler) Deposit(ctx context.Context, dep Deposit) (*canonical.VersionRecord, error) {
	vid := dep.Identifier
	if vid.Identifier.IsZero() || vid.Version < 1 {
		return nil, fmt.Errorf("%w: deposit lacks a versioned identifier", canonical.ErrInvalidIdentifier)
	}
	if _, err := time.Parse("2006-01-02", dep.AnnouncedDate); err != nil {
		return nil, fmt.Errorf("malformed announced date %q: %w", dep.AnnouncedDate, err)
	}
	if dep.IsWithdrawn && dep.ReasonForWithdrawal == "" {
		return nil, errors.New("withdrawal deposit lacks a reason")
	}
	if !dep.IsWithdrawn && (len(dep.Source) == 0 || len(dep.Render) == 0) {
		return nil, fmt.Errorf("deposit for %s lacks source or render content", vid)
	}
	if a.validator != nil {
		if err := a.validator.ValidateMetadata(dep.Metadata); err != nil {
			return nil, fmt.Errorf("metadata for %s rejected: %w", vid, err)
		}
	}

	rec := canonical.VersionRecord{
		Identifier:          vid.String(),
		AnnouncedDate:       dep.AnnouncedDate,
		AnnouncedDateFirst:  dep.AnnouncedDate,
		UpdatedDate:         a.clock.Now().UTC(),
		Metadata:            dep.Metadata,
		IsWithdrawn:         dep.IsWithdrawn,
		ReasonForWithdrawal: dep.ReasonForWithdrawal,
		IsLegacy:            dep.IsLegacy,
	}

	if vid.Version > 1 {
		prev, err := a.Get(ctx, canonical.VersionedIdentifier{Identifier: vid.Identifier, Version: vid.Version - 1})
		if errors.Is(err, canonical.ErrNotFound) {
			return nil, fmt.Errorf("%w: version %d of %s is not committed",
				canonical.ErrOutOfOrderEvent, vid.Version-1, vid.Identifier)
		}
		if err != nil {
			return nil, err
		}
		rec.AnnouncedDateFirst = prev.AnnouncedDateFirst
		rec.PreviousVersions = append(append([]canonical.VersionReference(nil), prev.PreviousVersions...),
			canonical.VersionReference{Identifier: prev.Identifier, AnnouncedDate: prev.AnnouncedDate})
	}

	var refs []integrity.Ref
	if len(dep.Source) > 0 {
		ref, err := a.putBlob(ctx, vid, canonical.RoleSource, dep.Source)
		if err != nil {
			return nil, err
		}
		rec.Source = ref
		key, _ := vid.Key(canonical.RoleSource)
		refs = append(refs, integrity.Ref{Key: key, Data: dep.Source})
	}
	if len(dep.Render) > 0 {
		ref, err := a.putBlob(ctx, vid, canonical.RoleRender, dep.Render)
		if err != nil {
			return nil, err
		}
		rec.Render = ref
		key, _ := vid.Key(canonical.RoleRender)
		refs = append(refs, integrity.Ref{Key: key, Data: dep.Render})
	}

	metadata, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding record for %s: %w", vid, err)
	}
	metadata = append(metadata, '\n')
	metadataKey := vid.MetadataKey()

	// UpdatedDate is the commit wall-clock time, so a retry of the same
	// deposit produces different metadata bytes. The stored bytes win:
	// a retry adopts them (and their UpdatedDate) so the manifest it
	// commits matches what is on disk.
	existing, err := a.store.Get(ctx, metadataKey)
	switch {
	case err == nil:
		var prior canonical.VersionRecord
		if err := json.Unmarshal(existing, &prior); err != nil {
			return nil, fmt.Errorf("decoding metadata %s: %w", metadataKey, err)
		}
		if !sameDeposit(prior, rec) {
			return nil, fmt.Errorf("%w: %s is already committed with different metadata",
				canonical.ErrConflict, vid)
		}
		rec = prior
		metadata = existing
	case errors.Is(err, canonical.ErrNotFound):
		if _, err := a.store.Put(ctx, metadataKey, metadata); err != nil {
			return nil, fmt.Errorf("writing metadata %s: %w", metadataKey, err)
		}
	default:
		return nil, fmt.Errorf("reading metadata %s: %w", metadataKey, err)
	}
	refs = append(refs, integrity.Ref{Key: metadataKey, Data: metadata})

	// The manifest commits the version: it goes in last, after every key
	// it covers is durable.
	manifest := a.engine.ComputeManifest(refs)
	encoded, err := manifest.Encode()
	if err != nil {
		return nil, err
	}
	manifestKey := vid.ManifestKey()
	if _, err := a.store.Put(ctx, manifestKey, encoded); err != nil {
		return nil, fmt.Errorf("committing manifest %s: %w", manifestKey, err)
	}

	a.logger.Info("version record committed",
		"identifier", vid.String(), "keys", len(manifest),
		"withdrawn", dep.IsWithdrawn)
	return &rec, nil
}

// sameDeposit reports whether two version records describe the same
// deposit. UpdatedDate is excluded from the comparison: it records when
// the commit happened, not what was committed.
func sameDeposit(a, b canonical.VersionRecord) bool {
	a.UpdatedDate, b.UpdatedDate = time.Time{}, time.Time{}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(aj, bj)
}

func (a *Assembler) putBlob(ctx context.Context, vid canonical.VersionedIdentifier, role canonical.Role, data []byte) (canonical.BlobRef, error) {
	key, err := vid.Key(role)
	if err != nil {
		return canonical.BlobRef{}, err
	}
	checksum, err := a.store.Put(ctx, key, data)
	if err != nil {
		return canonical.BlobRef{}, fmt.Errorf("writing %s %s: %w", role, key, err)
	}
	return canonical.BlobRef{Key: key, Size: int64(len(data)), Checksum: checksum}, nil
}

// Get loads a committed version record. Uncommitted versions (no
// manifest yet) and unknown versions return ErrNotFound; suppressed
// versions return an error carrying their tombstone.
func (a *Assembler) Get(ctx context.Context, vid canonical.VersionedIdentifier) (*canonical.VersionRecord, error) {
	if tomb, err := a.GetTombstone(ctx, vid); err == nil {
		return nil, &canonical.SuppressedError{Tombstone: *tomb}
	} else if !errors.Is(err, canonical.ErrNotFound) {
		return nil, err
	}

	committed, err := a.store.Exists(ctx, vid.ManifestKey())
	if err != nil {
		return nil, fmt.Errorf("checking manifest for %s: %w", vid, err)
	}
	if !committed {
		return nil, fmt.Errorf("%w: %s", canonical.ErrNotFound, vid)
	}

	data, err := a.store.Get(ctx, vid.MetadataKey())
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", vid, err)
	}
	var rec canonical.VersionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", vid, err)
	}
	return &rec, nil
}

// Manifest loads the integrity manifest of a committed version.
func (a *Assembler) Manifest(ctx context.Context, vid canonical.VersionedIdentifier) (integrity.Manifest, error) {
	data, err := a.store.Get(ctx, vid.ManifestKey())
	if errors.Is(err, canonical.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no manifest", canonical.ErrNotFound, vid)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %s: %w", vid, err)
	}
	return integrity.DecodeManifest(data)
}

// Verify re-checks every key of a committed version against its manifest.
func (a *Assembler) Verify(ctx context.Context, vid canonical.VersionedIdentifier) (integrity.VerificationReport, error) {
	manifest, err := a.Manifest(ctx, vid)
	if err != nil {
		return integrity.VerificationReport{}, err
	}
	return a.engine.Verify(ctx, manifest, a.store)
}

// Suppress replaces a version's visibility with a tombstone. The stored
// bytes are retained; the identifier is never reused. Suppressing twice
// with the same reason is idempotent.
func (a *Assembler) Suppress(ctx context.Context, vid canonical.VersionedIdentifier, reason string) (*canonical.Tombstone, error) {
	if reason == "" {
		return nil, errors.New("suppression requires a reason")
	}
	tomb := canonical.Tombstone{
		Identifier:   vid.String(),
		Reason:       reason,
		SuppressedAt: a.clock.Now().UTC(),
	}
	data, err := json.MarshalIndent(tomb, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tombstone for %s: %w", vid, err)
	}

	key := vid.TombstoneKey()
	if existing, err := a.store.Get(ctx, key); err == nil {
		var prior canonical.Tombstone
		if err := json.Unmarshal(existing, &prior); err != nil {
			return nil, fmt.Errorf("decoding tombstone %s: %w", key, err)
		}
		if prior.Reason != reason {
			return nil, fmt.Errorf("%w: %s is already suppressed for a different reason", canonical.ErrConflict, vid)
		}
		return &prior, nil
	} else if !errors.Is(err, canonical.ErrNotFound) {
		return nil, fmt.Errorf("checking tombstone %s: %w", key, err)
	}

	if _, err := a.store.Put(ctx, key, append(data, '\n')); err != nil {
		return nil, fmt.Errorf("writing tombstone %s: %w", key, err)
	}
	a.logger.Info("version suppressed", "identifier", vid.String(), "reason", reason)
	return &tomb, nil
}

// GetTombstone loads the tombstone for a suppressed version, or
// ErrNotFound when the version is not suppressed.
func (a *Assembler) GetTombstone(ctx context.Context, vid canonical.VersionedIdentifier) (*canonical.Tombstone, error) {
	data, err := a.store.Get(ctx, vid.TombstoneKey())
	if err != nil {
		return nil, err
	}
	var tomb canonical.Tombstone
	if err := json.Unmarshal(data, &tomb); err != nil {
		return nil, fmt.Errorf("decoding tombstone for %s: %w", vid, err)
	}
	return &tomb, nil
}
