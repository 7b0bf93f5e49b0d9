// Package engine is the orchestration layer that coordinates the ledger,
// record assembler, listing builder, and preservation components to
// perform the high-level operations needed by the CLI.
package engine

import (
	"context"
	"errors"
	"fmt"

	"canonical-go/internal/canonical"
	"canonical-go/internal/integrity"
	"canonical-go/internal/ledger"
	"canonical-go/internal/listing"
	"canonical-go/internal/preservation"
	"canonical-go/internal/record"
)

// Service exposes the record engine's operations. All identifier inputs
// are raw strings; parsing and validation happen here, before any I/O.
type Service struct {
	ledger    *ledger.Ledger
	assembler *record.Assembler
	listings  *listing.Builder
	snapshots *preservation.Snapshotter
	exporter  *preservation.Exporter
	logger    canonical.Logger
}

// NewService creates a Service with the provided components.
func NewService(lg *ledger.Ledger, assembler *record.Assembler, listings *listing.Builder,
	snapshots *preservation.Snapshotter, exporter *preservation.Exporter, logger canonical.Logger) *Service {
	return &Service{
		ledger:    lg,
		assembler: assembler,
		listings:  listings,
		snapshots: snapshots,
		exporter:  exporter,
		logger:    logger,
	}
}

// AppendEvent validates and appends one announcement event to the
// ledger. Replays of previously appended events are no-ops.
func (s *Service) AppendEvent(ctx context.Context, event canonical.Event) (canonical.Event, error) {
	if _, err := canonical.ParseIdentifier(event.Identifier); err != nil {
		return canonical.Event{}, err
	}
	return s.ledger.Append(ctx, event)
}

// Deposit assembles and commits one e-print version record.
func (s *Service) Deposit(ctx context.Context, dep record.Deposit) (*canonical.VersionRecord, error) {
	return s.assembler.Deposit(ctx, dep)
}

// GetEprint loads the committed record for a versioned identifier given
// in text form, e.g. "2105.01224v2".
func (s *Service) GetEprint(ctx context.Context, identifier string) (*canonical.VersionRecord, error) {
	vid, err := canonical.ParseVersionedIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	return s.assembler.Get(ctx, vid)
}

// GetListing returns the merged announcement listing for a day
// (YYYY-MM-DD), optionally restricted to one shard.
func (s *Service) GetListing(ctx context.Context, date, shard string) ([]canonical.Event, error) {
	return s.listings.Read(ctx, date, shard)
}

// SealListing closes a day's listing, making it immutable.
func (s *Service) SealListing(ctx context.Context, date string) (integrity.Manifest, error) {
	return s.listings.Seal(ctx, date)
}

// Suppress replaces a version's visibility with a tombstone. The stored
// bytes stay in place; the identifier is never reused.
func (s *Service) Suppress(ctx context.Context, identifier, reason string) (*canonical.Tombstone, error) {
	vid, err := canonical.ParseVersionedIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	var suppressed *canonical.SuppressedError
	if _, err := s.assembler.Get(ctx, vid); err != nil && !errors.As(err, &suppressed) {
		return nil, err
	}
	return s.assembler.Suppress(ctx, vid, reason)
}

// VerifyEprint re-checks one committed version against its manifest and
// reports per-key outcomes. Verification never repairs anything.
func (s *Service) VerifyEprint(ctx context.Context, identifier string) (integrity.VerificationReport, error) {
	vid, err := canonical.ParseVersionedIdentifier(identifier)
	if err != nil {
		return integrity.VerificationReport{}, err
	}
	return s.assembler.Verify(ctx, vid)
}

// CreateSnapshot commits the preservation snapshot for a date.
func (s *Service) CreateSnapshot(ctx context.Context, date string) (integrity.Manifest, error) {
	return s.snapshots.Create(ctx, date)
}

// VerifySnapshot re-checks every key covered by a date's snapshot.
func (s *Service) VerifySnapshot(ctx context.Context, date string) (integrity.VerificationReport, error) {
	return s.snapshots.Verify(ctx, date)
}

// ExportSnapshot packages a committed snapshot into a bundle under dir
// and returns the bundle path.
func (s *Service) ExportSnapshot(ctx context.Context, date, dir string) (string, error) {
	if s.exporter == nil {
		return "", fmt.Errorf("no exporter configured")
	}
	return s.exporter.Export(ctx, date, dir)
}

// Reindex rebuilds the ledger index from the listing files in the store
// and returns the number of events applied.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	return s.ledger.Reindex(ctx)
}
