package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"canonical-go/internal/canonical"
)

// ManifestEntry records the size and checksums of one stored resource.
// Entries can carry multiple checksums (legacy MD5 alongside SHA-256).
type ManifestEntry struct {
	Size     int64      `json:"size"`
	Checksum []Checksum `json:"checksum"`
}

// Manifest maps every resource key referenced by a record to its integrity
// entry. Serialization is deterministic: encoding/json emits map keys in
// sorted order.
type Manifest map[string]ManifestEntry

// Keys returns the manifest's keys in sorted order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode serializes the manifest for storage.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeManifest parses a stored manifest.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return m, nil
}

// Ref is a key plus the bytes stored under it, as input to manifest
// computation.
type Ref struct {
	Key  string
	Data []byte
}

// Engine computes manifests under a configured set of algorithms and
// verifies them. The primary algorithm governs what counts as corruption
// when an entry carries more than one checksum.
type Engine struct {
	algorithms []Algorithm
	primary    Algorithm
}

// NewEngine creates an Engine. algorithms lists what gets recorded in
// manifest entries; primary must be one of them and governs verification.
func NewEngine(algorithms []Algorithm, primary Algorithm) (*Engine, error) {
	if len(algorithms) == 0 {
		return nil, errors.New("at least one checksum algorithm is required")
	}
	hasPrimary := false
	for _, a := range algorithms {
		if !a.Valid() {
			return nil, fmt.Errorf("unsupported checksum algorithm: %q", a)
		}
		if a == primary {
			hasPrimary = true
		}
	}
	if !hasPrimary {
		return nil, fmt.Errorf("primary algorithm %q is not among configured algorithms", primary)
	}
	return &Engine{algorithms: algorithms, primary: primary}, nil
}

// DefaultEngine records SHA-256 and MD5, with SHA-256 governing.
func DefaultEngine() *Engine {
	return &Engine{algorithms: []Algorithm{SHA256, MD5}, primary: SHA256}
}

// Primary returns the governing algorithm.
func (e *Engine) Primary() Algorithm { return e.primary }

// Checksums computes all configured checksums of data.
func (e *Engine) Checksums(data []byte) []Checksum {
	out := make([]Checksum, 0, len(e.algorithms))
	for _, a := range e.algorithms {
		value, err := a.Digest(data)
		if err != nil {
			// Algorithms are validated at construction.
			continue
		}
		out = append(out, Checksum{Algorithm: a, Value: value})
	}
	return out
}

// ComputeManifest builds a manifest covering every ref.
func (e *Engine) ComputeManifest(refs []Ref) Manifest {
	m := make(Manifest, len(refs))
	for _, ref := range refs {
		m[ref.Key] = ManifestEntry{
			Size:     int64(len(ref.Data)),
			Checksum: e.Checksums(ref.Data),
		}
	}
	return m
}

// Status classifies the verification outcome for one key.
type Status string

const (
	StatusOK       Status = "ok"
	StatusMismatch Status = "mismatch"
	StatusMissing  Status = "missing"
)

// KeyResult is the verification outcome for one manifest key. Err is a
// *canonical.CorruptionError for mismatches, or the fetch error for keys
// that could not be read.
type KeyResult struct {
	Key    string
	Status Status
	Err    error
}

// VerificationReport is the outcome of verifying one manifest.
type VerificationReport struct {
	Results []KeyResult
}

// OK reports whether every key verified clean.
func (r VerificationReport) OK() bool {
	for _, res := range r.Results {
		if res.Status != StatusOK {
			return false
		}
	}
	return true
}

// Failures returns the results that did not verify clean.
func (r VerificationReport) Failures() []KeyResult {
	var out []KeyResult
	for _, res := range r.Results {
		if res.Status != StatusOK {
			out = append(out, res)
		}
	}
	return out
}

// Err returns nil when the report is clean, or an error wrapping
// ErrCorruptionDetected describing the first failure and the failure
// count.
func (r VerificationReport) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	first := failures[0]
	if first.Err != nil {
		return fmt.Errorf("%d of %d keys failed verification: %w", len(failures), len(r.Results), first.Err)
	}
	return fmt.Errorf("%d of %d keys failed verification, first: %s %s",
		len(failures), len(r.Results), first.Key, first.Status)
}

// Verify re-fetches every key in the manifest from the store, recomputes
// digests, and reports per-key outcomes. Verification never mutates the
// store and never repairs: mismatches are surfaced, not fixed.
//
// The governing checksum for each entry is the primary algorithm when the
// entry carries it, otherwise the first recorded checksum (legacy entries
// that predate SHA-256 stay verifiable).
func (e *Engine) Verify(ctx context.Context, m Manifest, store canonical.ResourceStore) (VerificationReport, error) {
	report := VerificationReport{Results: make([]KeyResult, 0, len(m))}
	for _, key := range m.Keys() {
		entry := m[key]
		result, err := e.verifyKey(ctx, key, entry, store)
		if err != nil {
			return report, err
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

func (e *Engine) verifyKey(ctx context.Context, key string, entry ManifestEntry, store canonical.ResourceStore) (KeyResult, error) {
	data, err := store.Get(ctx, key)
	if errors.Is(err, canonical.ErrNotFound) {
		return KeyResult{Key: key, Status: StatusMissing, Err: err}, nil
	}
	if err != nil {
		// Backend trouble is not a verification verdict; abort so the
		// caller can retry the whole run.
		return KeyResult{}, fmt.Errorf("fetching %s: %w", key, err)
	}

	governing, ok := e.governingChecksum(entry)
	if !ok {
		return KeyResult{Key: key, Status: StatusMismatch,
			Err: fmt.Errorf("manifest entry for %s has no checksum: %w", key, canonical.ErrCorruptionDetected)}, nil
	}

	actual, err := governing.Algorithm.Digest(data)
	if err != nil {
		return KeyResult{}, fmt.Errorf("digesting %s: %w", key, err)
	}
	if actual != governing.Value || int64(len(data)) != entry.Size {
		return KeyResult{Key: key, Status: StatusMismatch, Err: &canonical.CorruptionError{
			Key:       key,
			Algorithm: string(governing.Algorithm),
			Expected:  governing.Value,
			Actual:    actual,
		}}, nil
	}
	return KeyResult{Key: key, Status: StatusOK}, nil
}

func (e *Engine) governingChecksum(entry ManifestEntry) (Checksum, bool) {
	for _, c := range entry.Checksum {
		if c.Algorithm == e.primary {
			return c, true
		}
	}
	if len(entry.Checksum) > 0 {
		return entry.Checksum[0], true
	}
	return Checksum{}, false
}
