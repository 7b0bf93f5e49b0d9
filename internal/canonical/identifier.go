package canonical

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Identifier is an e-print identifier. It supports both the modern numeric
// form (YYMM.NNNNN) and the legacy archive-scoped form (archive/YYMMNNN,
// optionally with a subject class like math.GT/0309136).
//
// Identifiers are immutable values; two identifiers are equal iff their
// parsed components are equal, so parse(format(x)) == x holds.
type Identifier struct {
	archive string // empty for modern identifiers
	yy      int    // two-digit year component
	month   int
	num     int // incremental part
	width   int // digit width of the incremental part as written
}

// VersionedIdentifier is an Identifier plus a version number >= 1.
type VersionedIdentifier struct {
	Identifier
	Version int
}

var (
	modernPattern   = regexp.MustCompile(`^(\d{2})(\d{2})\.(\d{4,5})$`)
	oldStylePattern = regexp.MustCompile(`^([a-z][a-z-]*(?:\.[A-Z]{2})?)/(\d{2})(\d{2})(\d{3})$`)
)

// ParseIdentifier parses an unversioned identifier.
// Returns ErrInvalidIdentifier for anything that does not match either
// identifier scheme or has a month outside 01-12.
func ParseIdentifier(text string) (Identifier, error) {
	if m := modernPattern.FindStringSubmatch(text); m != nil {
		return newIdentifier("", m[1], m[2], m[3])
	}
	if m := oldStylePattern.FindStringSubmatch(text); m != nil {
		return newIdentifier(m[1], m[2], m[3], m[4])
	}
	return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, text)
}

// ParseVersionedIdentifier parses an identifier with a trailing vN part,
// e.g. "2105.01224v2" or "hep-th/9901001v1".
func ParseVersionedIdentifier(text string) (VersionedIdentifier, error) {
	i := strings.LastIndex(text, "v")
	if i <= 0 || i == len(text)-1 {
		return VersionedIdentifier{}, fmt.Errorf("%w: %q lacks a version part", ErrInvalidIdentifier, text)
	}
	version, err := strconv.Atoi(text[i+1:])
	if err != nil || version < 1 {
		return VersionedIdentifier{}, fmt.Errorf("%w: %q has a malformed version part", ErrInvalidIdentifier, text)
	}
	id, err := ParseIdentifier(text[:i])
	if err != nil {
		return VersionedIdentifier{}, err
	}
	return VersionedIdentifier{Identifier: id, Version: version}, nil
}

func newIdentifier(archive, yy, mm, num string) (Identifier, error) {
	year, _ := strconv.Atoi(yy)
	month, _ := strconv.Atoi(mm)
	n, _ := strconv.Atoi(num)
	if month < 1 || month > 12 {
		if archive == "" {
			return Identifier{}, fmt.Errorf("%w: month %q out of range", ErrInvalidIdentifier, mm)
		}
		return Identifier{}, fmt.Errorf("%w: month %q out of range in %s/%s%s%s", ErrInvalidIdentifier, mm, archive, yy, mm, num)
	}
	return Identifier{archive: archive, yy: year, month: month, num: n, width: len(num)}, nil
}

// IsOldStyle reports whether this is a legacy archive-scoped identifier.
func (id Identifier) IsOldStyle() bool { return id.archive != "" }

// Archive returns the archive part of a legacy identifier, or "" for
// modern identifiers.
func (id Identifier) Archive() string { return id.archive }

// Year returns the four-digit announcement year. Two-digit years above 90
// belong to the 1900s; the modern scheme started in 2007.
func (id Identifier) Year() int {
	if id.yy > 90 {
		return 1900 + id.yy
	}
	return 2000 + id.yy
}

// Month returns the announcement month (1-12).
func (id Identifier) Month() int { return id.month }

// IncrementalPart returns the sequence number within the month.
func (id Identifier) IncrementalPart() int { return id.num }

// String formats the identifier in its canonical text form.
func (id Identifier) String() string {
	if id.IsOldStyle() {
		return fmt.Sprintf("%s/%02d%02d%0*d", id.archive, id.yy, id.month, id.width, id.num)
	}
	return fmt.Sprintf("%02d%02d.%0*d", id.yy, id.month, id.width, id.num)
}

// numericPart is the identifier text without the archive prefix. For
// modern identifiers it equals String().
func (id Identifier) numericPart() string {
	if id.IsOldStyle() {
		return fmt.Sprintf("%02d%02d%0*d", id.yy, id.month, id.width, id.num)
	}
	return id.String()
}

// IsZero reports whether the identifier is the zero value.
func (id Identifier) IsZero() bool { return id == Identifier{} }

// Compare orders identifiers chronologically, then by archive, then by
// sequence number. Legacy and modern identifiers interleave by year/month.
func (id Identifier) Compare(other Identifier) int {
	if c := compareInts(id.Year(), other.Year()); c != 0 {
		return c
	}
	if c := compareInts(id.month, other.month); c != 0 {
		return c
	}
	if c := strings.Compare(id.archive, other.archive); c != 0 {
		return c
	}
	return compareInts(id.num, other.num)
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String formats the versioned identifier, e.g. "2105.01224v2".
func (v VersionedIdentifier) String() string {
	return fmt.Sprintf("%sv%d", v.Identifier.String(), v.Version)
}

// Compare orders by identifier, then numerically by version.
func (v VersionedIdentifier) Compare(other VersionedIdentifier) int {
	if c := v.Identifier.Compare(other.Identifier); c != 0 {
		return c
	}
	return compareInts(v.Version, other.Version)
}

// Storage key scheme. All keys are backend-agnostic path strings:
//
//	e-prints/<YYYY>/<MM>/<id>/v<N>/<id>v<N>.json           metadata
//	e-prints/<YYYY>/<MM>/<id>/v<N>/<id>v<N>.tar            source
//	e-prints/<YYYY>/<MM>/<id>/v<N>/<id>v<N>.pdf            render
//	e-prints/<YYYY>/<MM>/<id>/v<N>/<id>v<N>.manifest.json  manifest
//	announcement/<YYYY>/<MM>/<DD>/<shard>.json             listing shard
//	suppress/<id>v<N>/tombstone                            tombstone
//
// For legacy identifiers the <id> path segment is split into
// <archive>/<numeric part>, and file names use the numeric part only, so
// keys never need escaping on any backend.

// Role tags the kind of resource a key addresses within a version record.
type Role string

const (
	RoleMetadata Role = "metadata"
	RoleSource   Role = "source"
	RoleRender   Role = "render"
	RoleManifest Role = "manifest"
)

var roleSuffix = map[Role]string{
	RoleMetadata: ".json",
	RoleSource:   ".tar",
	RoleRender:   ".pdf",
	RoleManifest: ".manifest.json",
}

// EprintPrefix returns the key prefix under which every version of this
// e-print is stored.
func (id Identifier) EprintPrefix() string {
	datePart := fmt.Sprintf("e-prints/%d/%02d", id.Year(), id.month)
	if id.IsOldStyle() {
		return fmt.Sprintf("%s/%s/%s", datePart, id.archive, id.numericPart())
	}
	return fmt.Sprintf("%s/%s", datePart, id.String())
}

// VersionPrefix returns the key prefix for one version of the e-print.
func (v VersionedIdentifier) VersionPrefix() string {
	return fmt.Sprintf("%s/v%d", v.Identifier.EprintPrefix(), v.Version)
}

// Key returns the storage key for the given role of this version.
func (v VersionedIdentifier) Key(role Role) (string, error) {
	suffix, ok := roleSuffix[role]
	if !ok {
		return "", fmt.Errorf("unknown resource role: %q", role)
	}
	return fmt.Sprintf("%s/%sv%d%s", v.VersionPrefix(), v.numericPart(), v.Version, suffix), nil
}

// MetadataKey is Key(RoleMetadata) without the error return; the role is
// statically valid.
func (v VersionedIdentifier) MetadataKey() string {
	k, _ := v.Key(RoleMetadata)
	return k
}

// ManifestKey is Key(RoleManifest) without the error return.
func (v VersionedIdentifier) ManifestKey() string {
	k, _ := v.Key(RoleManifest)
	return k
}

// TombstoneKey returns the key of the suppression tombstone for this
// version.
func (v VersionedIdentifier) TombstoneKey() string {
	return fmt.Sprintf("suppress/%sv%d/tombstone", v.Identifier.String(), v.Version)
}

// ListingPrefix returns the key prefix for a day's listing shards.
// date must be in ISO form (YYYY-MM-DD).
func ListingPrefix(date string) string {
	return "announcement/" + strings.ReplaceAll(date, "-", "/") + "/"
}

// ListingShardKey returns the key of one shard file within a day.
func ListingShardKey(date, shard string) string {
	return ListingPrefix(date) + shard + ".json"
}

// ListingManifestKey returns the key of the manifest that seals a day.
func ListingManifestKey(date string) string {
	return ListingPrefix(date) + date + ".manifest.json"
}
