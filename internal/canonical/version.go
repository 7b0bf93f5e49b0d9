package canonical

import "time"

// Metadata is the descriptive record for one announced version. It is
// immutable once announced; corrections produce a new version. Optional
// fields are omitted from the JSON encoding when empty. Validation against
// the metadata schema happens at the boundary, through a
// MetadataValidator, not here.
type Metadata struct {
	Title                   string   `json:"title"`
	Authors                 string   `json:"authors"`
	Abstract                string   `json:"abstract"`
	PrimaryClassification   string   `json:"primary_classification"`
	SecondaryClassification []string `json:"secondary_classification,omitempty"`
	License                 string   `json:"license,omitempty"`
	Comments                string   `json:"comments,omitempty"`
	JournalRef              string   `json:"journal_ref,omitempty"`
	ReportNum               string   `json:"report_num,omitempty"`
	DOI                     string   `json:"doi,omitempty"`
	MSCClass                string   `json:"msc_class,omitempty"`
	ACMClass                string   `json:"acm_class,omitempty"`
}

// MetadataValidator is the external schema collaborator. The assembler
// treats it as a pass/fail oracle; a nil error means the metadata is
// acceptable.
type MetadataValidator interface {
	ValidateMetadata(meta Metadata) error
}

// BlobRef points at a stored blob belonging to a version record.
type BlobRef struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // hex digest under the primary algorithm
}

// VersionReference is a compact pointer to another version of the same
// e-print, recorded on each version so the chain can be walked without
// listing the store.
type VersionReference struct {
	Identifier    string `json:"identifier"`
	AnnouncedDate string `json:"announced_date"`
}

// VersionRecord is the canonical record for one announced e-print version.
// Invariants: AnnouncedDateFirst <= AnnouncedDate; IsWithdrawn is
// monotonic (a withdrawn version is never un-withdrawn; a correction
// produces a new version). Dates are ISO calendar dates (YYYY-MM-DD).
type VersionRecord struct {
	Identifier          string             `json:"identifier"`
	AnnouncedDate       string             `json:"announced_date"`
	AnnouncedDateFirst  string             `json:"announced_date_first"`
	UpdatedDate         time.Time          `json:"updated_date"`
	Metadata            Metadata           `json:"metadata"`
	Source              BlobRef            `json:"source"`
	Render              BlobRef            `json:"render"`
	PreviousVersions    []VersionReference `json:"previous_versions,omitempty"`
	IsWithdrawn         bool               `json:"is_withdrawn"`
	ReasonForWithdrawal string             `json:"reason_for_withdrawal,omitempty"`
	IsLegacy            bool               `json:"is_legacy"`
}

// Tombstone marks content that was suppressed or removed. It is retained
// in place of the removed content; identifiers are never destroyed.
type Tombstone struct {
	Identifier   string    `json:"identifier"`
	Reason       string    `json:"reason"`
	SuppressedAt time.Time `json:"suppressed_at"`
}
