// Package integrity computes and verifies the checksums and manifests
// that make corruption in the canonical record detectable.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Algorithm names a supported digest algorithm, as spelled in manifest
// entries. SHA-256 is the canonical algorithm; MD5 exists because the
// legacy record was checksummed with it and those entries must remain
// verifiable.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA256 Algorithm = "SHA-256"
)

// Valid reports whether the algorithm is supported.
func (a Algorithm) Valid() bool { return a == MD5 || a == SHA256 }

// Digest returns the lowercase hex digest of data under the algorithm.
func (a Algorithm) Digest(data []byte) (string, error) {
	switch a {
	case MD5:
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:]), nil
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	}
	return "", fmt.Errorf("unsupported checksum algorithm: %q", a)
}

// Checksum is one algorithm/value pair within a manifest entry.
type Checksum struct {
	Algorithm Algorithm `json:"algorithm"`
	Value     string    `json:"value"`
}
