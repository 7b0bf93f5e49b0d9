package preservation

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"canonical-go/internal/canonical"
	"canonical-go/internal/integrity"
)

// Exporter packages a committed snapshot into a single self-contained
// bundle for handoff to a third-party archive: a tar stream holding
// every covered key plus the snapshot manifest, compressed with zstd and
// optionally age-encrypted.
type Exporter struct {
	store     canonical.ResourceStore
	snapshots *Snapshotter
	encryptor canonical.Encryptor // nil for plaintext bundles
	logger    canonical.Logger
}

// NewExporter creates an Exporter. encryptor may be nil, in which case
// bundles are written unencrypted.
func NewExporter(store canonical.ResourceStore, snapshots *Snapshotter,
	encryptor canonical.Encryptor, logger canonical.Logger) *Exporter {
	return &Exporter{store: store, snapshots: snapshots, encryptor: encryptor, logger: logger}
}

// BundleName returns the file name of the exported bundle for a date.
func (e *Exporter) BundleName(date string) string {
	name := fmt.Sprintf("canonical-%s.tar.zst", date)
	if e.encryptor != nil {
		name += ".age"
	}
	return name
}

// Export writes the bundle for the date's snapshot into dir and returns
// the bundle path. The snapshot must already be committed. Keys are
// archived in manifest order, so identical snapshots produce identical
// bundles.
func (e *Exporter) Export(ctx context.Context, date, dir string) (string, error) {
	manifest, err := e.snapshots.Manifest(ctx, date)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, e.BundleName(date))

	// Build into a temp file and rename so a crashed export never leaves
	// a truncated bundle behind.
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("creating temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if e.encryptor != nil {
		var plain bytes.Buffer
		if err := e.writeArchive(ctx, &plain, date, manifest); err != nil {
			return "", err
		}
		if err := e.encryptor.Encrypt(&plain, tmp); err != nil {
			return "", fmt.Errorf("encrypting bundle: %w", err)
		}
	} else {
		if err := e.writeArchive(ctx, tmp, date, manifest); err != nil {
			return "", err
		}
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("finalizing bundle: %w", err)
	}

	e.logger.Info("snapshot exported", "date", date, "path", path, "keys", len(manifest))
	return path, nil
}

// writeArchive streams the manifest and every covered key as a
// zstd-compressed tar into w.
func (e *Exporter) writeArchive(ctx context.Context, w io.Writer, date string, manifest integrity.Manifest) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	encoded, err := manifest.Encode()
	if err != nil {
		return err
	}
	if err := e.writeEntry(tw, ManifestKey(date), encoded); err != nil {
		return err
	}

	for _, key := range manifest.Keys() {
		data, err := e.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		if err := e.writeEntry(tw, key, data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing zstd stream: %w", err)
	}
	return nil
}

func (e *Exporter) writeEntry(tw *tar.Writer, key string, data []byte) error {
	hdr := &tar.Header{
		Name:    key,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Unix(0, 0).UTC(), // fixed so identical content exports identically
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", key, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar entry for %s: %w", key, err)
	}
	return nil
}

// ReadBundle opens an exported bundle and returns its entries keyed by
// store key. decrypt must be non-nil for encrypted bundles. Intended for
// import verification on the receiving side.
func ReadBundle(path string, decrypt canonical.DecryptionContext) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if decrypt != nil {
		var plain bytes.Buffer
		if err := decrypt.Decrypt(f, &plain); err != nil {
			return nil, fmt.Errorf("decrypting bundle: %w", err)
		}
		r = &plain
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar stream: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading tar entry %s: %w", hdr.Name, err)
		}
		entries[hdr.Name] = data
	}
	return entries, nil
}
