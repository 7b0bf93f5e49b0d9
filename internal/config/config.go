package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for the canonical record engine.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Store      StoreConfig      `toml:"store"`
	Database   DatabaseConfig   `toml:"database"`
	Integrity  IntegrityConfig  `toml:"integrity"`
	Listing    ListingConfig    `toml:"listing"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// StoreConfig represents configuration for the resource store backend.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// DatabaseConfig represents configuration for the ledger index database.
// The index is a rebuildable cache over the store; losing it costs a
// reindex, not data.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// IntegrityConfig selects the checksum algorithms recorded in manifests
// and the one that governs corruption detection.
type IntegrityConfig struct {
	Algorithms []string `toml:"algorithms"` // e.g. ["SHA-256", "MD5"]
	Primary    string   `toml:"primary"`    // must be listed in Algorithms
}

// ListingConfig holds the daily listing writer settings. Shard names this
// writer's shard; concurrent writers coordinate only by owning distinct
// shard names.
type ListingConfig struct {
	Shard string `toml:"shard"`
}

// SnapshotConfig holds preservation snapshot settings.
type SnapshotConfig struct {
	ExportDir string `toml:"export_dir,omitempty"`
	Encrypt   bool   `toml:"encrypt"` // age-encrypt exported bundles
}

// EncryptionConfig holds paths to the age key pair used for snapshot
// export encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with the provided base directory and
// sensible defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "record"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Integrity: IntegrityConfig{
			Algorithms: []string{"SHA-256", "MD5"},
			Primary:    "SHA-256",
		},
		Listing: ListingConfig{Shard: "listings"},
		Snapshot: SnapshotConfig{
			ExportDir: filepath.Join(baseDir, "export"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "canon.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "canon.key"),
		},
	}
}

// Validate checks the parts of the config that every command depends on.
// Backend-specific requirements are checked by the respective factories.
func (c *Config) Validate() error {
	if c.Store.Type == "" {
		return fmt.Errorf("store.type is required")
	}
	if c.Listing.Shard == "" {
		return fmt.Errorf("listing.shard is required")
	}
	if len(c.Integrity.Algorithms) == 0 {
		return fmt.Errorf("integrity.algorithms must list at least one algorithm")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
