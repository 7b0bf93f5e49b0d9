// Package app is the application layer between the CLI and the record
// engine service. It constructs all components from config and manages
// resource lifecycles on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"canonical-go/internal/canonical"
	"canonical-go/internal/config"
	"canonical-go/internal/database"
	"canonical-go/internal/encryption"
	"canonical-go/internal/engine"
	"canonical-go/internal/integrity"
	"canonical-go/internal/ledger"
	"canonical-go/internal/listing"
	"canonical-go/internal/preservation"
	"canonical-go/internal/record"
	"canonical-go/internal/store"
)

// CanonApp wires the record engine from config and exposes its service
// to the CLI. The caller must call Close when done.
type CanonApp struct {
	cfg       *config.Config
	index     canonical.LedgerIndex
	store     canonical.ResourceStore
	encryptor canonical.Encryptor
	service   *engine.Service
	logFile   *os.File
}

// NewCanonApp creates a fully wired CanonApp from the given config.
// operation identifies the CLI command being run (e.g. "Append",
// "Verify") and tags every log line of the run.
func NewCanonApp(ctx context.Context, cfg *config.Config, operation string) (*CanonApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	index, err := database.NewIndexFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating ledger index: %w", err)
	}

	eng, err := newEngineFromConfig(cfg.Integrity)
	if err != nil {
		index.Close()
		return nil, err
	}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), operation)
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	listings := listing.NewBuilder(st, eng, cfg.Listing.Shard, logger)
	lg := ledger.New(index, listings, st, canonical.UUIDv7Generator{}, logger)
	assembler := record.NewAssembler(st, eng, nil, canonical.RealClock{}, logger)
	snapshots := preservation.NewSnapshotter(st, eng, logger)

	var exportEncryptor canonical.Encryptor
	if cfg.Snapshot.Encrypt {
		if !encryptor.IsConfigured() {
			index.Close()
			logFile.Close()
			return nil, fmt.Errorf("snapshot encryption enabled but keys are not set up (run `canon keys init`)")
		}
		exportEncryptor = encryptor
	}
	exporter := preservation.NewExporter(st, snapshots, exportEncryptor, logger)

	svc := engine.NewService(lg, assembler, listings, snapshots, exporter, logger)

	return &CanonApp{
		cfg:       cfg,
		index:     index,
		store:     st,
		encryptor: encryptor,
		service:   svc,
		logFile:   logFile,
	}, nil
}

// newEngineFromConfig builds the integrity engine from config strings.
func newEngineFromConfig(cfg config.IntegrityConfig) (*integrity.Engine, error) {
	if len(cfg.Algorithms) == 0 {
		return integrity.DefaultEngine(), nil
	}
	algorithms := make([]integrity.Algorithm, len(cfg.Algorithms))
	for i, a := range cfg.Algorithms {
		algorithms[i] = integrity.Algorithm(a)
	}
	primary := integrity.Algorithm(cfg.Primary)
	if cfg.Primary == "" {
		primary = algorithms[0]
	}
	eng, err := integrity.NewEngine(algorithms, primary)
	if err != nil {
		return nil, fmt.Errorf("configuring integrity engine: %w", err)
	}
	return eng, nil
}

// Service returns the wired record engine service.
func (a *CanonApp) Service() *engine.Service { return a.service }

// SetupKeys generates the export encryption key pair, encrypting the
// private key with the passphrase.
func (a *CanonApp) SetupKeys(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist at configured paths")
	}
	return a.encryptor.Setup(passphrase)
}

// ExportDir returns the configured snapshot export directory.
func (a *CanonApp) ExportDir() string { return a.cfg.Snapshot.ExportDir }

// Close releases the ledger index and the log file.
func (a *CanonApp) Close() error {
	var firstErr error
	if err := a.index.Close(); err != nil {
		firstErr = fmt.Errorf("closing ledger index: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
