package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"canonical-go/internal/app"
	"canonical-go/internal/canonical"
	"canonical-go/internal/config"
	"canonical-go/internal/integrity"
	"canonical-go/internal/record"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a CanonApp. The caller must defer
// app.Close(). operation identifies the CLI command being run.
func newApp(operation string) (*app.CanonApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewCanonApp(rootCmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "canon",
	Short: "Canonical e-print record engine",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s\n", cfg.Store.Type)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Shard:      %s\n", cfg.Listing.Shard)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage export encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the export encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Print("Passphrase for private key: ")
		passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if len(passphrase) == 0 {
			return fmt.Errorf("passphrase must not be empty")
		}

		if err := a.SetupKeys(string(passphrase)); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}

		fmt.Println("Export encryption keys generated.")
		return nil
	},
}

// append command
var appendCmd = &cobra.Command{
	Use:   "append [FILE]",
	Short: "Append announcement events from a JSON-lines file (or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AppendEvent")
		if err != nil {
			return err
		}
		defer a.Close()

		var in io.Reader = os.Stdin
		if len(args) > 0 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening events file: %w", err)
			}
			defer f.Close()
			in = f
		}

		appended, deferred := 0, 0
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var event canonical.Event
			if err := json.Unmarshal(line, &event); err != nil {
				return fmt.Errorf("decoding event: %w", err)
			}

			_, err := a.Service().AppendEvent(cmd.Context(), event)
			if errors.Is(err, canonical.ErrOutOfOrderEvent) {
				// The predecessor has not arrived; re-run append later.
				fmt.Fprintf(os.Stderr, "deferred: %s\n", err)
				deferred++
				continue
			}
			if err != nil {
				return err
			}
			appended++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading events: %w", err)
		}

		fmt.Printf("Appended %d event(s), %d deferred\n", appended, deferred)
		return nil
	},
}

// deposit command
var depositCmd = &cobra.Command{
	Use:   "deposit IDENTIFIER",
	Short: "Assemble and commit one e-print version record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vid, err := canonical.ParseVersionedIdentifier(args[0])
		if err != nil {
			return err
		}

		metadataPath, _ := cmd.Flags().GetString("metadata")
		sourcePath, _ := cmd.Flags().GetString("source")
		renderPath, _ := cmd.Flags().GetString("render")
		date, _ := cmd.Flags().GetString("date")
		withdrawn, _ := cmd.Flags().GetBool("withdrawn")
		reason, _ := cmd.Flags().GetString("reason")
		legacy, _ := cmd.Flags().GetBool("legacy")

		metadataRaw, err := os.ReadFile(metadataPath)
		if err != nil {
			return fmt.Errorf("reading metadata file: %w", err)
		}
		var metadata canonical.Metadata
		if err := json.Unmarshal(metadataRaw, &metadata); err != nil {
			return fmt.Errorf("decoding metadata: %w", err)
		}

		dep := record.Deposit{
			Identifier:          vid,
			Metadata:            metadata,
			AnnouncedDate:       date,
			IsWithdrawn:         withdrawn,
			ReasonForWithdrawal: reason,
			IsLegacy:            legacy,
		}
		if sourcePath != "" {
			if dep.Source, err = os.ReadFile(sourcePath); err != nil {
				return fmt.Errorf("reading source file: %w", err)
			}
		}
		if renderPath != "" {
			if dep.Render, err = os.ReadFile(renderPath); err != nil {
				return fmt.Errorf("reading render file: %w", err)
			}
		}

		a, err := newApp("Deposit")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Service().Deposit(cmd.Context(), dep)
		if err != nil {
			return fmt.Errorf("deposit failed: %w", err)
		}

		fmt.Printf("Committed %s (announced %s, first announced %s)\n",
			rec.Identifier, rec.AnnouncedDate, rec.AnnouncedDateFirst)
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get IDENTIFIER",
	Short: "Print the committed record for a versioned identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetEprint")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Service().GetEprint(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

// listing command
var listingCmd = &cobra.Command{
	Use:   "listing DATE",
	Short: "Print the merged announcement listing for a day (YYYY-MM-DD)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		shard, _ := cmd.Flags().GetString("shard")

		a, err := newApp("GetListing")
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.Service().GetListing(cmd.Context(), args[0], shard)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No announcements.")
			return nil
		}
		for _, e := range events {
			fmt.Printf("%s  %-10s  %sv%d\n",
				e.Timestamp.UTC().Format(time.RFC3339), e.Type, e.Identifier, e.Version)
		}
		return nil
	},
}

// seal command
var sealCmd = &cobra.Command{
	Use:   "seal DATE",
	Short: "Seal a day's listing, making it immutable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SealListing")
		if err != nil {
			return err
		}
		defer a.Close()

		manifest, err := a.Service().SealListing(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("sealing %s: %w", args[0], err)
		}

		fmt.Printf("Sealed %s (%d shard file(s))\n", args[0], len(manifest))
		return nil
	},
}

// suppress command
var suppressCmd = &cobra.Command{
	Use:   "suppress IDENTIFIER",
	Short: "Replace a version's visibility with a tombstone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			return fmt.Errorf("--reason is required")
		}

		a, err := newApp("Suppress")
		if err != nil {
			return err
		}
		defer a.Close()

		tomb, err := a.Service().Suppress(cmd.Context(), args[0], reason)
		if err != nil {
			return err
		}

		fmt.Printf("Suppressed %s at %s\n", tomb.Identifier, tomb.SuppressedAt.Format(time.RFC3339))
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify IDENTIFIER",
	Short: "Verify a committed version against its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("VerifyEprint")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Service().VerifyEprint(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printReport(report)
		if !report.OK() {
			return fmt.Errorf("verification failed for %s", args[0])
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage preservation snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create DATE",
	Short: "Commit the preservation snapshot for a date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CreateSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		manifest, err := a.Service().CreateSnapshot(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("creating snapshot: %w", err)
		}

		fmt.Printf("Snapshot %s covers %d key(s)\n", args[0], len(manifest))
		return nil
	},
}

var snapshotVerifyCmd = &cobra.Command{
	Use:   "verify DATE",
	Short: "Verify every key covered by a date's snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("VerifySnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Service().VerifySnapshot(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printReport(report)
		if !report.OK() {
			return fmt.Errorf("snapshot %s failed verification", args[0])
		}
		return nil
	},
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export DATE",
	Short: "Package a committed snapshot into an archive bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")

		a, err := newApp("ExportSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if dir == "" {
			dir = a.ExportDir()
		}
		path, err := a.Service().ExportSnapshot(cmd.Context(), args[0], dir)
		if err != nil {
			return fmt.Errorf("exporting snapshot: %w", err)
		}

		fmt.Printf("Exported %s\n", path)
		return nil
	},
}

// reindex command
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the ledger index from the stored listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Reindex")
		if err != nil {
			return err
		}
		defer a.Close()

		applied, err := a.Service().Reindex(cmd.Context())
		if err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}

		fmt.Printf("Reindexed %d event(s)\n", applied)
		return nil
	},
}

func printReport(report integrity.VerificationReport) {
	for _, r := range report.Results {
		fmt.Printf("%-8s  %s\n", r.Status, r.Key)
	}
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	depositCmd.Flags().String("metadata", "", "Path to the metadata JSON file (required)")
	depositCmd.Flags().String("source", "", "Path to the source archive (.tar)")
	depositCmd.Flags().String("render", "", "Path to the rendered document (.pdf)")
	depositCmd.Flags().String("date", "", "Announcement date, YYYY-MM-DD (required)")
	depositCmd.Flags().Bool("withdrawn", false, "Deposit a withdrawal version (metadata only)")
	depositCmd.Flags().String("reason", "", "Reason for withdrawal")
	depositCmd.Flags().Bool("legacy", false, "Mark the record as migrated from the legacy system")
	depositCmd.MarkFlagRequired("metadata")
	depositCmd.MarkFlagRequired("date")

	listingCmd.Flags().String("shard", "", "Restrict the listing to one shard")
	suppressCmd.Flags().String("reason", "", "Reason for suppression (required)")

	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotVerifyCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotExportCmd.Flags().String("dir", "", "Export directory (default: snapshot.export_dir from config)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(depositCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listingCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(suppressCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(reindexCmd)
}
