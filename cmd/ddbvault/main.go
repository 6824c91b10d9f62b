// Command ddbvault is the CLI front end for the backup engine in
// internal/core: it connects to (or initializes) a target directory and
// runs backup/restore/verify/list/fsck/clean against it. Its command tree
// shape (root Command, Commands []*cli.Command, Action closures returning
// errors) follows kalbasit-ncps's cmd/cmd.go.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/blingcc/ddbvault/internal/core"
)

// Version is set with -ldflags at build time.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cmd := newCommand(logger)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error().Err(err).Msg("ddbvault failed")
		return 1
	}
	return 0
}

func newCommand(logger zerolog.Logger) *cli.Command {
	var targetPath string

	targetFlag := &cli.StringFlag{
		Name:        "target",
		Aliases:     []string{"t"},
		Usage:       "path to the backup target directory",
		Sources:     cli.EnvVars("DDBVAULT_TARGET"),
		Destination: &targetPath,
		Required:    true,
	}

	return &cli.Command{
		Name:    "ddbvault",
		Usage:   "content-addressed, deduplicating file backup engine",
		Version: Version,
		Commands: []*cli.Command{
			initCommand(&targetPath),
			backupCommand(&targetPath, logger),
			restoreCommand(&targetPath),
			verifyCommand(&targetPath),
			listCommand(&targetPath),
			fsckCommand(&targetPath),
			cleanCommand(&targetPath),
		},
		Flags: []cli.Flag{targetFlag},
	}
}

func connect(targetPath string) (*core.Target, error) {
	t := core.NewTarget(nil)
	if err := t.Connect(targetPath); err != nil {
		return nil, err
	}
	return t, nil
}

func initCommand(targetPath *string) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create a new backup target",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return core.Init(*targetPath)
		},
	}
}

func backupCommand(targetPath *string, logger zerolog.Logger) *cli.Command {
	var userID, setName string
	var deepScan, checkHash bool

	return &cli.Command{
		Name:      "backup",
		Usage:     "back up one or more source trees into a named set",
		ArgsUsage: "<source> [source...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Destination: &userID},
			&cli.StringFlag{Name: "set", Required: true, Destination: &setName},
			&cli.StringSliceFlag{Name: "filter", Usage: "'+'/'-' glob pattern, repeatable"},
			&cli.BoolFlag{Name: "deep-scan", Destination: &deepScan},
			&cli.BoolFlag{Name: "check-hash", Destination: &checkHash},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sources := cmd.Args().Slice()
			if len(sources) == 0 {
				return fmt.Errorf("at least one source path is required")
			}

			t, err := connect(*targetPath)
			if err != nil {
				return err
			}

			var filter *core.Filter
			if pats := cmd.StringSlice("filter"); len(pats) > 0 {
				filter, err = core.ParseFilter(pats)
				if err != nil {
					return err
				}
			}

			result, err := t.Backup(core.BackupOptions{
				UserID: userID, SetName: setName, Sources: sources,
				Filter: filter, DeepScan: deepScan, CheckHash: checkHash,
			})
			if err != nil {
				return err
			}

			logger.Info().
				Int("files", result.Stats.Files).
				Int64("bytes", result.Stats.Bytes).
				Int("backedUpFiles", result.Stats.BackedUpFiles).
				Int("skipped", result.Stats.Skipped).
				Str("manifest", result.ManifestPath).
				Msg("backup complete")
			return nil
		},
	}
}

func restoreCommand(targetPath *string) *cli.Command {
	var userID, setName, when, output string

	return &cli.Command{
		Name:  "restore",
		Usage: "restore a set's files from a manifest",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Destination: &userID},
			&cli.StringFlag{Name: "set", Required: true, Destination: &setName},
			&cli.StringFlag{Name: "when", Value: "current", Destination: &when},
			&cli.StringFlag{Name: "output", Usage: "destination root; defaults to the recorded source root", Destination: &output},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			t, err := connect(*targetPath)
			if err != nil {
				return err
			}
			stats, err := t.Restore(core.RestoreOptions{UserID: userID, SetName: setName, When: when, Output: output})
			if err != nil {
				return err
			}
			fmt.Printf("restored %d files (%d bytes)\n", stats.Files, stats.Bytes)
			return nil
		},
	}
}

func verifyCommand(targetPath *string) *cli.Command {
	var userID, setName, when string
	var compare bool

	return &cli.Command{
		Name:  "verify",
		Usage: "verify a set's files against the object store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Destination: &userID},
			&cli.StringFlag{Name: "set", Required: true, Destination: &setName},
			&cli.StringFlag{Name: "when", Value: "current", Destination: &when},
			&cli.BoolFlag{Name: "compare", Usage: "also compare against the live source tree", Destination: &compare},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			t, err := connect(*targetPath)
			if err != nil {
				return err
			}
			entries, err := t.Verify(core.VerifyOptions{UserID: userID, SetName: setName, When: when, Compare: compare})
			if err != nil {
				return err
			}

			var failed int
			for _, e := range entries {
				fmt.Printf("%-8s %s\n", e.Status, e.Path)
				if e.Status != "OK" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d entries did not verify cleanly", failed)
			}
			return nil
		},
	}
}

func listCommand(targetPath *string) *cli.Command {
	var userID, setName, when string

	return &cli.Command{
		Name:  "list",
		Usage: "list finalised runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Destination: &userID},
			&cli.StringFlag{Name: "set", Destination: &setName},
			&cli.StringFlag{Name: "when", Destination: &when},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			t, err := connect(*targetPath)
			if err != nil {
				return err
			}
			runs, err := t.List(core.ListOptions{UserID: userID, SetName: setName, When: when})
			if err != nil {
				return err
			}
			for _, r := range runs {
				label := r.SetName
				if r.UserID != "" {
					label = r.UserID + "/" + r.SetName
				}
				fmt.Printf("%-24s %-12s %-8s files=%d bytes=%d\n", label, r.When, r.Status, r.Stats.Files, r.Stats.Bytes)
			}
			return nil
		},
	}
}

func fsckCommand(targetPath *string) *cli.Command {
	return &cli.Command{
		Name:  "fsck",
		Usage: "scan the object store for orphaned, damaged, or missing objects",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			t, err := connect(*targetPath)
			if err != nil {
				return err
			}
			res, err := t.Fsck()
			if err != nil {
				return err
			}
			fmt.Printf("total=%d verified=%d orphaned=%d damaged=%d missing=%d\n",
				res.Total, res.Verified, res.Orphaned, res.Damaged, res.Missing)
			if res.Damaged > 0 || res.Missing > 0 {
				return fmt.Errorf("fsck found integrity problems")
			}
			return nil
		},
	}
}

func cleanCommand(targetPath *string) *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "remove orphaned objects from the object store",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			t, err := connect(*targetPath)
			if err != nil {
				return err
			}
			res, err := t.Clean()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d orphaned objects\n", res.Removed)
			return nil
		},
	}
}
