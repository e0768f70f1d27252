package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VoxDroid/rarscan/internal/archive"
	"github.com/VoxDroid/rarscan/internal/config"
	"github.com/VoxDroid/rarscan/internal/db"
	"github.com/VoxDroid/rarscan/internal/journal"
	"github.com/VoxDroid/rarscan/internal/log"
	"github.com/VoxDroid/rarscan/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan <root_dir>",
	Short: "Find, extract and clean up RAR archives under root_dir",
	Long: "Scan root_dir recursively for .rar files, extract every archive that is not\n" +
		"already extracted into its own directory, follow nested archives and, with\n" +
		"--remove-after-days, delete volumes older than the given number of days. Example:\n" +
		"  rarscan scan /srv/downloads --remove-after-days 30",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args[0])
	},
}

func addScanFlags(c *cobra.Command) {
	c.Flags().Bool("dry-run", false, "Log what would happen without extracting or removing anything")
	c.Flags().Uint64("remove-after-days", 0, "Remove archive volumes last modified more than this many days ago (0 disables)")
	c.Flags().Uint64("remove-after-hours", 0, "Same as --remove-after-days; the value counts days")
	_ = c.Flags().MarkDeprecated("remove-after-hours", "its value counts days, use --remove-after-days")
	c.MarkFlagsMutuallyExclusive("remove-after-days", "remove-after-hours")
	c.Flags().String("password", "", "Password for encrypted archives")
	c.Flags().Bool("keep-going", false, "Log failing archives and continue with the rest")
	c.Flags().Bool("no-journal", false, "Do not record this scan in the history database")
}

// scanOptions merges the settings file with flags set on the command line.
func scanOptions(cmd *cobra.Command, s config.Settings) config.Settings {
	f := cmd.Flags()
	if f.Changed("dry-run") {
		s.DryRun, _ = f.GetBool("dry-run")
	}
	if f.Changed("remove-after-days") {
		s.RemoveAfterDays, _ = f.GetUint64("remove-after-days")
	}
	if f.Changed("remove-after-hours") {
		s.RemoveAfterDays, _ = f.GetUint64("remove-after-hours")
	}
	if f.Changed("password") {
		s.Password, _ = f.GetString("password")
	}
	if f.Changed("keep-going") {
		s.KeepGoing, _ = f.GetBool("keep-going")
	}
	if noJournal, _ := f.GetBool("no-journal"); noJournal {
		off := false
		s.Journal = &off
	}
	return s
}

func runScan(cmd *cobra.Command, rootDir string) error {
	s := scanOptions(cmd, settings)
	logger := log.GetLogger()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if abs, err := filepath.Abs(rootDir); err == nil {
		rootDir = abs
	}

	opts := scanner.Options{
		DryRun:      s.DryRun,
		RemoveAfter: s.RemoveAfter(),
		KeepGoing:   s.KeepGoing,
		Logger:      logger,
		Open: scanner.OpenArchive(
			archive.WithPassword(s.Password),
			archive.WithLogger(logger),
		),
	}

	var repo *journal.Repository
	var run *journal.Run
	if s.JournalEnabled() {
		dbConn, err := db.InitDB()
		if err != nil {
			return err
		}
		defer func() { _ = dbConn.Close() }()
		repo = journal.NewRepository(dbConn)
		run, err = repo.StartRun(rootDir, s.DryRun)
		if err != nil {
			return err
		}
		opts.Recorder = repo.Recorder(run.ID)
		logger = logger.With(zap.String("run", run.ID[:8]))
		opts.Logger = logger
	}

	started := time.Now()
	q := scanner.New(opts)
	var sum scanner.Summary
	err := q.FindRarFiles(ctx, rootDir)
	if err == nil {
		sum, err = q.Run(ctx)
	} else {
		sum = q.Summary()
	}

	if repo != nil {
		if ferr := repo.FinishRun(run.ID, runStatus(ctx, err), sum, err); ferr != nil {
			logger.Warn("failed to finish journal run", zap.Error(ferr))
		}
	}
	printSummary(cmd.OutOrStdout(), run, sum, time.Since(started), s.DryRun)
	return err
}

func runStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return journal.StatusCompleted
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return journal.StatusInterrupted
	default:
		return journal.StatusFailed
	}
}

func printSummary(w io.Writer, run *journal.Run, sum scanner.Summary, took time.Duration, dryRun bool) {
	prefix := "scan"
	if run != nil {
		prefix = "run " + run.ID
	}
	if dryRun {
		prefix += " (dry-run)"
	}
	_, _ = fmt.Fprintf(w, "%s: %d discovered, %d analyzed, %d extracted, %d already extracted, %d nested, %d removed, %d failed in %s\n",
		prefix, sum.Discovered, sum.Analyzed, sum.Extracted, sum.AlreadyExtracted, sum.Nested, sum.Removed, sum.Failed,
		took.Round(time.Millisecond))
}

func init() {
	addScanFlags(scanCmd)
	rootCmd.AddCommand(scanCmd)
}
