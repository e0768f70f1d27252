package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VoxDroid/rarscan/internal/db"
	"github.com/VoxDroid/rarscan/internal/exporter"
	"github.com/VoxDroid/rarscan/internal/journal"
	"github.com/VoxDroid/rarscan/internal/utils"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past scans recorded in the journal",
	Long:  "List past scans, newest first. Example:\n  rarscan history --limit 5\n  rarscan history --filter movies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dbConn, err := db.InitDB()
		if err != nil {
			return err
		}
		defer func() { _ = dbConn.Close() }()

		r := journal.NewRepository(dbConn)
		limit, _ := cmd.Flags().GetInt("limit")
		filter, _ := cmd.Flags().GetString("filter")
		var runs []journal.Run
		if filter != "" {
			runs, err = r.FilterRuns(filter)
			if err == nil && limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
		} else {
			runs, err = r.ListRuns(limit)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			_, _ = fmt.Fprintln(out, "no scans recorded")
			return nil
		}
		for _, run := range runs {
			dry := ""
			if run.DryRun {
				dry = " dry-run"
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\t%s%s\t%s\textracted=%d removed=%d failed=%d\n",
				run.ID[:8], run.StartedAt, run.Status, dry, run.Root,
				run.Summary.Extracted, run.Summary.Removed, run.Summary.Failed)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the events of one scan (a unique id prefix is enough)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbConn, err := db.InitDB()
		if err != nil {
			return err
		}
		defer func() { _ = dbConn.Close() }()

		r := journal.NewRepository(dbConn)
		run, err := r.GetRun(args[0])
		if err != nil {
			return err
		}
		events, err := r.ListEvents(run.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Run:      %s\n", run.ID)
		_, _ = fmt.Fprintf(out, "Root:     %s\n", run.Root)
		_, _ = fmt.Fprintf(out, "Dry run:  %v\n", run.DryRun)
		_, _ = fmt.Fprintf(out, "Status:   %s\n", run.Status)
		_, _ = fmt.Fprintf(out, "Started:  %s UTC (%s)\n", run.StartedAt, relative(run.StartedAt))
		if run.FinishedAt.Valid {
			_, _ = fmt.Fprintf(out, "Finished: %s UTC\n", run.FinishedAt.String)
		}
		if run.Error.Valid {
			_, _ = fmt.Fprintf(out, "Error:    %s\n", run.Error.String)
		}
		s := run.Summary
		_, _ = fmt.Fprintf(out, "Summary:  %d discovered, %d analyzed, %d extracted, %d already extracted, %d nested, %d removed, %d failed\n",
			s.Discovered, s.Analyzed, s.Extracted, s.AlreadyExtracted, s.Nested, s.Removed, s.Failed)
		_, _ = fmt.Fprintln(out, "Events:")
		for _, e := range events {
			line := fmt.Sprintf("  %s\t%-17s\t%s", e.CreatedAt, e.Action, e.Path)
			if e.Detail.Valid {
				line += "\t(" + e.Detail.String + ")"
			}
			_, _ = fmt.Fprintln(out, line)
		}
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal entries for scans older than a number of days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, _ := cmd.Flags().GetInt("older-than-days")
		if days <= 0 {
			return fmt.Errorf("--older-than-days must be a positive number of days")
		}
		confirmFlag, _ := cmd.Flags().GetBool("confirm")
		if confirmFlag {
			if !utils.Confirm(fmt.Sprintf("Delete scan history older than %d days?", days)) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}
		}

		dbConn, err := db.InitDB()
		if err != nil {
			return err
		}
		defer func() { _ = dbConn.Close() }()

		r := journal.NewRepository(dbConn)
		n, err := r.PruneRuns(time.Now().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d run(s)\n", n)
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a standalone copy of the scan journal to file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbConn, err := db.InitDB()
		if err != nil {
			return err
		}
		defer func() { _ = dbConn.Close() }()

		if err := exporter.ExportDatabase(dbConn, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported journal to %s\n", args[0])
		return nil
	},
}

// relative renders a journal timestamp as "3 hours ago".
func relative(stamp string) string {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, time.UTC)
	if err != nil {
		return "unknown"
	}
	return humanize.Time(t)
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of scans to list (0 for all)")
	historyCmd.Flags().String("filter", "", "Fuzzy filter on root directory and archive paths")
	historyPruneCmd.Flags().Int("older-than-days", 0, "Delete scans started more than this many days ago")
	historyPruneCmd.Flags().Bool("confirm", false, "Ask for confirmation")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
	historyCmd.AddCommand(historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}
