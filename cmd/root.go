package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/VoxDroid/rarscan/internal/config"
	"github.com/VoxDroid/rarscan/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "rarscan [root_dir]",
	Short: "rarscan extracts RAR archives found under a directory tree",
	Long: "rarscan scans a directory tree for RAR archives, extracts each one next to itself,\n" +
		"follows archives nested inside archives, and can remove old volumes.\n" +
		"Running 'rarscan <root_dir>' is the same as 'rarscan scan <root_dir>'.",
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runScan(cmd, args[0])
	},
}

// settings is loaded once per invocation by setup.
var settings = config.DefaultSettings()

// logOutput receives log lines.
var logOutput io.Writer = os.Stdout

// setup loads the settings file and initializes logging. An explicit
// --log-level wins over the file.
func setup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		p, err := config.SettingsPath()
		if err != nil {
			return err
		}
		path = p
	}
	s, err := config.LoadSettings(path, explicit)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		s.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	settings = s
	return log.InitLogger(logOutput, s.LogLevel)
}

// Execute executes the root command
func Execute() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

// execute runs the root command and flushes the logger, also when the
// command failed.
func execute() error {
	defer log.Sync()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML settings file (default <data dir>/config.yaml)")
	addScanFlags(rootCmd)
}
