package cmd

import (
	"github.com/spf13/cobra"

	"github.com/arlberg/backstop/internal/config"
	"github.com/arlberg/backstop/internal/logger"
)

const BACKSTOP_VERSION = "0.1.0"

var (
	cfgPath string
	logJSON bool
	noColor bool
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "backstop",
	Short: "backstop protects an application's database and file tree with scheduled, verifiable backups",
	Long: `backstop is the backup-and-restore engine of a long-lived application server.
It snapshots the relational store, archives the configured file trees, seals every
artifact with a SHA-256 sidecar, enforces the retention policy, and restores
artifacts back into place - either on cron cadences (see 'backstop serve') or on
demand through the subcommands below.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.Version = BACKSTOP_VERSION
	rootCmd.SetVersionTemplate("backstop version {{ .Version }}\n")

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "json", false, "log in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads and validates the configuration and builds the process logger.
// An invalid cadence or storage path fails here, before any job runs.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	l := logger.New(logger.Config{
		JSON:    logJSON || cfg.Log.JSON,
		NoColor: noColor || cfg.Log.NoColor,
		Debug:   debug || cfg.Log.Debug,
	})
	return cfg, l, nil
}
