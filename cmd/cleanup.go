package cmd

import (
	"github.com/spf13/cobra"

	"github.com/arlberg/backstop/internal/backup"
)

var cleanupType string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete artifacts that have aged past the retention policy",
	Long: `Apply the retention policy now instead of waiting for the scheduled cleanup:
artifacts older than the daily window are deleted together with their sidecars,
except the newest one of each protected weekly and monthly bucket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}

		typ, err := backupTypeFlag(cleanupType)
		if err != nil {
			return err
		}

		engine, err := backup.New(cfg, backup.Options{Logger: l})
		if err != nil {
			return err
		}

		res, err := engine.Cleanup(cmd.Context(), typ)
		if err != nil {
			return err
		}

		l.Info("cleanup complete", "deleted", res.Deleted, "errors", len(res.Errors))
		for _, e := range res.Errors {
			l.Warn("cleanup item failed", "error", e)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringVar(&cleanupType, "type", "", "limit cleanup to one artifact type (database or files)")
}
