package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arlberg/backstop/internal/backup"
)

var (
	restoreTarget  string
	confirmRestore bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore [database|files] <artifact>",
	Short: "Restore an artifact into the live system",
	Long: `Restore a backup artifact. Database restores replace the live store's data
and report whether the data-access layer must be reconnected afterwards; file
restores extract under --target (default: the original relative locations).
Both paths verify the sidecar checksum first when one exists.`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmRestore {
			return fmt.Errorf("restore is destructive: re-run with --confirm to proceed")
		}

		cfg, l, err := setup()
		if err != nil {
			return err
		}

		engine, err := backup.New(cfg, backup.Options{Logger: l})
		if err != nil {
			return err
		}

		kind, artifact := args[0], args[1]
		ctx := cmd.Context()

		switch kind {
		case "database":
			res, err := engine.RestoreDatabase(ctx, artifact)
			if err != nil {
				return err
			}
			if res.RequiresRestart {
				l.Warn("restore complete; restart the application so it reopens the restored store")
			} else {
				l.Info("restore complete")
			}
		case "files":
			res, err := engine.RestoreFiles(ctx, artifact, restoreTarget)
			if err != nil {
				return err
			}
			l.Info("restore complete", "extracted", res.ExtractedFiles)
		default:
			return fmt.Errorf("unknown restore kind %q (want database or files)", kind)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreTarget, "target", "", "directory to extract a files artifact into")
	restoreCmd.Flags().BoolVar(&confirmRestore, "confirm", false, "confirm the destructive restore")
}
