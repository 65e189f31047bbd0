package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/arlberg/backstop/internal/backup"
	"github.com/arlberg/backstop/internal/manifest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured jobs and the most recent artifacts",
	Long: `Show each configured job with its cadence and next scheduled run, computed
from the configuration, plus the newest artifact of each type in storage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tENABLED\tSCHEDULE\tNEXT RUN")

		writeJob := func(name string, enabled bool, spec string) {
			next := "-"
			if enabled {
				if sched, err := cron.ParseStandard(spec); err == nil {
					next = sched.Next(now).Format("2006-01-02 15:04:05")
				}
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", name, enabled, spec, next)
		}

		writeJob(jobDatabaseBackup, cfg.Database.Enabled, cfg.Database.Schedule)
		writeJob(jobDatabaseCleanup, cfg.Database.Enabled, cfg.Database.CleanupSchedule)
		writeJob(jobFilesBackup, cfg.Files.Enabled, cfg.Files.Schedule)
		writeJob(jobFilesCleanup, cfg.Files.Enabled, cfg.Files.CleanupSchedule)
		if err := w.Flush(); err != nil {
			return err
		}

		engine, err := backup.New(cfg, backup.Options{Logger: l})
		if err != nil {
			return err
		}

		for _, typ := range []manifest.BackupType{manifest.TypeDatabase, manifest.TypeFiles} {
			infos, err := engine.ListBackups(cmd.Context(), typ)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Printf("\nlatest %s backup: none\n", typ)
				continue
			}
			newest := infos[0]
			fmt.Printf("\nlatest %s backup: %s (%s, %s)\n",
				typ, newest.Name, formatBytes(newest.Size),
				newest.ModTime.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
