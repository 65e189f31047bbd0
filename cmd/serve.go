package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlberg/backstop/internal/backup"
	"github.com/arlberg/backstop/internal/config"
	"github.com/arlberg/backstop/internal/manifest"
	"github.com/arlberg/backstop/internal/notify"
	"github.com/arlberg/backstop/internal/scheduler"
)

// Job names, one per producer and one per cleanup task.
const (
	jobDatabaseBackup  = "database-backup"
	jobFilesBackup     = "files-backup"
	jobDatabaseCleanup = "database-cleanup"
	jobFilesCleanup    = "files-cleanup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup scheduler until interrupted",
	Long: `Run the scheduler as a long-lived process. Each enabled producer and its
cleanup task is registered as a named cron job; SIGINT or SIGTERM shuts every
job down and deletes any partially written artifact.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}

		notifier := notify.FromConfig(cfg.Notifications)
		engine, err := backup.New(cfg, backup.Options{Logger: l, Notifier: notifier})
		if err != nil {
			return err
		}

		sched := scheduler.New(l)
		if err := registerJobs(sched, engine, cfg); err != nil {
			return err
		}

		if err := sched.Start(); err != nil {
			return err
		}
		l.Info("scheduler running", "jobs", len(sched.AllStatuses()), "storage", cfg.Storage.Local.Path)

		config.Watch(cfgPath, l, func(_ *config.Config) {
			l.Warn("configuration changed on disk; restart serve to apply it")
		})

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		l.Info("shutting down")
		sched.Shutdown()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func registerJobs(sched *scheduler.Scheduler, engine *backup.Engine, cfg *config.Config) error {
	if cfg.Database.Enabled {
		err := sched.Register(jobDatabaseBackup, cfg.Database.Schedule, notifying(engine, jobDatabaseBackup,
			func(ctx context.Context) (string, int64, error) {
				res, err := engine.CreateDatabaseBackup(ctx)
				if err != nil {
					return "", 0, err
				}
				return fmt.Sprintf("artifact %s", res.ArtifactPath), res.Size, nil
			}))
		if err != nil {
			return err
		}

		err = sched.Register(jobDatabaseCleanup, cfg.Database.CleanupSchedule, notifying(engine, jobDatabaseCleanup,
			func(ctx context.Context) (string, int64, error) {
				res, err := engine.Cleanup(ctx, manifest.TypeDatabase)
				if err != nil {
					return "", 0, err
				}
				return fmt.Sprintf("deleted %d expired artifact(s), %d error(s)", res.Deleted, len(res.Errors)), 0, nil
			}))
		if err != nil {
			return err
		}
	}

	if cfg.Files.Enabled {
		err := sched.Register(jobFilesBackup, cfg.Files.Schedule, notifying(engine, jobFilesBackup,
			func(ctx context.Context) (string, int64, error) {
				res, err := engine.CreateFilesBackup(ctx)
				if err != nil {
					return "", 0, err
				}
				return fmt.Sprintf("%d file(s), %d skipped", res.FileCount, len(res.Skipped)), res.Size, nil
			}))
		if err != nil {
			return err
		}

		err = sched.Register(jobFilesCleanup, cfg.Files.CleanupSchedule, notifying(engine, jobFilesCleanup,
			func(ctx context.Context) (string, int64, error) {
				res, err := engine.Cleanup(ctx, manifest.TypeFiles)
				if err != nil {
					return "", 0, err
				}
				return fmt.Sprintf("deleted %d expired artifact(s), %d error(s)", res.Deleted, len(res.Errors)), 0, nil
			}))
		if err != nil {
			return err
		}
	}

	return nil
}

// notifying wraps a job body so its outcome reaches the notification
// collaborator. Delivery failures never fail the job.
func notifying(engine *backup.Engine, jobName string, run func(ctx context.Context) (string, int64, error)) scheduler.JobFunc {
	return func(ctx context.Context) error {
		start := time.Now()
		summary, size, err := run(ctx)

		ev := notify.Event{
			Type:     notify.EventSuccess,
			JobName:  jobName,
			Summary:  summary,
			Size:     size,
			Duration: time.Since(start),
		}
		if err != nil {
			ev.Type = notify.EventFailure
			ev.Error = err
		}
		engine.Notify(ctx, ev)
		return err
	}
}
