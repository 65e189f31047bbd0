package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/arlberg/backstop/internal/config"
	"github.com/arlberg/backstop/internal/manifest"
	"github.com/arlberg/backstop/internal/storage"
)

// Cleanup applies the retention policy to the given artifact type, or to both
// types when typ is empty. An artifact is eligible once its filesystem
// modification time precedes the daily-tier cutoff, unless a weekly or
// monthly bucket keep protects it. Deletion failures are collected per item
// and never abort the remaining cleanup.
func (e *Engine) Cleanup(ctx context.Context, typ manifest.BackupType) (*CleanupResult, error) {
	types := []manifest.BackupType{typ}
	if typ == "" {
		types = []manifest.BackupType{manifest.TypeDatabase, manifest.TypeFiles}
	}

	res := &CleanupResult{}
	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.cleanupType(ctx, t, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) cleanupType(ctx context.Context, typ manifest.BackupType, res *CleanupResult) error {
	policy := e.retentionFor(typ)
	if policy.Daily <= 0 {
		e.log.Debug("retention disabled, nothing to clean", "type", typ)
		return nil
	}

	artifacts, err := e.store.List(typ)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -policy.Daily)
	protected := protectedByBuckets(artifacts, policy)

	deleted := 0
	for _, a := range artifacts {
		if !a.ModTime.Before(cutoff) {
			continue
		}
		if protected[a.Name] {
			e.log.Debug("keeping expired artifact, bucket retention protects it", "artifact", a.Name)
			continue
		}

		e.log.Info("deleting expired artifact", "artifact", a.Name, "age_days", int(time.Since(a.ModTime).Hours()/24))
		if err := e.store.Delete(a.Name); err != nil {
			e.log.Warn("failed to delete expired artifact", "artifact", a.Name, "error", err)
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", a.Name, err))
			continue
		}
		deleted++
	}

	res.Deleted += deleted
	e.log.Info("cleanup finished", "type", typ, "deleted", deleted, "errors", len(res.Errors))
	return nil
}

// retentionFor resolves the policy for an artifact type. File artifacts fall
// back to the database daily tier when no files policy is configured; see
// Config.FilesRetention.
func (e *Engine) retentionFor(typ manifest.BackupType) config.Retention {
	if typ == manifest.TypeFiles {
		return e.cfg.FilesRetention()
	}
	return e.cfg.Database.Retention
}

// protectedByBuckets marks the newest artifact of each ISO week and each
// calendar month, up to the configured weekly/monthly counts. Artifacts are
// already sorted newest first.
func protectedByBuckets(artifacts []storage.ArtifactInfo, policy config.Retention) map[string]bool {
	protected := make(map[string]bool)
	weekly := make(map[string]bool)
	monthly := make(map[string]bool)

	for _, a := range artifacts {
		y, m, _ := a.ModTime.Date()
		isoYear, isoWeek := a.ModTime.ISOWeek()
		weekKey := fmt.Sprintf("%d-W%02d", isoYear, isoWeek)
		monthKey := fmt.Sprintf("%d-%02d", y, m)

		if policy.Weekly > 0 && len(weekly) < policy.Weekly && !weekly[weekKey] {
			weekly[weekKey] = true
			protected[a.Name] = true
		}
		if policy.Monthly > 0 && len(monthly) < policy.Monthly && !monthly[monthKey] {
			monthly[monthKey] = true
			protected[a.Name] = true
		}
	}
	return protected
}
