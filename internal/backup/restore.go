package backup

import (
	"context"
	"os"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/arlberg/backstop/internal/archive"
	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/manifest"
)

// RestoreDatabase validates the artifact, verifies its checksum when a
// sidecar exists, and replaces the live store's data with the snapshot. The
// result signals whether the caller must reconnect the data-access layer;
// the engine itself never restarts anything.
func (e *Engine) RestoreDatabase(ctx context.Context, artifactPath string) (*RestoreResult, error) {
	if e.adapter == nil {
		return nil, apperrors.New(apperrors.TypeConfig, "database restore is unavailable", "Enable database.enabled in the configuration.")
	}

	release, err := e.acquire(manifest.TypeDatabase, true)
	if err != nil {
		return nil, err
	}
	defer release()

	path := e.store.ArtifactPath(artifactPath)
	start := time.Now()

	if err := e.validateArtifact(path); err != nil {
		return nil, err
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeIntegrity, "cannot open database artifact", "The artifact may be corrupt.")
	}
	defer zr.Close()

	var snapshot *zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			snapshot = f
			break
		}
	}
	if snapshot == nil {
		return nil, apperrors.New(apperrors.TypeIntegrity, "database artifact contains no snapshot entry", "")
	}

	rc, err := snapshot.Open()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeIntegrity, "corrupt snapshot entry", "")
	}
	defer rc.Close()

	e.log.Info("database restore started", "artifact", path, "entry", snapshot.Name)

	requiresRestart, err := e.adapter.Restore(ctx, e.wrapProgress(rc, "restore"))
	if err != nil {
		return nil, err
	}

	e.log.Info("database restore finished",
		"artifact", path,
		"requires_restart", requiresRestart,
		"duration", time.Since(start).String(),
	)

	return &RestoreResult{Success: true, RequiresRestart: requiresRestart}, nil
}

// RestoreFiles extracts a files artifact under targetDir, defaulting to the
// original relative locations. Every file lands via a temp write and an
// atomic rename; a corrupt entry is logged and skipped, never fatal.
func (e *Engine) RestoreFiles(ctx context.Context, artifactPath, targetDir string) (*RestoreResult, error) {
	release, err := e.acquire(manifest.TypeFiles, true)
	if err != nil {
		return nil, err
	}
	defer release()

	path := e.store.ArtifactPath(artifactPath)
	start := time.Now()

	if err := e.validateArtifact(path); err != nil {
		return nil, err
	}

	if targetDir == "" {
		targetDir = "."
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to create restore target", "")
	}

	e.log.Info("files restore started", "artifact", path, "target", targetDir)

	extracted, err := archive.Extract(ctx, path, targetDir, func(name string, err error) {
		if err != nil {
			e.log.Warn("skipping archive entry", "entry", name, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("files restore finished",
		"artifact", path,
		"extracted", extracted,
		"duration", time.Since(start).String(),
	)

	return &RestoreResult{Success: true, ExtractedFiles: extracted}, nil
}

// validateArtifact enforces the pre-restore checks shared by both paths:
// the artifact must exist, be non-empty, and match its sidecar checksum when
// a sidecar is present.
func (e *Engine) validateArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.New(apperrors.TypeSource, "artifact not found: "+path, "Check the backup path; use the list operation to see what exists.")
		}
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to stat artifact", "")
	}
	if info.Size() == 0 {
		return apperrors.New(apperrors.TypeIntegrity, "artifact is empty: "+path, "The backup never completed. Pick a different artifact.")
	}

	if !manifest.Exists(path) {
		e.log.Warn("artifact has no sidecar, restoring without integrity check", "artifact", path)
		return nil
	}

	sc, err := manifest.Read(path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to read sidecar", "")
	}

	checksum, err := manifest.Checksum(path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to checksum artifact", "")
	}
	if sc.Checksum != "" && sc.Checksum != checksum {
		return apperrors.ErrChecksumMismatch
	}
	return nil
}
