package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/arlberg/backstop/internal/archive"
	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/manifest"
)

// CreateFilesBackup walks the configured directories, streams every matching
// file into a zip artifact, and seals it with a sidecar. A single unreadable
// file is recorded as skipped, never fatal; only an unwritable storage path
// or the absence of every source directory fails the run.
func (e *Engine) CreateFilesBackup(ctx context.Context) (*Result, error) {
	release, err := e.acquire(manifest.TypeFiles, false)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()

	candidates, missing := e.collectFiles(ctx)
	if len(missing) == len(e.cfg.Files.Directories) && len(e.cfg.Files.Directories) > 0 {
		return nil, apperrors.New(apperrors.TypeSource, "no source directory is available", "Every configured directory is missing. Check files.directories.")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := manifest.ArtifactName(manifest.TypeFiles, start)
	path := e.store.ArtifactPath(name)
	e.log.Info("files backup started", "artifact", name, "candidates", len(candidates))

	aw, err := archive.Create(path, e.cfg.Files.Compress)
	if err != nil {
		return nil, err
	}

	var (
		totalSize int64
		skipped   []string
		added     int
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			aw.Abort()
			return nil, err
		}

		f, err := os.Open(c.path)
		if err != nil {
			e.log.Warn("skipping unreadable file", "path", c.path, "error", err)
			skipped = append(skipped, c.path)
			continue
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()
			skipped = append(skipped, c.path)
			continue
		}

		n, err := aw.AddFile(ctx, c.name, info.ModTime(), e.wrapProgress(f, c.path))
		f.Close()
		if err != nil {
			if ctx.Err() != nil {
				aw.Abort()
				return nil, ctx.Err()
			}
			e.log.Warn("skipping file, archive write failed", "path", c.path, "error", err)
			skipped = append(skipped, c.path)
			continue
		}
		totalSize += n
		added++
	}

	// Sealing an archive with nothing in it would hide a dead source tree
	// behind a green backup.
	if added == 0 {
		aw.Abort()
		return nil, apperrors.New(apperrors.TypeSource, "no files were archived", "Every candidate was excluded, hidden, or unreadable. Check files.directories and files.exclusions.")
	}

	if err := aw.Commit(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to stat finished artifact", "")
	}

	checksum, err := manifest.Checksum(path)
	if err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to checksum artifact", "")
	}

	sc := manifest.New(manifest.TypeFiles, path)
	sc.Timestamp = start
	sc.Checksum = checksum
	sc.Size = info.Size()
	sc.Files = &manifest.FilesMeta{
		Directories: e.cfg.Files.Directories,
		Exclusions:  e.cfg.Files.Exclusions,
		FileCount:   added,
		TotalSize:   totalSize,
		Skipped:     skipped,
	}

	if err := sc.Write(); err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to write sidecar", "")
	}

	duration := time.Since(start)
	e.log.Info("files backup finished",
		"artifact", name,
		"files", added,
		"skipped", len(skipped),
		"size", info.Size(),
		"duration", duration.String(),
	)

	return &Result{
		ArtifactPath: path,
		Size:         info.Size(),
		Duration:     duration,
		FileCount:    added,
		Skipped:      skipped,
		Sidecar:      sc,
	}, nil
}

// candidate pairs the filesystem path a file is read from with the entry
// name it is archived under. The two differ for absolute source directories.
type candidate struct {
	path string
	name string
}

// collectFiles enumerates every file under the configured directories,
// applying exclusions and skipping hidden files. The result is deduplicated
// by entry name and sorted so two runs over the same tree produce the same
// entry order. Missing directories are returned separately; they are logged,
// not fatal.
func (e *Engine) collectFiles(ctx context.Context) (candidates []candidate, missing []string) {
	seen := make(map[string]struct{})
	cwd, _ := os.Getwd()

	for _, dir := range e.cfg.Files.Directories {
		if _, err := os.Stat(dir); err != nil {
			e.log.Warn("skipping missing source directory", "dir", dir, "error", err)
			missing = append(missing, dir)
			continue
		}

		filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				e.log.Warn("skipping unreadable path", "path", p, "error", err)
				return nil
			}
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if d.IsDir() {
				if d.Name() != "." && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}

			rel := entryName(cwd, p)
			if e.excluded(rel, d.Name()) {
				return nil
			}
			if _, dup := seen[rel]; dup {
				return nil
			}
			seen[rel] = struct{}{}
			candidates = append(candidates, candidate{path: p, name: rel})
			return nil
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].name < candidates[j].name
	})
	return candidates, missing
}

// entryName makes p relative to the working directory where possible, so
// archive entries restore to their original relative locations by default.
func entryName(cwd, p string) string {
	if !filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if cwd != "" {
		if rel, err := filepath.Rel(cwd, p); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return strings.TrimPrefix(filepath.Clean(p), string(filepath.Separator))
}

func (e *Engine) excluded(relPath, base string) bool {
	slashed := filepath.ToSlash(relPath)
	for _, pattern := range e.cfg.Files.Exclusions {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}
