// Package storage manages the local artifact directory: the single place
// backup artifacts and their sidecars live on disk.
package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/manifest"
)

type Local struct {
	baseDir string
}

// ArtifactInfo describes one artifact file found in the storage directory.
type ArtifactInfo struct {
	Name    string
	Path    string
	Type    manifest.BackupType
	Size    int64
	ModTime time.Time
}

func NewLocal(baseDir string) *Local {
	if baseDir == "" {
		baseDir = "./backups"
	}
	return &Local{baseDir: baseDir}
}

func (s *Local) Location() string {
	return s.baseDir
}

// EnsureWritable creates the storage directory if needed and probes that it
// accepts writes. Called once at startup; failure is fatal.
func (s *Local) EnsureWritable() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, "storage path is not creatable", "Check storage.local.path and its permissions.")
	}

	probe, err := os.CreateTemp(s.baseDir, ".probe-*")
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, "storage path is not writable", "Check storage.local.path permissions and disk space.")
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// ArtifactPath resolves an artifact name inside the storage directory.
// Absolute paths pass through so callers can restore from anywhere.
func (s *Local) ArtifactPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.baseDir, name)
}

// List returns the artifacts of the given type, newest first. An empty type
// lists everything. Sidecars and partials are never listed as artifacts.
func (s *Local) List(typ manifest.BackupType) ([]ArtifactInfo, error) {
	dirents, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to list storage directory", "")
	}

	var artifacts []ArtifactInfo
	for _, de := range dirents {
		if de.IsDir() || strings.HasSuffix(de.Name(), manifest.SidecarSuffix) {
			continue
		}
		t, ok := manifest.TypeOfArtifact(de.Name())
		if !ok {
			continue
		}
		if typ != "" && t != typ {
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, ArtifactInfo{
			Name:    de.Name(),
			Path:    filepath.Join(s.baseDir, de.Name()),
			Type:    t,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})
	return artifacts, nil
}

// Delete removes an artifact and its sidecar. A missing sidecar is not an
// error; a missing artifact is.
func (s *Local) Delete(name string) error {
	path := s.ArtifactPath(name)
	if err := os.Remove(path); err != nil {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to delete artifact", "")
	}
	if err := os.Remove(manifest.SidecarPath(path)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to delete sidecar", "")
	}
	return nil
}

// Stat returns size and modification time for an artifact.
func (s *Local) Stat(name string) (os.FileInfo, error) {
	return os.Stat(s.ArtifactPath(name))
}
