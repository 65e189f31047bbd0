package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is written into every sidecar so future readers can detect old layouts.
const Version = "1"

// SidecarSuffix is appended to the artifact path to form the sidecar path.
const SidecarSuffix = ".meta.json"

const timestampLayout = "2006-01-02_15-04-05"

type BackupType string

const (
	TypeDatabase BackupType = "database"
	TypeFiles    BackupType = "files"
)

// DatabaseMeta records what a database snapshot contained.
type DatabaseMeta struct {
	Engine       string           `json:"engine"`
	Tables       []string         `json:"tables"`
	RecordCounts map[string]int64 `json:"recordCounts"`
}

// FilesMeta records what a file-tree archive contained.
type FilesMeta struct {
	Directories []string `json:"directories"`
	Exclusions  []string `json:"exclusions"`
	FileCount   int      `json:"fileCount"`
	TotalSize   int64    `json:"totalSize"`
	Skipped     []string `json:"skipped,omitempty"`
}

// Sidecar is the JSON descriptor written beside every artifact. An artifact
// without a checksum-valid sidecar is untrusted.
type Sidecar struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Type       BackupType    `json:"type"`
	Version    string        `json:"version"`
	BackupPath string        `json:"backupPath"`
	Checksum   string        `json:"checksum"` // hex SHA-256 of the artifact bytes
	Size       int64         `json:"size"`
	Database   *DatabaseMeta `json:"database,omitempty"`
	Files      *FilesMeta    `json:"files,omitempty"`
}

func New(typ BackupType, backupPath string) *Sidecar {
	return &Sidecar{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Type:       typ,
		Version:    Version,
		BackupPath: backupPath,
	}
}

// ArtifactName builds the on-disk artifact file name for a backup taken at t.
// Database artifacts carry a .db.zip extension, file archives a plain .zip.
func ArtifactName(typ BackupType, t time.Time) string {
	ts := t.Format(timestampLayout)
	if typ == TypeDatabase {
		return fmt.Sprintf("database_backup_%s.db.zip", ts)
	}
	return fmt.Sprintf("files_backup_%s.zip", ts)
}

// TypeOfArtifact infers the backup type from an artifact file name.
func TypeOfArtifact(name string) (BackupType, bool) {
	switch {
	case strings.HasPrefix(name, "database_backup_") && strings.HasSuffix(name, ".db.zip"):
		return TypeDatabase, true
	case strings.HasPrefix(name, "files_backup_") && strings.HasSuffix(name, ".zip"):
		return TypeFiles, true
	}
	return "", false
}

// SidecarPath returns the sidecar path for an artifact path.
func SidecarPath(artifactPath string) string {
	return artifactPath + SidecarSuffix
}

func (s *Sidecar) Serialize() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func Deserialize(data []byte) (*Sidecar, error) {
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Write persists the sidecar beside its artifact. The write goes through a
// temp file and a rename so a crash never leaves a truncated sidecar.
func (s *Sidecar) Write() error {
	data, err := s.Serialize()
	if err != nil {
		return err
	}

	path := SidecarPath(s.BackupPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Read loads the sidecar for the given artifact path.
func Read(artifactPath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(artifactPath))
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

// Exists reports whether a sidecar is present for the artifact.
func Exists(artifactPath string) bool {
	_, err := os.Stat(SidecarPath(artifactPath))
	return err == nil
}

// Checksum computes the hex SHA-256 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ChecksumReader(f)
}

// ChecksumReader computes the hex SHA-256 digest of everything in r.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
