// Package archive wraps zip creation and extraction for backup artifacts.
// The on-disk artifact format is always zip; the configured compression flag
// only switches entries between Deflate and Store.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	apperrors "github.com/arlberg/backstop/internal/errors"
)

// partialSuffix marks artifacts that are still being written. A crash leaves
// the partial behind instead of a plausible-looking truncated zip.
const partialSuffix = ".partial"

type Entry struct {
	Name string
	Size int64
}

// Writer streams files into a zip artifact. The artifact only appears under
// its final name after Commit; Abort removes the partial output.
type Writer struct {
	zw        *zip.Writer
	f         *os.File
	method    uint16
	finalPath string
	tmpPath   string
	committed bool
}

func Create(path string, compress bool) (*Writer, error) {
	tmp := path + partialSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to create archive", "Check that the storage path is writable and the disk has free space.")
	}

	method := zip.Store
	if compress {
		method = zip.Deflate
	}

	return &Writer{
		zw:        zip.NewWriter(f),
		f:         f,
		method:    uint16(method),
		finalPath: path,
		tmpPath:   tmp,
	}, nil
}

// AddFile streams r into a new entry. Reads are interrupted when ctx is
// cancelled so a shutdown does not hang on a slow source.
func (w *Writer) AddFile(ctx context.Context, name string, modTime time.Time, r io.Reader) (int64, error) {
	hdr := &zip.FileHeader{
		Name:     filepath.ToSlash(name),
		Method:   w.method,
		Modified: modTime,
	}

	ew, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeIO, "failed to create archive entry", "")
	}

	n, err := io.Copy(ew, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return n, err
	}
	return n, nil
}

// Commit closes the archive and renames it into place atomically.
func (w *Writer) Commit() error {
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		os.Remove(w.tmpPath)
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to finalize archive", "")
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to close archive", "")
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		os.Remove(w.tmpPath)
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to move archive into place", "")
	}
	w.committed = true
	return nil
}

// Abort discards the partial artifact. Safe to call after Commit.
func (w *Writer) Abort() {
	if w.committed {
		return
	}
	w.zw.Close()
	w.f.Close()
	os.Remove(w.tmpPath)
}

// List enumerates the entries of a zip artifact without extracting it.
func List(path string) ([]Entry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeIntegrity, "cannot open archive", "The artifact may be corrupt or not a zip file.")
	}
	defer zr.Close()

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Size: int64(f.UncompressedSize64)})
	}
	return entries, nil
}

// ExtractFunc is invoked per extracted entry. Returning an error skips the
// entry; extraction continues with the next one.
type ExtractFunc func(name string, err error)

// Extract unpacks every entry of the artifact at path under dest. Each file is
// written to a temp path and renamed into place so a destination file is never
// left partially overwritten. Corrupt entries are skipped and reported through
// onEntry; the count of successfully extracted files is returned.
func Extract(ctx context.Context, path, dest string, onEntry ExtractFunc) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeIntegrity, "cannot open archive", "The artifact may be corrupt or not a zip file.")
	}
	defer zr.Close()

	extracted := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}

		target, err := securePath(dest, f.Name)
		if err != nil {
			if onEntry != nil {
				onEntry(f.Name, err)
			}
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil && onEntry != nil {
				onEntry(f.Name, err)
			}
			continue
		}

		if err := extractFile(ctx, f, target); err != nil {
			if onEntry != nil {
				onEntry(f.Name, err)
			}
			continue
		}
		extracted++
		if onEntry != nil {
			onEntry(f.Name, nil)
		}
	}

	return extracted, nil
}

func extractFile(ctx context.Context, f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeIntegrity, "corrupt archive entry", "")
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to create parent directory", "")
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*")
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to create temp file", "")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: rc}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.Wrap(err, apperrors.TypeIntegrity, "failed to read archive entry", "")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to close temp file", "")
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to move file into place", "")
	}
	return nil
}

// securePath joins dest and name, rejecting entries that escape dest.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
