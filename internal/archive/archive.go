// Package archive lists and extracts RAR archives.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nwaples/rardecode/v2"
	"go.uber.org/zap"

	"github.com/VoxDroid/rarscan/internal/rarname"
	"github.com/VoxDroid/rarscan/internal/security"
)

// Header describes one entry of an archive.
type Header struct {
	Name         string
	UnpackedSize int64
	UnknownSize  bool
	IsDir        bool
	ModTime      time.Time
	Mode         os.FileMode
}

// Archive is an opened RAR archive with its entry headers already listed.
type Archive struct {
	Path    string
	Headers []Header

	password string
	logger   *zap.Logger
}

// Option configures Open.
type Option func(*Archive)

// WithPassword sets the password used for encrypted archives.
func WithPassword(password string) Option {
	return func(a *Archive) { a.password = password }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(a *Archive) { a.logger = l }
}

// entryReader is the subset of rardecode.Reader used while walking entries.
type entryReader interface {
	io.Reader
	Next() (*rardecode.FileHeader, error)
}

// Open lists every header in the archive at path. Following volumes is
// handled by the decoder.
func Open(path string, opts ...Option) (*Archive, error) {
	a := &Archive{Path: path, logger: zap.NewNop()}
	for _, o := range opts {
		o(a)
	}
	rc, err := rardecode.OpenReader(path, a.decoderOptions()...)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer func() { _ = rc.Close() }()

	headers, err := listHeaders(rc)
	if err != nil {
		return nil, fmt.Errorf("list archive %s: %w", path, err)
	}
	a.Headers = headers
	return a, nil
}

func (a *Archive) decoderOptions() []rardecode.Option {
	if a.password == "" {
		return nil
	}
	return []rardecode.Option{rardecode.Password(a.password)}
}

func listHeaders(r entryReader) ([]Header, error) {
	var out []Header
	for {
		fh, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, toHeader(fh))
	}
}

func toHeader(fh *rardecode.FileHeader) Header {
	return Header{
		Name:         filepath.FromSlash(fh.Name),
		UnpackedSize: fh.UnPackedSize,
		UnknownSize:  fh.UnKnownSize,
		IsDir:        fh.IsDir,
		ModTime:      fh.ModificationTime,
		Mode:         fh.Mode(),
	}
}

// IsRegular reports whether ExtractInto writes the entry to disk. Only
// regular files are written.
func (h Header) IsRegular() bool {
	return !h.IsDir && h.Mode&os.ModeType == 0
}

func (a *Archive) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

// IsAlreadyExtracted reports whether every file entry exists under dest with
// its unpacked size. Entries ExtractInto skips, such as directories and
// symlinks, are not checked.
func (a *Archive) IsAlreadyExtracted(dest string) (bool, error) {
	for _, h := range a.Headers {
		if !h.IsRegular() {
			continue
		}
		target, err := security.SafeJoin(dest, h.Name)
		if err != nil {
			return false, err
		}
		fi, err := os.Stat(target)
		if errors.Is(err, os.ErrNotExist) {
			a.log().Debug(fmt.Sprintf("'%s' not found in destination", h.Name))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if h.UnknownSize {
			continue
		}
		if fi.Size() != h.UnpackedSize {
			a.log().Debug(fmt.Sprintf("'%s' size mismatch", h.Name),
				zap.String("got", humanize.IBytes(uint64(fi.Size()))),
				zap.String("want", humanize.IBytes(uint64(h.UnpackedSize))))
			return false, nil
		}
	}
	return true, nil
}

// ExtractInto writes every file entry of the archive under dest.
func (a *Archive) ExtractInto(ctx context.Context, dest string) error {
	rc, err := rardecode.OpenReader(a.Path, a.decoderOptions()...)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", a.Path, err)
	}
	defer func() { _ = rc.Close() }()
	if err := a.writeEntries(ctx, rc, dest); err != nil {
		return fmt.Errorf("extract %s: %w", a.Path, err)
	}
	return nil
}

func (a *Archive) writeEntries(ctx context.Context, r entryReader, dest string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fh, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if h := toHeader(fh); !h.IsRegular() {
			if !h.IsDir {
				a.log().Debug(fmt.Sprintf("skipping non-regular entry '%s'", fh.Name))
			}
			continue
		}
		target, err := security.SafeJoin(dest, fh.Name)
		if err != nil {
			return err
		}
		if err := writeFile(target, r, fh); err != nil {
			return err
		}
		a.log().Debug(fmt.Sprintf("'%s' written", target), zap.String("size", humanize.IBytes(uint64(fh.UnPackedSize))))
	}
}

// writeFile streams one entry to a temp file next to target and renames it
// into place, so an interrupted write never leaves a full-looking file.
func writeFile(target string, r io.Reader, fh *rardecode.FileHeader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", target, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".rarscan-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", target, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", target, err)
	}
	perm := fh.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", target, err)
	}
	if !fh.ModificationTime.IsZero() {
		_ = os.Chtimes(target, fh.ModificationTime, fh.ModificationTime)
	}
	return nil
}

// ListParts returns every volume file of this archive's set.
func (a *Archive) ListParts() ([]string, error) {
	return rarname.ListParts(a.Path)
}

// PartsGlob renders the volume set as a glob, for logging.
func (a *Archive) PartsGlob() string {
	return rarname.PartsPattern(a.Path).String()
}

// Entries returns the listed headers.
func (a *Archive) Entries() []Header {
	return a.Headers
}

// Location returns the path the archive was opened from.
func (a *Archive) Location() string {
	return a.Path
}
