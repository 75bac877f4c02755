// Package archive expands import archives into a workspace directory.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Format is a supported archive layout.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrUnsafePath is returned for entries that would land outside the destination.
	ErrUnsafePath = errors.New("archive entry escapes destination")
)

// EntryError reports the archive entry an extraction failed on.
type EntryError struct {
	Name string
	Err  error
}

func (e *EntryError) Error() string { return fmt.Sprintf("extract %s: %v", e.Name, e.Err) }
func (e *EntryError) Unwrap() error { return e.Err }

// Entry is one regular file written by Extract.
type Entry struct {
	// Name is the slash-separated path inside the archive.
	Name string
	// Path is where the file was written.
	Path string
	Size int64
}

// DetectFormat picks the format from the file name.
func DetectFormat(path string) (Format, error) {
	lower := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Extract expands the archive at src into dest in archive-entry order,
// calling onFile after each regular file is written. Directories are created
// as needed; symlinks and other special entries are skipped. The first
// failure stops extraction.
func Extract(ctx context.Context, src, dest string, onFile func(Entry) error) error {
	format, err := DetectFormat(src)
	if err != nil {
		return err
	}
	if onFile == nil {
		onFile = func(Entry) error { return nil }
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination %s: %w", dest, err)
	}

	x := &extractor{ctx: ctx, dest: filepath.Clean(dest), onFile: onFile}
	switch format {
	case FormatZip:
		return x.zip(src)
	default:
		return x.tarFile(src, format)
	}
}

type extractor struct {
	ctx    context.Context
	dest   string
	onFile func(Entry) error
}

// target resolves an entry name below dest.
func (x *extractor) target(name string) (string, error) {
	clean := filepath.FromSlash(strings.TrimPrefix(name, "./"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", ErrUnsafePath
	}
	target := filepath.Join(x.dest, clean)
	rel, err := filepath.Rel(x.dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return target, nil
}

func (x *extractor) dir(name string) error {
	target, err := x.target(name)
	if err != nil {
		return &EntryError{Name: name, Err: err}
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return &EntryError{Name: name, Err: err}
	}
	return nil
}

func (x *extractor) file(name string, r io.Reader) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	target, err := x.target(name)
	if err != nil {
		return &EntryError{Name: name, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &EntryError{Name: name, Err: err}
	}
	n, err := copyFile(target, r)
	if err != nil {
		return &EntryError{Name: name, Err: err}
	}
	return x.onFile(Entry{Name: name, Path: target, Size: n})
}

func copyFile(target string, r io.Reader) (written int64, err error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	written, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, fmt.Errorf("copy: %w", err)
	}
	return written, nil
}

func (x *extractor) zip(src string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", src, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := x.dir(zf.Name); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := x.zipEntry(zf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *extractor) zipEntry(zf *zip.File) error {
	rc, err := zf.Open()
	if err != nil {
		return &EntryError{Name: zf.Name, Err: err}
	}
	defer rc.Close()
	return x.file(zf.Name, rc)
}

func (x *extractor) tarFile(src string, format Format) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader %s: %w", src, err)
		}
		defer gz.Close()
		r = gz
	case FormatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd reader %s: %w", src, err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := x.dir(header.Name); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := x.file(header.Name, tr); err != nil {
				return err
			}
		}
	}
}
