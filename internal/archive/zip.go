// Package archive packs and unpacks the zip payloads carried by Deploy commands.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

var (
	ErrPathOutsideRoot = errors.New("path escapes root directory")
	ErrTooLarge        = errors.New("extracted data exceeds size limit")
)

// SecureJoin joins a slash-separated relative path onto root and fails if the
// result would land outside root.
func SecureJoin(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(filepath.Clean(root), target)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, rel)
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, rel)
	}
	return target, nil
}

// Unpack extracts the zip archive in data into dest, creating dest if needed
// and overwriting existing files. Entry names and declared sizes are checked
// before anything is written, so an archive with an escaping entry leaves dest
// untouched. At most limit bytes are extracted in total.
func Unpack(data []byte, dest string, preserveTimestamps bool, limit int64) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	targets := make([]string, len(zr.File))
	var declared uint64
	for i, f := range zr.File {
		targets[i], err = SecureJoin(dest, f.Name)
		if err != nil {
			return err
		}
		declared += f.UncompressedSize64
	}
	if declared > uint64(limit) {
		return fmt.Errorf("%w: archive declares %d bytes", ErrTooLarge, declared)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	type dirStamp struct {
		path string
		t    time.Time
	}
	var dirs []dirStamp
	for i, f := range zr.File {
		target := targets[i]
		if strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", f.Name, err)
			}
			dirs = append(dirs, dirStamp{target, f.Modified})
			continue
		}
		if err := extractFile(f, target, &limit); err != nil {
			return err
		}
		if preserveTimestamps {
			if err := os.Chtimes(target, f.Modified, f.Modified); err != nil {
				return fmt.Errorf("setting timestamp of %s: %w", f.Name, err)
			}
		}
	}
	// Directory times go last since writing their children bumps them.
	if preserveTimestamps {
		for _, d := range dirs {
			if err := os.Chtimes(d.path, d.t, d.t); err != nil {
				return fmt.Errorf("setting timestamp of %s: %w", d.path, err)
			}
		}
	}
	return nil
}

// extractFile writes one entry, charging its size against budget. Declared
// sizes are not trusted; the copy itself is bounded.
func extractFile(f *zip.File, target string, budget *int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", f.Name, err)
	}
	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", f.Name, err)
	}
	n, err := io.Copy(out, io.LimitReader(rc, *budget+1))
	if err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	if n > *budget {
		out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, ErrTooLarge)
	}
	*budget -= n
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", f.Name, err)
	}
	return nil
}

// Pack zips the contents of dir, with entry names relative to dir.
func Pack(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing archive: %w", err)
	}
	return buf.Bytes(), nil
}
