package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/vsrad/debugserver/internal/archive"
	"github.com/vsrad/debugserver/protocol"
)

func (d *Dispatcher) listFiles(_ context.Context, cmd *protocol.ListFiles) protocol.Response {
	files, err := collectFileMetadata(cmd.RootPath, cmd.Globs)
	if err != nil {
		d.log.Debugw("listing files", "Root", cmd.RootPath, "Err", err)
	}
	return &protocol.ListFilesResponse{Files: files}
}

// collectFileMetadata lists the files under root matching any of globs (all
// files when globs is empty), preceded by "./" for root itself and by every
// directory that contains a match. A root that is a regular file yields a
// single entry with an empty path, and a missing root yields nothing.
func collectFileMetadata(root string, globs []string) ([]protocol.FileMetadata, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []protocol.FileMetadata{{RelativePath: "", Size: info.Size(), LastWriteTime: info.ModTime().UTC()}}, nil
	}

	dirs := []protocol.FileMetadata{{RelativePath: "./", LastWriteTime: info.ModTime().UTC()}}
	var subdirs, files []protocol.FileMetadata
	err = filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			if e != nil && e.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		fi, err := e.Info()
		if err != nil {
			return nil
		}
		if e.IsDir() {
			subdirs = append(subdirs, protocol.FileMetadata{RelativePath: rel + "/", LastWriteTime: fi.ModTime().UTC()})
			return nil
		}
		if matchesAny(globs, rel) {
			files = append(files, protocol.FileMetadata{RelativePath: rel, Size: fi.Size(), LastWriteTime: fi.ModTime().UTC()})
		}
		return nil
	})

	hasMatch := make(map[string]bool)
	for _, f := range files {
		for dir := path.Dir(f.RelativePath); dir != "."; dir = path.Dir(dir) {
			hasMatch[dir+"/"] = true
		}
	}
	for _, dir := range subdirs {
		if hasMatch[dir.RelativePath] {
			dirs = append(dirs, dir)
		}
	}
	return append(dirs, files...), err
}

func matchesAny(globs []string, rel string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func getFilesStatus(err error) protocol.GetFilesStatus {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return protocol.GetFilesFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return protocol.GetFilesPermissionDenied
	default:
		return protocol.GetFilesOtherIOError
	}
}

func (d *Dispatcher) getFiles(_ context.Context, cmd *protocol.GetFiles) protocol.Response {
	files := make([]protocol.PackedFile, 0, len(cmd.Paths))
	for _, p := range cmd.Paths {
		f, err := packFile(cmd.RootPath, p, cmd.UseCompression)
		if err != nil {
			d.log.Debugw("packing file", "Root", cmd.RootPath, "Path", p, "Err", err)
			return &protocol.GetFilesResponse{Status: getFilesStatus(err)}
		}
		files = append(files, f)
	}
	return &protocol.GetFilesResponse{Status: protocol.GetFilesSuccessful, Files: files}
}

func packFile(root, rel string, compress bool) (protocol.PackedFile, error) {
	full, err := archive.SecureJoin(root, rel)
	if err != nil {
		return protocol.PackedFile{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return protocol.PackedFile{}, err
	}
	packed := protocol.PackedFile{RelativePath: rel, LastWriteTime: info.ModTime().UTC()}
	if strings.HasSuffix(rel, "/") {
		return packed, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return protocol.PackedFile{}, err
	}
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return protocol.PackedFile{}, err
		}
		if err := zw.Close(); err != nil {
			return protocol.PackedFile{}, err
		}
		data = buf.Bytes()
	}
	packed.Data = data
	return packed, nil
}

func putFilesStatus(err error) protocol.PutFilesStatus {
	switch {
	case errors.Is(err, archive.ErrPathOutsideRoot):
		return protocol.PutFilesPathOutsideRoot
	case errors.Is(err, fs.ErrPermission):
		return protocol.PutFilesPermissionDenied
	default:
		return protocol.PutFilesOtherIOError
	}
}

func (d *Dispatcher) putFiles(_ context.Context, cmd *protocol.PutFiles) protocol.Response {
	if err := unpackFiles(cmd, d.env.unpackLimit()); err != nil {
		d.log.Warnw("writing files", "Root", cmd.RootPath, "Err", err)
		return &protocol.PutFilesResponse{Status: putFilesStatus(err)}
	}
	return &protocol.PutFilesResponse{Status: protocol.PutFilesSuccessful}
}

// unpackFiles writes cmd.Files under cmd.RootPath. Every path is checked
// before anything is written. At most limit bytes are written in total.
func unpackFiles(cmd *protocol.PutFiles, limit int64) error {
	targets := make([]string, len(cmd.Files))
	for i, f := range cmd.Files {
		t, err := archive.SecureJoin(cmd.RootPath, f.RelativePath)
		if err != nil {
			return err
		}
		targets[i] = t
	}

	var dirs []int
	for i, f := range cmd.Files {
		target := targets[i]
		if f.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			dirs = append(dirs, i)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		data := f.Data
		if cmd.UseCompression {
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return err
			}
			data, err = io.ReadAll(io.LimitReader(zr, limit+1))
			if err != nil {
				return err
			}
		}
		if int64(len(data)) > limit {
			return fmt.Errorf("%s: %w", f.RelativePath, archive.ErrTooLarge)
		}
		limit -= int64(len(data))
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
		if cmd.PreserveTimestamps {
			if err := os.Chtimes(target, f.LastWriteTime, f.LastWriteTime); err != nil {
				return err
			}
		}
	}
	if cmd.PreserveTimestamps {
		for _, i := range dirs {
			t := cmd.Files[i].LastWriteTime
			if err := os.Chtimes(targets[i], t, t); err != nil {
				return err
			}
		}
	}
	return nil
}
