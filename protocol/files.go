package protocol

import (
	"strings"
	"time"
)

// FileMetadata describes one entry under a listed root. Paths use "/" on every
// platform; a path ending in "/" is a directory, "./" is the root itself, and
// an empty path means the root is a regular file.
type FileMetadata struct {
	RelativePath  string
	Size          int64
	LastWriteTime time.Time
}

func (m FileMetadata) IsDir() bool { return strings.HasSuffix(m.RelativePath, "/") }

// PackedFile is a file (or directory marker) in transit. Data may be gzip
// compressed depending on the command that carries it.
type PackedFile struct {
	RelativePath  string
	LastWriteTime time.Time
	Data          []byte
}

func (f PackedFile) IsDir() bool { return strings.HasSuffix(f.RelativePath, "/") }

func writeFileMetadata(w *writer, files []FileMetadata) {
	w.uint32(uint32(len(files)))
	for _, f := range files {
		w.string(f.RelativePath)
		w.int64(f.Size)
		w.time(f.LastWriteTime)
	}
}

// Encoded sizes of the smallest FileMetadata and PackedFile.
const (
	minFileMetadataSize = minStringSize + 8 + timeSize
	minPackedFileSize   = minStringSize + timeSize + 4
)

func readFileMetadata(r *reader) []FileMetadata {
	n := r.count(minFileMetadataSize)
	if n == 0 {
		return nil
	}
	files := make([]FileMetadata, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		files = append(files, FileMetadata{
			RelativePath:  r.string(),
			Size:          r.int64(),
			LastWriteTime: r.time(),
		})
	}
	return files
}

func writePackedFiles(w *writer, files []PackedFile) {
	w.uint32(uint32(len(files)))
	for _, f := range files {
		w.string(f.RelativePath)
		w.time(f.LastWriteTime)
		w.bytes(f.Data)
	}
}

func readPackedFiles(r *reader) []PackedFile {
	n := r.count(minPackedFileSize)
	if n == 0 {
		return nil
	}
	files := make([]PackedFile, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		files = append(files, PackedFile{
			RelativePath:  r.string(),
			LastWriteTime: r.time(),
			Data:          r.bytes(),
		})
	}
	return files
}
