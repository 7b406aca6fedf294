package handler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/vsrad/debugserver/protocol"
)

// statResultFile resolves a result file. Directories count as missing.
func statResultFile(segments []string) (string, os.FileInfo, error) {
	path := filepath.Join(segments...)
	info, err := os.Stat(path)
	if err != nil {
		return path, nil, err
	}
	if info.IsDir() {
		return path, nil, &os.PathError{Op: "stat", Path: path, Err: errors.New("is a directory")}
	}
	return path, info, nil
}

func (d *Dispatcher) fetchMetadata(_ context.Context, cmd *protocol.FetchMetadata) protocol.Response {
	path, info, err := statResultFile(cmd.FilePath)
	if err != nil {
		d.log.Debugw("result file not available", "Path", path, "Err", err)
		return &protocol.MetadataFetched{Status: protocol.FetchFileNotFound}
	}
	resp := &protocol.MetadataFetched{Status: protocol.FetchSuccessful, Timestamp: info.ModTime().UTC()}
	if cmd.BinaryOutput {
		resp.ByteCount = int32(info.Size())
		return resp
	}

	f, err := os.Open(path)
	if err != nil {
		d.log.Debugw("opening result file", "Path", path, "Err", err)
		return &protocol.MetadataFetched{Status: protocol.FetchFileNotFound}
	}
	defer f.Close()
	lines, err := countNonBlankLines(f)
	if err != nil {
		d.log.Debugw("reading result file", "Path", path, "Err", err)
		return &protocol.MetadataFetched{Status: protocol.FetchFileNotFound}
	}
	// the first line holds metadata, every other line one dword
	if lines > 1 {
		resp.ByteCount = int32((lines - 1) * 4)
	}
	return resp
}

func (d *Dispatcher) fetchResultRange(_ context.Context, cmd *protocol.FetchResultRange) protocol.Response {
	path, info, err := statResultFile(cmd.FilePath)
	if err != nil {
		d.log.Debugw("result file not available", "Path", path, "Err", err)
		return &protocol.ResultRangeFetched{Status: protocol.FetchFileNotFound}
	}
	timestamp := info.ModTime().UTC()

	var data []byte
	if cmd.BinaryOutput {
		data, err = readBinaryRange(path, info.Size(), cmd)
	} else {
		data, err = readTextRange(path, cmd)
	}
	if err != nil {
		d.log.Debugw("reading result file", "Path", path, "Err", err)
		return &protocol.ResultRangeFetched{Status: protocol.FetchFileNotFound}
	}
	return &protocol.ResultRangeFetched{Status: protocol.FetchSuccessful, Data: data, Timestamp: timestamp}
}

func readBinaryRange(path string, size int64, cmd *protocol.FetchResultRange) ([]byte, error) {
	if cmd.ByteOffset == 0 && cmd.ByteCount == 0 {
		return os.ReadFile(path)
	}
	pos := int64(cmd.ByteOffset) + int64(cmd.OutputOffset)
	count := int64(cmd.ByteCount)
	if pos < 0 || count <= 0 || pos >= size {
		return []byte{}, nil
	}
	if count > size-pos {
		count = size - pos
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, count)
	n, err := f.ReadAt(buf, pos)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func readTextRange(path string, cmd *protocol.FetchResultRange) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readTextDwords(f, int(cmd.OutputOffset), int(cmd.ByteOffset), int(cmd.ByteCount))
}
