package handler

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Text result files hold one metadata line followed by one hex dword per
// line, optionally 0x-prefixed. Blank lines are not dwords.

func countNonBlankLines(r io.Reader) (int, error) {
	n := 0
	err := eachLine(r, func(line string) bool {
		if strings.TrimSpace(line) != "" {
			n++
		}
		return true
	})
	return n, err
}

// readTextDwords skips skipLines lines and then the metadata line, and returns
// the little-endian bytes of the dwords covering [offset, offset+count), with
// offset rounded down to a dword boundary. Lines that do not parse as hex take
// up their slot but produce no bytes.
func readTextDwords(r io.Reader, skipLines, offset, count int) ([]byte, error) {
	if offset < 0 {
		offset = 0
	}
	start := offset &^ 3
	end := start + count
	out := []byte{}
	skipped, seenMetadata, slot := 0, false, 0

	err := eachLine(r, func(line string) bool {
		if skipped < skipLines {
			skipped++
			return true
		}
		if !seenMetadata {
			seenMetadata = true
			return true
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return true
		}
		pos := slot * 4
		slot++
		if pos >= end {
			return false
		}
		if pos < start {
			return true
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(line, "0x"), "0X"), 16, 32)
		if err == nil {
			out = binary.LittleEndian.AppendUint32(out, uint32(v))
		}
		return true
	})
	return out, err
}

// eachLine calls f for every line of r until f returns false. Lines may be of
// any length and lose their terminator.
func eachLine(r io.Reader, f func(line string) bool) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if !f(strings.TrimRight(line, "\r\n")) {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
