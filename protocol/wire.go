package protocol

import (
	"encoding/binary"
	"math"
	"sort"
	"time"
)

// writer appends little-endian fields to a growing buffer.
type writer struct {
	buf []byte
}

func (w *writer) byte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) bool(b bool) {
	if b {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

func (w *writer) uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) int32(v int32)   { w.uint32(uint32(v)) }
func (w *writer) int64(v int64)   { w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v)) }

func (w *writer) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) string(s string) {
	w.uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) strings(ss []string) {
	w.uint32(uint32(len(ss)))
	for _, s := range ss {
		w.string(s)
	}
}

func (w *writer) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.uint32(uint32(len(keys)))
	for _, k := range keys {
		w.string(k)
		w.string(m[k])
	}
}

// duration writes d in whole milliseconds, truncating the remainder.
func (w *writer) duration(d time.Duration) { w.int64(d.Milliseconds()) }

func (w *writer) time(t time.Time) {
	w.int64(t.Unix())
	w.int32(int32(t.Nanosecond()))
}

// reader consumes fields from a fully buffered frame body. The first failure
// sticks: later reads return zero values and err reports the cause.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bool() bool {
	switch r.byte() {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = ErrInvalidBool
		}
		return false
	}
}

// Smallest encodings of variable-length values.
const (
	minStringSize = 4
	timeSize      = 12
)

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) int32() int32 { return int32(r.uint32()) }

func (r *reader) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// count reads an element count and rejects counts that could not possibly fit
// in the rest of the body given the smallest encoding of one element, so the
// capacity allocated for a collection never exceeds the bytes that carry it.
func (r *reader) count(minSize int) int {
	n := r.uint32()
	if r.err != nil {
		return 0
	}
	if n > math.MaxInt32 || int(n) > r.remaining()/minSize {
		r.err = ErrTruncated
		return 0
	}
	return int(n)
}

func (r *reader) bytes() []byte {
	n := r.count(1)
	if n == 0 {
		return nil
	}
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) string() string {
	n := r.count(1)
	return string(r.take(n))
}

func (r *reader) strings() []string {
	n := r.count(minStringSize)
	if n == 0 {
		return nil
	}
	ss := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		ss = append(ss, r.string())
	}
	return ss
}

func (r *reader) stringMap() map[string]string {
	n := r.count(2 * minStringSize)
	if n == 0 {
		return nil
	}
	m := make(map[string]string, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.string()
		m[k] = r.string()
	}
	return m
}

func (r *reader) duration() time.Duration {
	return time.Duration(r.int64()) * time.Millisecond
}

func (r *reader) time() time.Time {
	sec := r.int64()
	nsec := r.int32()
	if nsec < 0 || nsec >= int32(time.Second) {
		if r.err == nil {
			r.err = ErrInvalidTime
		}
		return time.Time{}
	}
	return time.Unix(sec, int64(nsec)).UTC()
}

// finish reports the sticky error, or ErrTrailingData if the body was not
// consumed exactly.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.remaining() != 0 {
		return ErrTrailingData
	}
	return nil
}
