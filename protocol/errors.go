package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMessageTooLarge   = errors.New("message exceeds maximum size")
	ErrUnknownCommand    = errors.New("unknown command discriminator")
	ErrUnknownResponse   = errors.New("unknown response discriminator")
	ErrTruncated         = errors.New("message truncated")
	ErrTrailingData      = errors.New("trailing bytes after last field")
	ErrInvalidBool       = errors.New("invalid bool byte")
	ErrNestedCompression = errors.New("compressed command wraps another compressed command")
	ErrEmptyMessage      = errors.New("empty message body")
	ErrInvalidTime       = errors.New("invalid timestamp")
)

// ProtocolError is a malformed or unreadable frame. The stream it came from is
// no longer aligned on a frame boundary and must be closed.
type ProtocolError struct {
	Op  string // "read frame", "decode command", "decode response", "decompress"
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
