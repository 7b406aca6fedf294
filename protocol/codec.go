package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// DefaultMaxMessageSize bounds the declared length of a single frame, and the
// decompressed size of a Compressed command.
const DefaultMaxMessageSize = 256 << 20

// Compressed sends Command deflate-compressed. It only exists on the encoding
// side: decoding unwraps it and returns the inner command.
type Compressed struct {
	Command Command
}

// Compress wraps c for compressed transmission.
func Compress(c Command) *Compressed {
	if cc, ok := c.(*Compressed); ok {
		return cc
	}
	return &Compressed{Command: c}
}

func (c *Compressed) CommandType() CommandType { return TypeCompressed }
func (c *Compressed) String() string           { return "Compressed(" + c.Command.String() + ")" }

func (c *Compressed) encode(w *writer) {
	var buf bytes.Buffer
	// flate.NewWriter only fails on an invalid level, and bytes.Buffer never fails.
	fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	_, _ = fw.Write(MarshalCommand(c.Command))
	_ = fw.Close()
	w.bytes(buf.Bytes())
}

// MarshalCommand returns the frame body of c: its discriminator followed by its fields.
func MarshalCommand(c Command) []byte { return commandFrame(c)[4:] }

// MarshalResponse returns the frame body of r.
func MarshalResponse(r Response) []byte { return responseFrame(r)[4:] }

func commandFrame(c Command) []byte {
	w := &writer{buf: []byte{0, 0, 0, 0, byte(c.CommandType())}}
	c.encode(w)
	return sealFrame(w.buf)
}

func responseFrame(r Response) []byte {
	w := &writer{buf: []byte{0, 0, 0, 0, byte(r.ResponseType())}}
	r.encode(w)
	return sealFrame(w.buf)
}

// sealFrame fills in the length header reserved at the start of buf.
func sealFrame(buf []byte) []byte {
	binary.LittleEndian.PutUint32(buf, uint32(len(buf)-4))
	return buf
}

// UnmarshalCommand decodes a frame body produced by MarshalCommand.
func UnmarshalCommand(body []byte) (Command, error) {
	return unmarshalCommand(body, DefaultMaxMessageSize, true)
}

func unmarshalCommand(body []byte, limit uint32, allowCompressed bool) (Command, error) {
	if len(body) == 0 {
		return nil, &ProtocolError{Op: "decode command", Err: ErrEmptyMessage}
	}
	t := CommandType(body[0])
	r := &reader{buf: body[1:]}
	if t == TypeCompressed {
		if !allowCompressed {
			return nil, &ProtocolError{Op: "decode command", Err: ErrNestedCompression}
		}
		return decompressCommand(r, limit)
	}
	decode, ok := commandDecoders[t]
	if !ok {
		return nil, &ProtocolError{Op: "decode command", Err: fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, byte(t))}
	}
	cmd := decode(r)
	if err := r.finish(); err != nil {
		return nil, &ProtocolError{Op: "decode " + t.String(), Err: err}
	}
	return cmd, nil
}

func decompressCommand(r *reader, limit uint32) (Command, error) {
	data := r.bytes()
	if err := r.finish(); err != nil {
		return nil, &ProtocolError{Op: "decode Compressed", Err: err}
	}
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	body, err := io.ReadAll(io.LimitReader(fr, int64(limit)+1))
	if err != nil {
		return nil, &ProtocolError{Op: "decompress", Err: err}
	}
	if uint64(len(body)) > uint64(limit) {
		return nil, &ProtocolError{Op: "decompress", Err: ErrMessageTooLarge}
	}
	return unmarshalCommand(body, limit, false)
}

// UnmarshalResponse decodes a frame body produced by MarshalResponse.
func UnmarshalResponse(body []byte) (Response, error) {
	if len(body) == 0 {
		return nil, &ProtocolError{Op: "decode response", Err: ErrEmptyMessage}
	}
	t := ResponseType(body[0])
	decode, ok := responseDecoders[t]
	if !ok {
		return nil, &ProtocolError{Op: "decode response", Err: fmt.Errorf("%w: 0x%02x", ErrUnknownResponse, byte(t))}
	}
	r := &reader{buf: body[1:]}
	resp := decode(r)
	if err := r.finish(); err != nil {
		return nil, &ProtocolError{Op: "decode " + t.String(), Err: err}
	}
	return resp, nil
}
