package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// pong is the complete frame sent in reply to a ping.
var pong = []byte{0, 0, 0, 0}

// Decoder reads frames from a stream.
type Decoder struct {
	r       io.Reader
	pong    io.Writer
	maxSize uint32
	header  [4]byte
}

type DecoderOption func(d *Decoder)

// WithMaxMessageSize rejects frames whose declared length exceeds n.
func WithMaxMessageSize(n uint32) DecoderOption {
	return func(d *Decoder) {
		d.maxSize = n
	}
}

// WithPongWriter makes the decoder answer pings by writing an empty frame to w.
// Without it pings are skipped silently.
func WithPongWriter(w io.Writer) DecoderOption {
	return func(d *Decoder) {
		d.pong = w
	}
}

func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{r: r, maxSize: DefaultMaxMessageSize}
	for _, o := range opts {
		o(d)
	}
	return d
}

// DecodeCommand blocks until a complete command frame has arrived, answering
// any pings in front of it. It returns the command and the number of bytes the
// frame occupied on the wire. io.EOF means the peer closed the stream cleanly
// between frames.
func (d *Decoder) DecodeCommand() (Command, int, error) {
	body, n, err := d.readFrame()
	if err != nil {
		return nil, n, err
	}
	cmd, err := unmarshalCommand(body, d.maxSize, true)
	return cmd, n, err
}

// DecodeResponse is DecodeCommand for the client side.
func (d *Decoder) DecodeResponse() (Response, int, error) {
	body, n, err := d.readFrame()
	if err != nil {
		return nil, n, err
	}
	resp, err := UnmarshalResponse(body)
	return resp, n, err
}

func (d *Decoder) readFrame() ([]byte, int, error) {
	for {
		if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, &ProtocolError{Op: "read frame", Err: ErrTruncated}
			}
			return nil, 0, err
		}
		size := binary.LittleEndian.Uint32(d.header[:])
		if size == 0 {
			if d.pong != nil {
				if _, err := d.pong.Write(pong); err != nil {
					return nil, 0, err
				}
			}
			continue
		}
		if size > d.maxSize {
			return nil, 0, &ProtocolError{Op: "read frame", Err: ErrMessageTooLarge}
		}

		// Grow with the data actually received instead of trusting the header.
		var buf bytes.Buffer
		if size < 64<<10 {
			buf.Grow(int(size))
		}
		read, err := io.CopyN(&buf, d.r, int64(size))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, 0, &ProtocolError{Op: "read frame", Err: ErrTruncated}
			}
			return nil, 0, err
		}
		return buf.Bytes(), int(read) + 4, nil
	}
}

// Encoder writes frames to a stream. Each message goes out in a single Write.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) EncodeCommand(c Command) (int, error) {
	return e.w.Write(commandFrame(c))
}

func (e *Encoder) EncodeResponse(r Response) (int, error) {
	return e.w.Write(responseFrame(r))
}

// EncodePing writes an empty frame.
func (e *Encoder) EncodePing() error {
	_, err := e.w.Write(pong)
	return err
}
