package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("codec")

// HeaderSize is the size of the frame header: 1 byte kind + 4 bytes length.
const HeaderSize = 5

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrTruncated     = errors.New("stream ended inside a frame")
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ProtocolError reports a frame that violates the wire format. A fatal error means
// the stream position is lost and the session must be closed. A non-fatal error
// concerns a single well-framed request and is answered with an ERROR frame.
type ProtocolError struct {
	Msg   string
	Fatal bool
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Msg, e.Err)
	}
	return "protocol error: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsFatal reports whether err is a fatal *ProtocolError.
func IsFatal(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Fatal
}

// --------------------------------------------------------------------------
// Frame
// --------------------------------------------------------------------------

// Frame is one message on the wire.
type Frame struct {
	Kind    common.MessageType
	Payload []byte
}

// Object decodes the payload as a JSON mapping. An empty payload is the empty
// mapping. Malformed payloads yield a non-fatal *ProtocolError.
func (f Frame) Object() (*document.Object, error) {
	if len(bytes.TrimSpace(f.Payload)) == 0 {
		return document.NewObject(), nil
	}
	obj, err := document.ParseObject(f.Payload)
	if err != nil {
		return nil, &ProtocolError{Msg: "malformed payload", Err: err}
	}
	return obj, nil
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode marshals payload to JSON and lays out a complete frame.
func Encode(kind common.MessageType, payload any) ([]byte, error) {
	data, err := marshal(payload)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(Frame{Kind: kind, Payload: data})
}

// EncodeFrame lays out a frame whose payload is already encoded.
func EncodeFrame(f Frame) ([]byte, error) {
	if uint64(len(f.Payload)) > math.MaxUint32 {
		return nil, &ProtocolError{Msg: fmt.Sprintf("payload of %d bytes", len(f.Payload)), Err: ErrFrameTooLarge}
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	putHeader(buf, f)
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// WriteFrame writes header and payload with a single vectored write.
func WriteFrame(w io.Writer, f Frame) error {
	if uint64(len(f.Payload)) > math.MaxUint32 {
		return &ProtocolError{Msg: fmt.Sprintf("payload of %d bytes", len(f.Payload)), Err: ErrFrameTooLarge}
	}
	header := make([]byte, HeaderSize)
	putHeader(header, f)

	b := net.Buffers{header, f.Payload}
	_, err := b.WriteTo(w)
	return err
}

// WriteMessage marshals payload and writes it as one frame.
func WriteMessage(w io.Writer, kind common.MessageType, payload any) error {
	data, err := marshal(payload)
	if err != nil {
		return err
	}
	return WriteFrame(w, Frame{Kind: kind, Payload: data})
}

func putHeader(dst []byte, f Frame) {
	dst[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(dst[1:HeaderSize], uint32(len(f.Payload)))
}

func marshal(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case *document.Object:
		return []byte(p.String()), nil
	case []byte:
		return p, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// ReadFrame reads exactly one frame from r. A clean end of stream before the first
// header byte returns io.EOF. A stream ending inside a frame, or a declared length
// above maxSize, returns a fatal *ProtocolError. A maxSize of 0 disables the limit.
// Other read errors are returned unchanged.
func ReadFrame(r io.Reader, maxSize uint32) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Frame{}, &ProtocolError{Msg: "incomplete header", Fatal: true, Err: ErrTruncated}
		}
		return Frame{}, err
	}

	kind := common.MessageType(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if maxSize > 0 && length > maxSize {
		Logger.Warningf("rejecting %s frame of %d bytes (limit %d)", kind, length, maxSize)
		return Frame{}, &ProtocolError{
			Msg:   fmt.Sprintf("declared length %d exceeds limit %d", length, maxSize),
			Fatal: true,
			Err:   ErrFrameTooLarge,
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, &ProtocolError{Msg: fmt.Sprintf("incomplete payload (expected %d bytes)", length), Fatal: true, Err: ErrTruncated}
		}
		return Frame{}, err
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

// Decode reads one frame from the start of data and returns it together with the
// number of bytes consumed. The error contract matches ReadFrame.
func Decode(data []byte, maxSize uint32) (Frame, int, error) {
	f, err := ReadFrame(bytes.NewReader(data), maxSize)
	if err != nil {
		return Frame{}, 0, err
	}
	return f, HeaderSize + len(f.Payload), nil
}
