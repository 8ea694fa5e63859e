package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/golang/snappy"
)

// Transport message codes (spec.md §4.1).
const (
	CodeHello      byte = 0x10
	CodeStatus     byte = 0x11
	CodePing       byte = 0x12
	CodePong       byte = 0x13
	CodeDisconnect byte = 0x14
	CodeAppTest    byte = 0x20
)

const (
	// DefaultMaxFrame is the default declared-length ceiling for an inbound
	// TCP frame (spec.md §4.1, §6).
	DefaultMaxFrame = 64 * 1024
	// MaxDecompressed bounds the size a compression envelope may expand to.
	MaxDecompressed = 16 * 1024 * 1024
)

var (
	ErrFrameTooLarge      = errors.New("wire: frame exceeds max frame size")
	ErrDecompressTooLarge = errors.New("wire: decompressed size exceeds limit")
	ErrUnknownAlgo        = errors.New("wire: unknown compression algorithm")
)

// Compression algorithm identifiers for the envelope byte.
const (
	CompressNone   byte = 0
	CompressSnappy byte = 1
)

// FrameCodec reads and writes length-prefixed frames: u32 length || envelope.
// Every frame carries the compression envelope, whatever Compress says: when
// Compress is true writes snappy-compress the body (CompressSnappy),
// otherwise they store it as is (CompressNone). Reads accept either algo and
// reject a frame that has no envelope; see spec.md §4.1.
type FrameCodec struct {
	MaxFrame uint32
	Compress bool
}

func NewFrameCodec(maxFrame uint32, compress bool) *FrameCodec {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrame
	}
	return &FrameCodec{MaxFrame: maxFrame, Compress: compress}
}

// WriteFrame encodes body (already including its leading message code byte)
// into a single frame and writes it to w.
func (c *FrameCodec) WriteFrame(w io.Writer, body []byte) error {
	payload := body
	if c.Compress {
		payload = encodeEnvelope(CompressSnappy, body)
	} else {
		payload = encodeEnvelope(CompressNone, body)
	}
	if uint32(len(payload)) > c.MaxFrame {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame from r and returns the decoded, decompressed
// body. Declared lengths of 0 or greater than MaxFrame are rejected, per the
// boundary tests in spec.md §8.
func (c *FrameCodec) ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > c.MaxFrame {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return decodeEnvelope(payload)
}

// encodeEnvelope wraps body as: u8 algo || u32 uncompressed_size || bytes compressed.
func encodeEnvelope(algo byte, body []byte) []byte {
	var compressed []byte
	switch algo {
	case CompressSnappy:
		compressed = snappy.Encode(nil, body)
	default:
		compressed = body
	}
	out := make([]byte, 0, 1+4+len(compressed))
	out = append(out, algo)
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(len(body)))
	out = append(out, sz[:]...)
	out = append(out, compressed...)
	return out
}

func decodeEnvelope(b []byte) ([]byte, error) {
	if len(b) < 5 {
		return nil, ErrMalformed
	}
	algo := b[0]
	uncompressedSize := binary.BigEndian.Uint32(b[1:5])
	if uncompressedSize > MaxDecompressed {
		return nil, ErrDecompressTooLarge
	}
	rest := b[5:]
	switch algo {
	case CompressNone:
		if uint32(len(rest)) != uncompressedSize {
			return nil, ErrMalformed
		}
		return rest, nil
	case CompressSnappy:
		out, err := snappy.Decode(nil, rest)
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != uncompressedSize {
			return nil, ErrMalformed
		}
		return out, nil
	default:
		return nil, ErrUnknownAlgo
	}
}
