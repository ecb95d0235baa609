package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Snapshot and log streams share one framing: a 3-byte magic tag, a 32-bit
// application cookie, a 32-bit format version, the payload, and a 32-bit end
// cookie. Cookie or version mismatch is a hard load failure — a truncated or
// foreign stream must never be partially applied.

var StreamMagic = [3]byte{'I', 'F', 'S'}

const (
	StreamCookie    uint32 = 0x49524f4e // "IRON"
	StreamEndCookie uint32 = 0x454e4453 // "ENDS"
	StreamVersion   uint32 = 1
)

var (
	ErrBadMagic   = errors.New("stream: bad magic tag")
	ErrBadCookie  = errors.New("stream: cookie mismatch")
	ErrBadVersion = errors.New("stream: unsupported format version")
	ErrTruncated  = errors.New("stream: truncated or missing end cookie")
)

// WriteStream frames payload into w.
func WriteStream(w io.Writer, payload []byte) error {
	if _, err := w.Write(StreamMagic[:]); err != nil {
		return errors.Wrap(err, "write magic")
	}
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], StreamCookie)
	binary.BigEndian.PutUint32(hdr[4:8], StreamVersion)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write payload")
	}
	end := make([]byte, 4)
	binary.BigEndian.PutUint32(end, StreamEndCookie)
	_, err := w.Write(end)
	return errors.Wrap(err, "write end cookie")
}

// ReadStream unframes a stream written by WriteStream and returns the payload.
// Any framing violation returns a typed error; the caller must treat it as a
// fatal load failure, not recover partially.
func ReadStream(r io.Reader) ([]byte, error) {
	var magic [3]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrBadMagic
	}
	if magic != StreamMagic {
		return nil, ErrBadMagic
	}
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, ErrTruncated
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != StreamCookie {
		return nil, ErrBadCookie
	}
	if binary.BigEndian.Uint32(hdr[4:8]) != StreamVersion {
		return nil, ErrBadVersion
	}
	size := binary.BigEndian.Uint32(hdr[8:12])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrTruncated
	}
	end := make([]byte, 4)
	if _, err := io.ReadFull(r, end); err != nil {
		return nil, ErrTruncated
	}
	if binary.BigEndian.Uint32(end) != StreamEndCookie {
		return nil, ErrTruncated
	}
	return payload, nil
}

// FrameStream is a convenience wrapper returning the framed bytes in memory.
func FrameStream(payload []byte) []byte {
	var buf bytes.Buffer
	// bytes.Buffer writes cannot fail.
	_ = WriteStream(&buf, payload)
	return buf.Bytes()
}
