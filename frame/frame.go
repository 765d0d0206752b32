// Package frame implements the burrow wire framing: every message is a
// 4-byte big-endian length prefix followed by exactly that many bytes of
// UTF-8 JSON.
package frame

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the length of the big-endian length prefix.
const HeaderSize = 4

// DefaultMaxSize is the default ceiling on a single message body.
const DefaultMaxSize = 16 << 20

var (
	// ErrTruncated is returned when the stream ends inside a prefix or body.
	ErrTruncated = errors.New("frame: stream closed mid-message")
	// ErrMalformed wraps a body that is not valid JSON for the target type.
	ErrMalformed = errors.New("frame: malformed message body")
)

// TooLargeError reports a frame whose declared length exceeds the reader's
// ceiling. The body has already been discarded, so the stream is still in
// sync and the next message can be read.
type TooLargeError struct {
	Size  uint32
	Limit int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("frame: message of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// Append frames an already-encoded body onto dst.
func Append(dst, body []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

// Encode marshals v as JSON and returns the framed bytes.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("frame: body of %d bytes does not fit a 4-byte prefix", len(body))
	}
	return Append(make([]byte, 0, HeaderSize+len(body)), body), nil
}

// Writer writes framed JSON messages.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes v and writes the whole frame with a single call to the
// underlying writer.
func (w *Writer) Write(v any) error {
	buf, err := Encode(v)
	if err != nil {
		return err
	}
	_, err = w.w.Write(buf)
	return err
}

// Reader reads framed messages.
type Reader struct {
	r io.Reader
	// MaxSize bounds a single body. Zero or negative disables the check.
	MaxSize int

	hdr [HeaderSize]byte
}

// NewReader returns a Reader on r with the given ceiling.
func NewReader(r io.Reader, maxSize int) *Reader {
	return &Reader{r: r, MaxSize: maxSize}
}

// Next reads one frame and returns its body.
//
// It returns io.EOF when the stream ends cleanly before a new prefix,
// ErrTruncated when it ends part way through a frame, and *TooLargeError
// when the declared length is over MaxSize.
func (r *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(r.hdr[:])

	if r.MaxSize > 0 && uint64(n) > uint64(r.MaxSize) {
		if _, err := io.CopyN(io.Discard, r.r, int64(n)); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrTruncated
			}
			return nil, err
		}
		return nil, &TooLargeError{Size: n, Limit: r.MaxSize}
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return body, nil
}

// Decode reads one frame and unmarshals it into v. JSON failures are
// wrapped in ErrMalformed; the stream stays usable after them.
func (r *Reader) Decode(v any) error {
	body, err := r.Next()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}
