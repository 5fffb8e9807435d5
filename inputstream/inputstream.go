// Package inputstream provides the shared, mutable input buffer that the
// tokenizer reads from. The buffer holds already-decoded UTF-8; the stream
// exposes a code-point cursor over it together with the mutation operations
// the tokenizer needs (in-place case changes, range replacement, push-back).
// Consumers holding offsets into the buffer register a move handler to learn
// when the backing storage relocates.
package inputstream

import (
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ErrOutOfData is returned by Peek when the stream has not been terminated
// but no complete code point is currently available.
var ErrOutOfData = errors.New("inputstream: out of data")

// Span is a byte range within the stream's current buffer.
type Span struct {
	Off int
	Len int
}

// MoveHandler is notified whenever the backing buffer relocates or its
// contents shift. The slice passed is the new buffer.
type MoveHandler func(buf []byte)

// Stream is a growable byte buffer with a code-point cursor.
type Stream struct {
	buf    []byte
	cursor int
	eof    bool

	handlers map[int]MoveHandler
	nextID   int
}

// New creates an empty stream.
func New() *Stream {
	return &Stream{handlers: map[int]MoveHandler{}}
}

// NewFromString creates a terminated stream over s. Convenient for tests and
// one-shot tokenization.
func NewFromString(s string) *Stream {
	st := New()
	st.Append([]byte(s))
	st.AppendEOF()
	return st
}

// Append adds a chunk of decoded UTF-8 to the end of the buffer.
func (s *Stream) Append(data []byte) error {
	if s.eof {
		return errors.New("inputstream: append after EOF")
	}
	if len(data) == 0 {
		return nil
	}

	var old *byte
	if len(s.buf) > 0 {
		old = &s.buf[0]
	}
	s.buf = append(s.buf, data...)
	if old == nil || &s.buf[0] != old {
		s.notifyMove()
	}
	return nil
}

// AppendEOF marks the stream as terminated. Peek at the end of the buffer
// returns io.EOF from now on.
func (s *Stream) AppendEOF() error {
	if s.eof {
		return errors.New("inputstream: already terminated")
	}
	s.eof = true
	return nil
}

// Peek returns the code point under the cursor without consuming it. It
// returns ErrOutOfData if the stream is unterminated and no complete code
// point is buffered, and io.EOF once the terminated stream is exhausted.
func (s *Stream) Peek() (rune, error) {
	if s.cursor >= len(s.buf) {
		if s.eof {
			return 0, io.EOF
		}
		return 0, ErrOutOfData
	}
	if !utf8.FullRune(s.buf[s.cursor:]) && !s.eof {
		// Partial sequence; the rest of it has not arrived yet.
		return 0, ErrOutOfData
	}
	r, _ := utf8.DecodeRune(s.buf[s.cursor:])
	return r, nil
}

// Advance moves the cursor past the current code point. It is a no-op if
// there is nothing complete under the cursor.
func (s *Stream) Advance() {
	if _, err := s.Peek(); err != nil {
		return
	}
	_, n := utf8.DecodeRune(s.buf[s.cursor:])
	s.cursor += n
}

// CurPos returns the byte offset and byte length of the code point under the
// cursor. Length is zero if no complete code point is available.
func (s *Stream) CurPos() (off, n int) {
	if _, err := s.Peek(); err != nil {
		return s.cursor, 0
	}
	_, n = utf8.DecodeRune(s.buf[s.cursor:])
	return s.cursor, n
}

// Rewind moves the cursor back n bytes.
func (s *Stream) Rewind(n int) error {
	if n < 0 || n > s.cursor {
		return errors.Errorf("inputstream: rewind %d beyond start (cursor %d)", n, s.cursor)
	}
	s.cursor -= n
	return nil
}

// PushBack prepends a synthesized ASCII code point to the unread portion of
// the stream: the next Peek returns c. Consumed bytes and any spans referring
// to them are unaffected.
func (s *Stream) PushBack(c byte) {
	s.buf = append(s.buf, 0)
	copy(s.buf[s.cursor+1:], s.buf[s.cursor:])
	s.buf[s.cursor] = c
	s.notifyMove()
}

// ReplaceRange overwrites the byte range [off, off+n) with the UTF-8 encoding
// of cp. The buffer contracts or expands as needed; bytes beyond the range
// shift accordingly. A cursor inside or beyond the range is left on the
// replacement.
func (s *Stream) ReplaceRange(off, n int, cp rune) error {
	if off < 0 || n < 0 || off+n > len(s.buf) {
		return errors.Errorf("inputstream: replace range [%d,%d) out of bounds (len %d)", off, off+n, len(s.buf))
	}

	var enc [utf8.UTFMax]byte
	w := utf8.EncodeRune(enc[:], cp)

	tail := make([]byte, len(s.buf)-(off+n))
	copy(tail, s.buf[off+n:])

	s.buf = append(s.buf[:off], enc[:w]...)
	s.buf = append(s.buf, tail...)

	if s.cursor > off {
		s.cursor = off
	}
	s.notifyMove()
	return nil
}

// CompareRangeCS compares two ranges of the buffer byte for byte.
func (s *Stream) CompareRangeCS(offA, offB, n int) int {
	for i := 0; i < n; i++ {
		a, b := s.buf[offA+i], s.buf[offB+i]
		if a != b {
			return int(a) - int(b)
		}
	}
	return 0
}

// CompareRangeCI compares two ranges of the buffer, folding ASCII case.
func (s *Stream) CompareRangeCI(offA, offB, n int) int {
	for i := 0; i < n; i++ {
		a, b := toLower(s.buf[offA+i]), toLower(s.buf[offB+i])
		if a != b {
			return int(a) - int(b)
		}
	}
	return 0
}

// CompareRangeASCII compares a range of the buffer against an ASCII literal.
func (s *Stream) CompareRangeASCII(off, n int, lit string) int {
	if n != len(lit) {
		return n - len(lit)
	}
	for i := 0; i < n; i++ {
		if s.buf[off+i] != lit[i] {
			return int(s.buf[off+i]) - int(lit[i])
		}
	}
	return 0
}

// Lowercase lowercases the ASCII letter under the cursor in place.
func (s *Stream) Lowercase() {
	if s.cursor < len(s.buf) {
		c := s.buf[s.cursor]
		if 'A' <= c && c <= 'Z' {
			s.buf[s.cursor] = c + 0x20
		}
	}
}

// Uppercase uppercases the ASCII letter under the cursor in place.
func (s *Stream) Uppercase() {
	if s.cursor < len(s.buf) {
		c := s.buf[s.cursor]
		if 'a' <= c && c <= 'z' {
			s.buf[s.cursor] = c - 0x20
		}
	}
}

// RegisterMoveHandler adds a buffer-move observer and returns an id for
// deregistration. The handler is invoked immediately with the current buffer.
func (s *Stream) RegisterMoveHandler(h MoveHandler) int {
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	h(s.buf)
	return id
}

// DeregisterMoveHandler removes a previously registered observer.
func (s *Stream) DeregisterMoveHandler(id int) {
	delete(s.handlers, id)
}

// Range returns the bytes of the buffer covered by [off, off+n). The slice
// aliases the buffer; it is valid only until the next mutating operation.
func (s *Stream) Range(off, n int) []byte {
	return s.buf[off : off+n]
}

// Bytes returns the bytes covered by a span. Same aliasing caveat as Range.
func (s *Stream) Bytes(sp Span) []byte {
	return s.Range(sp.Off, sp.Len)
}

// Len returns the current buffer length in bytes.
func (s *Stream) Len() int {
	return len(s.buf)
}

func (s *Stream) notifyMove() {
	for _, h := range s.handlers {
		h(s.buf)
	}
}

func toLower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 0x20
	}
	return c
}
