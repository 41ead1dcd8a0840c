// Package wire implements the big-endian, length-prefixed primitives used by
// the workflow status encoding. Strings and variable-length integers follow
// the Hadoop DataOutput conventions (zero-compressed VLong lengths, UTF-8
// payloads) so status bytes stay readable by JVM-side collaborators.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// DefaultMaxStringLen bounds a single string on both the write and read side.
const DefaultMaxStringLen = 1 << 20

var (
	ErrTruncated      = fmt.Errorf("wire: truncated input: %w", io.ErrUnexpectedEOF)
	ErrNegativeLength = errors.New("wire: negative length")
	ErrStringTooLong  = errors.New("wire: string exceeds limit")
	ErrInvalidUTF8    = errors.New("wire: string is not valid UTF-8")
	ErrVIntRange      = errors.New("wire: vint out of int32 range")
)

// Writer writes primitives to an io.Writer. The first error is sticky: later
// writes are skipped and Err reports it.
type Writer struct {
	w         io.Writer
	buf       [9]byte
	n         int64
	maxString int
	err       error
}

// NewWriter returns a Writer on w with DefaultMaxStringLen.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, maxString: DefaultMaxStringLen}
}

// SetMaxStringLen changes the per-string size limit.
func (w *Writer) SetMaxStringLen(n int) { w.maxString = n }

// Err returns the first write error, if any.
func (w *Writer) Err() error { return w.err }

// Fail records err unless an earlier error is already set.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// N returns the number of bytes written so far.
func (w *Writer) N() int64 { return w.n }

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	w.err = err
}

// WriteInt32 writes v as 4 big-endian bytes.
func (w *Writer) WriteInt32(v int32) {
	binary.BigEndian.PutUint32(w.buf[:4], uint32(v))
	w.write(w.buf[:4])
}

// WriteInt64 writes v as 8 big-endian bytes.
func (w *Writer) WriteInt64(v int64) {
	binary.BigEndian.PutUint64(w.buf[:8], uint64(v))
	w.write(w.buf[:8])
}

// WriteVLong writes v in zero-compressed form: one byte for values in
// [-112, 127], otherwise a marker byte carrying sign and width followed by
// the big-endian magnitude.
func (w *Writer) WriteVLong(v int64) {
	w.write(w.buf[:putVLong(w.buf[:], v)])
}

// WriteVInt writes v in zero-compressed form.
func (w *Writer) WriteVInt(v int32) {
	w.WriteVLong(int64(v))
}

// WriteString writes the VInt byte length of s followed by its UTF-8 bytes.
// Strings a Reader would refuse, too long or not valid UTF-8, fail the
// Writer instead.
func (w *Writer) WriteString(s string) {
	if w.err != nil {
		return
	}
	if len(s) > w.maxString {
		w.Fail(fmt.Errorf("%w: %d > %d", ErrStringTooLong, len(s), w.maxString))
		return
	}
	if !utf8.ValidString(s) {
		w.Fail(ErrInvalidUTF8)
		return
	}
	w.WriteVInt(int32(len(s)))
	if len(s) > 0 {
		w.write([]byte(s))
	}
}

func putVLong(buf []byte, v int64) int {
	if v >= -112 && v <= 127 {
		buf[0] = byte(int8(v))
		return 1
	}
	marker := -112
	if v < 0 {
		v = ^v
		marker = -120
	}
	for tmp := v; tmp != 0; tmp >>= 8 {
		marker--
	}
	buf[0] = byte(int8(marker))

	var size int
	if marker < -120 {
		size = -(marker + 120)
	} else {
		size = -(marker + 112)
	}
	for i := 0; i < size; i++ {
		shift := uint((size - 1 - i) * 8)
		buf[1+i] = byte(v >> shift)
	}
	return 1 + size
}

// Reader reads primitives from an io.Reader. The first error is sticky:
// later reads return zero values and Err reports it.
type Reader struct {
	r         io.Reader
	buf       [8]byte
	maxString int
	err       error
}

// NewReader returns a Reader on r with DefaultMaxStringLen.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, maxString: DefaultMaxStringLen}
}

// SetMaxStringLen changes the per-string size limit.
func (r *Reader) SetMaxStringLen(n int) { r.maxString = n }

// Err returns the first read error, if any.
func (r *Reader) Err() error { return r.err }

// Fail records err unless an earlier error is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) read(p []byte) bool {
	if r.err != nil {
		return false
	}
	if _, err := io.ReadFull(r.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.Fail(ErrTruncated)
		} else {
			r.Fail(err)
		}
		return false
	}
	return true
}

// ReadInt32 reads 4 big-endian bytes.
func (r *Reader) ReadInt32() int32 {
	if !r.read(r.buf[:4]) {
		return 0
	}
	return int32(binary.BigEndian.Uint32(r.buf[:4]))
}

// ReadInt64 reads 8 big-endian bytes.
func (r *Reader) ReadInt64() int64 {
	if !r.read(r.buf[:8]) {
		return 0
	}
	return int64(binary.BigEndian.Uint64(r.buf[:8]))
}

// ReadVLong reads a zero-compressed integer written by WriteVLong.
func (r *Reader) ReadVLong() int64 {
	if !r.read(r.buf[:1]) {
		return 0
	}
	first := int8(r.buf[0])
	size := vIntSize(first)
	if size == 1 {
		return int64(first)
	}
	rest := r.buf[:size-1]
	if !r.read(rest) {
		return 0
	}
	var v int64
	for _, b := range rest {
		v = v<<8 | int64(b)
	}
	if first < -120 || (first >= -112 && first < 0) {
		return ^v
	}
	return v
}

// ReadVInt reads a zero-compressed integer that must fit in an int32.
func (r *Reader) ReadVInt() int32 {
	v := r.ReadVLong()
	if r.err != nil {
		return 0
	}
	if v < -1<<31 || v > 1<<31-1 {
		r.Fail(ErrVIntRange)
		return 0
	}
	return int32(v)
}

// ReadString reads a VInt length followed by that many UTF-8 bytes.
func (r *Reader) ReadString() string {
	n := r.ReadVInt()
	if r.err != nil {
		return ""
	}
	if n < 0 {
		r.Fail(ErrNegativeLength)
		return ""
	}
	if int(n) > r.maxString {
		r.Fail(fmt.Errorf("%w: %d > %d", ErrStringTooLong, n, r.maxString))
		return ""
	}
	if n == 0 {
		return ""
	}
	p := make([]byte, n)
	if !r.read(p) {
		return ""
	}
	if !utf8.Valid(p) {
		r.Fail(ErrInvalidUTF8)
		return ""
	}
	return string(p)
}

func vIntSize(first int8) int {
	switch {
	case first >= -112:
		return 1
	case first < -120:
		return int(-119 - int(first))
	default:
		return int(-111 - int(first))
	}
}
