// Package varint implements the variable-length integer byte stream from
// spec.md §4.3: 7 payload bits per byte, high bit set means "more bytes
// follow". It additionally implements the "overheat" writer invariant
// needed when a pass reads old entries with an Iterator while
// simultaneously writing new entries into the same backing buffer.
// internal/feature's sparse v2 shard rewrite does not use Writer: it
// encodes each child stream into a fresh buffer and copies it into place.
package varint

// MaxBytes is the maximum encoded length of a uint32 in this 7-bit-payload
// encoding (ceil(32/7) = 5 bytes).
const MaxBytes = 5

// AppendUint32 appends v's varint encoding to buf and returns the result.
func AppendUint32(buf []byte, v uint32) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Iterator reads a forward-only stream of varint-encoded uint32s out of a
// byte slice, tracking a byte cursor that writers lock against.
type Iterator struct {
	buf    []byte
	cursor int
}

// NewIterator returns an Iterator starting at byte offset start.
func NewIterator(buf []byte, start int) *Iterator {
	return &Iterator{buf: buf, cursor: start}
}

// Next decodes and returns the next value, advancing the cursor past it.
func (it *Iterator) Next() uint32 {
	var v uint32
	var shift uint
	for {
		b := it.buf[it.cursor]
		it.cursor++
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return v
}

// Done reports whether the cursor has reached the end of the buffer.
func (it *Iterator) Done() bool { return it.cursor >= len(it.buf) }

// Cursor reports the iterator's current byte offset.
func (it *Iterator) Cursor() int { return it.cursor }

// InitialWriter appends varint-encoded values to the end of a buffer; used
// during build-time construction before any Iterator exists over the
// stream (spec.md §4.3).
type InitialWriter struct {
	buf []byte
}

// NewInitialWriter wraps buf (typically empty) for append-only writing.
func NewInitialWriter(buf []byte) *InitialWriter {
	return &InitialWriter{buf: buf}
}

// Write appends v's encoding.
func (w *InitialWriter) Write(v uint32) {
	w.buf = AppendUint32(w.buf, v)
}

// Bytes returns the accumulated buffer.
func (w *InitialWriter) Bytes() []byte { return w.buf }

// Writer writes new varint values into a buffer that an Iterator is
// simultaneously reading forward from, starting at a fixed byte offset.
// The invariant from spec.md §4.3: writes must never pass the Iterator's
// current cursor, because a single rewrite pass interleaves "read the old
// entry, decide its new encoding, write the new entry" and the old and new
// streams share the same backing array.
//
// If an in-place write would cross the iterator's cursor, the writer
// "overheats": it spills all further writes into a temporary buffer
// instead of the shared one. Flush copies the spilled bytes back once the
// iterator has advanced far enough past the writer's own finish position
// that the copy cannot clobber not-yet-read bytes.
type Writer struct {
	buf      []byte
	it       *Iterator
	pos      int
	overheat bool
	spill    []byte
	spillAt  int // buf offset the spill begins at, once flushed
}

// NewWriter returns a Writer that starts writing at byte offset start,
// locked against it so it can detect cursor crossings.
func NewWriter(buf []byte, it *Iterator, start int) *Writer {
	return &Writer{buf: buf, it: it, pos: start}
}

// Write encodes v at the writer's current position, entering overheat mode
// if doing so in place would write past the iterator's cursor.
func (w *Writer) Write(v uint32) {
	encoded := AppendUint32(nil, v)

	if !w.overheat {
		if w.pos+len(encoded) > w.it.cursor {
			w.overheat = true
			w.spillAt = w.pos
		}
	}

	if w.overheat {
		w.spill = append(w.spill, encoded...)
		w.pos += len(encoded)
		return
	}

	for i, b := range encoded {
		if w.pos+i >= len(w.buf) {
			w.buf = append(w.buf, make([]byte, (w.pos+i+1)-len(w.buf))...)
		}
		w.buf[w.pos+i] = b
	}
	w.pos += len(encoded)
}

// InOverheat reports whether the writer has spilled into the temporary
// buffer.
func (w *Writer) InOverheat() bool { return w.overheat }

// Flush copies any spilled bytes back into the shared buffer. The caller
// must only call Flush once the iterator has advanced past w.pos (i.e.
// finished reading everything the writer might clobber); spec.md §4.3
// notes this as "rare but correctness-critical".
func (w *Writer) Flush() []byte {
	if !w.overheat {
		return w.buf
	}
	end := w.spillAt + len(w.spill)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.spillAt:end], w.spill)
	if end > w.pos {
		w.buf = w.buf[:end]
	} else {
		w.buf = w.buf[:w.pos]
	}
	w.overheat = false
	w.spill = nil
	return w.buf
}

// Bytes returns the writer's current backing buffer without flushing.
func (w *Writer) Bytes() []byte { return w.buf }

// Pos reports the writer's logical position (including any overheat
// spill, which is not yet reflected in Bytes()).
func (w *Writer) Pos() int { return w.pos }
