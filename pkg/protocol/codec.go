package protocol

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	crunch "github.com/superwhiskers/crunch/v3"
)

// Every multi-byte value on the wire is little-endian.

var (
	// ErrShortPacket is returned when a packet ends before its last field.
	ErrShortPacket = errors.New("packet too short")
	// ErrBadLength is returned for negative or impossible string and collection lengths.
	ErrBadLength = errors.New("invalid length prefix")
	// ErrUnknownPacket is returned for a type tag outside the packet set.
	ErrUnknownPacket = errors.New("unknown packet type")
	// ErrTrailingBytes is returned when bytes remain after the last field.
	ErrTrailingBytes = errors.New("trailing bytes after packet")
	// ErrEmptyPacket is returned for a zero-length message.
	ErrEmptyPacket = errors.New("empty packet")
)

// Encode serializes a packet: its type tag followed by its fields.
func Encode(p Packet) []byte {
	w := newWriter()
	w.u8(byte(p.Type()))
	p.encode(w)
	return w.bytes()
}

// Decode parses one complete packet.
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	t := PacketType(data[0])
	p, ok := New(t)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacket, data[0])
	}

	r := newReader(data[1:])
	p.decode(r)
	if r.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t, r.err)
	}
	if r.remaining != 0 {
		return nil, fmt.Errorf("decoding %s: %w (%d)", t, ErrTrailingBytes, r.remaining)
	}
	return p, nil
}

// PeekType returns the type tag of an encoded packet without decoding it.
func PeekType(data []byte) (PacketType, error) {
	if len(data) == 0 {
		return 0, ErrEmptyPacket
	}
	t := PacketType(data[0])
	if !t.Valid() {
		return t, fmt.Errorf("%w: %d", ErrUnknownPacket, data[0])
	}
	return t, nil
}

// writer appends little-endian fields to a growing crunch buffer.
type writer struct {
	buf *crunch.Buffer
}

func newWriter() *writer {
	return &writer{buf: crunch.NewBuffer()}
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

func (w *writer) u8(v byte) {
	w.buf.Grow(1)
	w.buf.WriteByteNext(v)
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) i32(v int32) {
	w.buf.Grow(4)
	w.buf.WriteI32LENext([]int32{v})
}

func (w *writer) f32(v float32) {
	w.buf.Grow(4)
	w.buf.WriteF32LENext([]float32{v})
}

func (w *writer) f64(v float64) {
	w.buf.Grow(8)
	w.buf.WriteF64LENext([]float64{v})
}

// stamp writes a world time behind a presence byte.
func (w *writer) stamp(t float64, untimed bool) {
	w.bool(!untimed)
	if !untimed {
		w.f64(t)
	}
}

func (w *writer) vec64(v mgl64.Vec2) {
	w.buf.Grow(16)
	w.buf.WriteF64LENext([]float64{v[0], v[1]})
}

func (w *writer) vec32(v mgl32.Vec2) {
	w.buf.Grow(8)
	w.buf.WriteF32LENext([]float32{v[0], v[1]})
}

func (w *writer) string(s string) {
	w.i32(int32(len(s)))
	if len(s) == 0 {
		return
	}
	w.buf.Grow(int64(len(s)))
	w.buf.WriteBytesNext([]byte(s))
}

func (w *writer) i32s(v []int32) {
	w.i32(int32(len(v)))
	if len(v) == 0 {
		return
	}
	w.buf.Grow(int64(4 * len(v)))
	w.buf.WriteI32LENext(v)
}

// writeMap writes a count then key/value pairs in ascending key order.
func writeMap[K int32 | string, V any](w *writer, m map[K]V, key func(*writer, K), val func(*writer, V)) {
	w.i32(int32(len(m)))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		key(w, k)
		val(w, m[k])
	}
}

// reader consumes little-endian fields. The first failure sticks in err and
// every later read returns a zero value, so decoders read straight through.
type reader struct {
	buf       *crunch.Buffer
	remaining int64
	err       error
}

func newReader(data []byte) *reader {
	return &reader{buf: crunch.NewBuffer(data), remaining: int64(len(data))}
}

func (r *reader) take(n int64) bool {
	if r.err != nil {
		return false
	}
	if r.remaining < n {
		r.err = ErrShortPacket
		return false
	}
	r.remaining -= n
	return true
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) u8() byte {
	if !r.take(1) {
		return 0
	}
	return r.buf.ReadByteNext()
}

func (r *reader) bool() bool {
	return r.u8() != 0
}

func (r *reader) i32() int32 {
	if !r.take(4) {
		return 0
	}
	return r.buf.ReadI32LENext(1)[0]
}

func (r *reader) f32() float32 {
	if !r.take(4) {
		return 0
	}
	return r.buf.ReadF32LENext(1)[0]
}

func (r *reader) f64() float64 {
	if !r.take(8) {
		return 0
	}
	return r.buf.ReadF64LENext(1)[0]
}

func (r *reader) stamp() (t float64, untimed bool) {
	if !r.bool() {
		return 0, true
	}
	return r.f64(), false
}

func (r *reader) vec64() mgl64.Vec2 {
	if !r.take(16) {
		return mgl64.Vec2{}
	}
	v := r.buf.ReadF64LENext(2)
	return mgl64.Vec2{v[0], v[1]}
}

func (r *reader) vec32() mgl32.Vec2 {
	if !r.take(8) {
		return mgl32.Vec2{}
	}
	v := r.buf.ReadF32LENext(2)
	return mgl32.Vec2{v[0], v[1]}
}

// count reads a collection length and checks that at least minSize bytes
// per element are left, so a forged count cannot force a huge allocation.
func (r *reader) count(minSize int64) int {
	n := r.i32()
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.fail(fmt.Errorf("%w: %d", ErrBadLength, n))
		return 0
	}
	if int64(n)*minSize > r.remaining {
		r.fail(fmt.Errorf("%w: %d elements", ErrShortPacket, n))
		return 0
	}
	return int(n)
}

func (r *reader) string() string {
	n := r.count(1)
	if n == 0 || !r.take(int64(n)) {
		return ""
	}
	return string(r.buf.ReadBytesNext(int64(n)))
}

func (r *reader) i32s() []int32 {
	n := r.count(4)
	if n == 0 || !r.take(int64(4*n)) {
		return nil
	}
	return r.buf.ReadI32LENext(int64(n))
}

func readMap[K comparable, V any](r *reader, minSize int64, key func(*reader) K, val func(*reader) V) map[K]V {
	n := r.count(minSize)
	m := make(map[K]V, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := key(r)
		m[k] = val(r)
	}
	return m
}
