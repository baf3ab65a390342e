package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultCapacity is one datagram.
const DefaultCapacity = 1024

var (
	ErrBufferFull     = errors.New("frame: buffer full")
	ErrBufferUnderrun = errors.New("frame: buffer underrun")
	ErrInvalidLength  = errors.New("frame: invalid length")
)

var order = binary.LittleEndian

// Frame is a fixed-capacity stack buffer. Push appends at the cursor; Pop
// removes from the tail, so fields come back in reverse write order.
type Frame struct {
	data   []byte
	offset int
}

func New() *Frame {
	return NewWithCapacity(DefaultCapacity)
}

func NewWithCapacity(capacity int) *Frame {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Frame{data: make([]byte, capacity)}
}

// FromBytes loads a received datagram. The cursor ends at len(b).
func FromBytes(b []byte, capacity int) (*Frame, error) {
	f := NewWithCapacity(capacity)
	if err := f.PushBytes(b); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Frame) Len() int       { return f.offset }
func (f *Frame) Cap() int       { return len(f.data) }
func (f *Frame) Remaining() int { return len(f.data) - f.offset }

// Bytes returns the written region. The slice aliases the frame.
func (f *Frame) Bytes() []byte {
	return f.data[:f.offset]
}

func (f *Frame) Clear() {
	clear(f.data[:f.offset])
	f.offset = 0
}

// CopyFrom replaces the contents with src's written region.
func (f *Frame) CopyFrom(src *Frame) error {
	if src == f {
		return nil
	}
	if src.offset > len(f.data) {
		return fmt.Errorf("%w: copy %d bytes into capacity %d", ErrBufferFull, src.offset, len(f.data))
	}
	f.Clear()
	copy(f.data, src.data[:src.offset])
	f.offset = src.offset
	return nil
}

// Clone returns an independent copy with the same capacity.
func (f *Frame) Clone() *Frame {
	out := NewWithCapacity(len(f.data))
	copy(out.data, f.data[:f.offset])
	out.offset = f.offset
	return out
}

func (f *Frame) PushU8(v uint8) error {
	if err := f.reserve(1); err != nil {
		return err
	}
	f.data[f.offset] = v
	f.offset++
	return nil
}

func (f *Frame) PushU16(v uint16) error {
	if err := f.reserve(2); err != nil {
		return err
	}
	order.PutUint16(f.data[f.offset:], v)
	f.offset += 2
	return nil
}

func (f *Frame) PushU32(v uint32) error {
	if err := f.reserve(4); err != nil {
		return err
	}
	order.PutUint32(f.data[f.offset:], v)
	f.offset += 4
	return nil
}

func (f *Frame) PushBytes(b []byte) error {
	if err := f.reserve(len(b)); err != nil {
		return err
	}
	copy(f.data[f.offset:], b)
	f.offset += len(b)
	return nil
}

func (f *Frame) PopU8() (uint8, error) {
	if err := f.available(1); err != nil {
		return 0, err
	}
	f.offset--
	return f.data[f.offset], nil
}

func (f *Frame) PopU16() (uint16, error) {
	if err := f.available(2); err != nil {
		return 0, err
	}
	f.offset -= 2
	return order.Uint16(f.data[f.offset:]), nil
}

func (f *Frame) PopU32() (uint32, error) {
	if err := f.available(4); err != nil {
		return 0, err
	}
	f.offset -= 4
	return order.Uint32(f.data[f.offset:]), nil
}

// PopBytes removes the last n bytes written and returns a copy of them.
func (f *Frame) PopBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: pop %d bytes", ErrInvalidLength, n)
	}
	if err := f.available(n); err != nil {
		return nil, err
	}
	f.offset -= n
	out := make([]byte, n)
	copy(out, f.data[f.offset:f.offset+n])
	return out, nil
}

// PopInto fills dst from the tail without allocating.
func (f *Frame) PopInto(dst []byte) error {
	if len(dst) == 0 {
		return fmt.Errorf("%w: pop 0 bytes", ErrInvalidLength)
	}
	if err := f.available(len(dst)); err != nil {
		return err
	}
	f.offset -= len(dst)
	copy(dst, f.data[f.offset:])
	return nil
}

func (f *Frame) reserve(n int) error {
	if n > len(f.data)-f.offset {
		return fmt.Errorf("%w: need %d have %d", ErrBufferFull, n, len(f.data)-f.offset)
	}
	return nil
}

func (f *Frame) available(n int) error {
	if n > f.offset {
		return fmt.Errorf("%w: need %d have %d", ErrBufferUnderrun, n, f.offset)
	}
	return nil
}
