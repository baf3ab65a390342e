package protocol

import (
	"fmt"

	"github.com/danmuck/relink/internal/protocol/frame"
)

// Message is one inbound datagram after the demux boundary: envelope and tag
// are decoded, Frame is positioned at the top of the body.
type Message struct {
	Envelope frame.Envelope
	Tag      Tag
	Frame    *frame.Frame
}

func (m Message) Kind() Kind {
	return m.Tag.Kind()
}

// Parse loads raw datagram bytes, strips the envelope and decodes the tag.
func Parse(b []byte, capacity int) (Message, error) {
	f, err := frame.FromBytes(b, capacity)
	if err != nil {
		return Message{}, err
	}
	env, err := frame.ReadEnvelope(f)
	if err != nil {
		return Message{}, err
	}
	tag, err := PopTag(f)
	if err != nil {
		return Message{}, err
	}
	return Message{Envelope: env, Tag: tag, Frame: f}, nil
}

// DecodeJoin reads a JOIN body whose tag has already been popped.
func DecodeJoin(f *frame.Frame) (Join, error) {
	n, err := f.PopU8()
	if err != nil {
		return Join{}, fmt.Errorf("%w: join version length: %v", ErrMalformedBody, err)
	}
	if n == 0 {
		return Join{}, fmt.Errorf("%w: empty join version", ErrMalformedBody)
	}
	version, err := f.PopBytes(int(n))
	if err != nil {
		return Join{}, fmt.Errorf("%w: join version: %v", ErrMalformedBody, err)
	}
	gid, err := f.PopU32()
	if err != nil {
		return Join{}, fmt.Errorf("%w: join generated id: %v", ErrMalformedBody, err)
	}
	assigned, err := f.PopU32()
	if err != nil {
		return Join{}, fmt.Errorf("%w: join assigned id: %v", ErrMalformedBody, err)
	}
	return Join{Version: string(version), GeneratedID: gid, AssignedID: assigned}, nil
}

func DecodeAck(f *frame.Frame) (uint32, error) {
	seq, err := f.PopU32()
	if err != nil {
		return 0, fmt.Errorf("%w: ack sequence: %v", ErrMalformedBody, err)
	}
	return seq, nil
}

// UnwrapSafe pops the sequence id; the frame is left holding the inner
// payload and its application tag.
func UnwrapSafe(f *frame.Frame) (uint32, error) {
	seq, err := f.PopU32()
	if err != nil {
		return 0, fmt.Errorf("%w: safe sequence: %v", ErrMalformedBody, err)
	}
	return seq, nil
}
