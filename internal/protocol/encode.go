package protocol

import (
	"fmt"

	"github.com/danmuck/relink/internal/protocol/frame"
)

const maxVersionLen = 255

// Join is the handshake body. A request carries AssignedID=InvalidID; the
// acceptor's reply carries the id it allocated for the initiator.
type Join struct {
	Version     string
	GeneratedID uint32
	AssignedID  uint32
}

func (j Join) IsReply() bool {
	return j.AssignedID != InvalidID
}

// EncodeJoin writes {assigned_id, generated_id, version, version_len, JOIN}.
func EncodeJoin(f *frame.Frame, j Join) error {
	if len(j.Version) == 0 || len(j.Version) > maxVersionLen {
		return fmt.Errorf("%w: %d bytes", ErrVersionTooLong, len(j.Version))
	}
	if err := f.PushU32(j.AssignedID); err != nil {
		return err
	}
	if err := f.PushU32(j.GeneratedID); err != nil {
		return err
	}
	if err := f.PushBytes([]byte(j.Version)); err != nil {
		return err
	}
	if err := f.PushU8(uint8(len(j.Version))); err != nil {
		return err
	}
	return PushTag(f, TagJoin)
}

func EncodeQuit(f *frame.Frame) error {
	return PushTag(f, TagQuit)
}

func EncodeAck(f *frame.Frame, seq uint32) error {
	if err := f.PushU32(seq); err != nil {
		return err
	}
	return PushTag(f, TagAck)
}

// WrapSafe turns a finished inner frame (payload + application tag) into a
// SAFE body. The caller signs afterwards.
func WrapSafe(f *frame.Frame, seq uint32) error {
	if err := f.PushU32(seq); err != nil {
		return err
	}
	return PushTag(f, TagSafe)
}

// EncodeApplication closes an application payload with its tag. Tags the
// connection layer interprets cannot be used.
func EncodeApplication(f *frame.Frame, tag Tag) error {
	if !tag.Valid() {
		return fmt.Errorf("%w: % x", ErrInvalidTag, tag[:])
	}
	if tag.Reserved() {
		return fmt.Errorf("%w: %s", ErrReservedTag, tag)
	}
	return PushTag(f, tag)
}
