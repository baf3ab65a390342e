package protocol

import (
	"fmt"
	"math"

	"github.com/danmuck/relink/internal/protocol/frame"
)

// Tick is a millisecond clock reading supplied by the caller.
type Tick uint32

// Since returns the elapsed milliseconds from t to now, wrap-safe.
func (t Tick) Since(earlier Tick) uint32 {
	return uint32(t - earlier)
}

// InvalidID marks an id that has not been assigned.
const InvalidID uint32 = math.MaxUint32

// HostID is the local id a hosting manager signs with.
const HostID uint32 = 0

const TagLen = 4

// Tag is the 4-byte ASCII message type.
type Tag [TagLen]byte

// Kind is the closed set of tags the connection layer interprets.
type Kind uint8

const (
	KindApplication Kind = iota
	KindJoin
	KindQuit
	KindSafe
	KindAck
)

var (
	TagJoin = Tag{'J', 'O', 'I', 'N'}
	TagQuit = Tag{'Q', 'U', 'I', 'T'}
	TagSafe = Tag{'S', 'A', 'F', 'E'}
	TagAck  = Tag{'A', 'C', 'K', 'N'}
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindQuit:
		return "quit"
	case KindSafe:
		return "safe"
	case KindAck:
		return "ack"
	default:
		return "application"
	}
}

// ParseTag validates a 4-character printable ASCII tag.
func ParseTag(s string) (Tag, error) {
	var t Tag
	if len(s) != TagLen {
		return t, fmt.Errorf("%w: %q must be %d bytes", ErrInvalidTag, s, TagLen)
	}
	copy(t[:], s)
	if !t.Valid() {
		return t, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	return t, nil
}

// MustTag is ParseTag for package-level constants.
func MustTag(s string) Tag {
	t, err := ParseTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string {
	return string(t[:])
}

func (t Tag) Valid() bool {
	for _, c := range t {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func (t Tag) Kind() Kind {
	switch t {
	case TagJoin:
		return KindJoin
	case TagQuit:
		return KindQuit
	case TagSafe:
		return KindSafe
	case TagAck:
		return KindAck
	default:
		return KindApplication
	}
}

func (t Tag) Reserved() bool {
	return t.Kind() != KindApplication
}

func PushTag(f *frame.Frame, t Tag) error {
	return f.PushBytes(t[:])
}

func PopTag(f *frame.Frame) (Tag, error) {
	var t Tag
	if err := f.PopInto(t[:]); err != nil {
		return t, err
	}
	if !t.Valid() {
		return t, fmt.Errorf("%w: % x", ErrInvalidTag, t[:])
	}
	return t, nil
}
