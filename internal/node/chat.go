package node

import (
	"fmt"

	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
)

var TagChat = protocol.MustTag("CMSG")

// ChatMessage is one chat line as seen by this node. Lines typed on this node
// carry Local and protocol.InvalidID as PeerID, since roster ids start at 0.
type ChatMessage struct {
	PeerID uint32
	Text   string
	Local  bool
	// Relayed is set on the host for lines it forwarded to the roster.
	Relayed bool
}

// EncodeChat writes the CMSG body {text, u32 length}. The tag is pushed by
// the sender.
func EncodeChat(f *frame.Frame, text string) error {
	if len(text) > 0 {
		if err := f.PushBytes([]byte(text)); err != nil {
			return err
		}
	}
	return f.PushU32(uint32(len(text)))
}

func DecodeChat(f *frame.Frame) (string, error) {
	n, err := f.PopU32()
	if err != nil {
		return "", fmt.Errorf("%w: chat length: %v", protocol.ErrMalformedBody, err)
	}
	if n == 0 {
		return "", nil
	}
	if int64(n) > int64(f.Len()) {
		return "", fmt.Errorf("%w: chat length %d exceeds body %d", protocol.ErrMalformedBody, n, f.Len())
	}
	text, err := f.PopBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(text), nil
}
