package conn

import (
	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
	"github.com/danmuck/relink/internal/transport"
)

// EventKind classifies roster and delivery notifications.
type EventKind int

const (
	// EventPeerJoined: an acceptor admitted a new peer.
	EventPeerJoined EventKind = iota
	// EventConnectionEstablished: an initiator received its JOIN reply.
	EventConnectionEstablished
	EventPeerLeft
	EventPeerTimedOut
	EventHandshakeRejected
	EventDeliveryFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPeerJoined:
		return "peer_joined"
	case EventConnectionEstablished:
		return "connection_established"
	case EventPeerLeft:
		return "peer_left"
	case EventPeerTimedOut:
		return "peer_timed_out"
	case EventHandshakeRejected:
		return "handshake_rejected"
	case EventDeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// Event is drained by the application through Manager.Events.
type Event struct {
	Kind   EventKind
	PeerID uint32
	Addr   transport.Addr
	// Sequence is set for EventDeliveryFailed.
	Sequence uint32
	At       protocol.Tick
	Err      error
}

// Inbound is one application frame delivered to the consumer. Frame is
// positioned at the top of the payload, the tag already popped.
type Inbound struct {
	PeerID uint32
	Tag    protocol.Tag
	Safe   bool
	Frame  *frame.Frame
}
