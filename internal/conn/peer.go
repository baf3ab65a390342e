package conn

import (
	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/session"
	"github.com/danmuck/relink/internal/transport"
)

// Peer is one roster entry. ID is the local roster handle; AssignedID is the
// id the remote signs its envelopes with, InvalidID until the handshake
// completes.
type Peer struct {
	ID          uint32
	Addr        transport.Addr
	AssignedID  uint32
	GeneratedID uint32
	// Initiated is set when this side sent the JOIN request.
	Initiated bool
	JoinedAt  protocol.Tick
	LastSeen  protocol.Tick
	// LastTimestamp is the newest envelope timestamp seen from the peer.
	// It is recorded, not enforced.
	LastTimestamp uint32

	ledger *session.Ledger
}

func (p *Peer) Established() bool {
	return p.AssignedID != protocol.InvalidID
}

func (p *Peer) observe(ts uint32, now protocol.Tick) {
	if ts > p.LastTimestamp {
		p.LastTimestamp = ts
	}
	p.LastSeen = now
}

// PeerInfo is a read-only view of a Peer for snapshots.
type PeerInfo struct {
	ID            uint32 `json:"id"`
	Addr          string `json:"addr"`
	AssignedID    uint32 `json:"assigned_id"`
	GeneratedID   uint32 `json:"generated_id"`
	Established   bool   `json:"established"`
	Initiated     bool   `json:"initiated"`
	InFlight      int    `json:"in_flight"`
	NextSequence  uint32 `json:"next_sequence"`
	LastTimestamp uint32 `json:"last_timestamp"`
	LastSeen      uint32 `json:"last_seen"`
}

func (p *Peer) info() PeerInfo {
	return PeerInfo{
		ID:            p.ID,
		Addr:          p.Addr.String(),
		AssignedID:    p.AssignedID,
		GeneratedID:   p.GeneratedID,
		Established:   p.Established(),
		Initiated:     p.Initiated,
		InFlight:      p.ledger.InFlight(),
		NextSequence:  p.ledger.NextSequence(),
		LastTimestamp: p.LastTimestamp,
		LastSeen:      uint32(p.LastSeen),
	}
}

// Snapshot is a point-in-time view of a Manager.
type Snapshot struct {
	Name        string     `json:"name"`
	Addr        string     `json:"addr"`
	LocalID     uint32     `json:"local_id"`
	GeneratedID uint32     `json:"generated_id"`
	Hosting     bool       `json:"hosting"`
	Peers       []PeerInfo `json:"peers"`
}
