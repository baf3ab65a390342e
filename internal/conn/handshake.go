package conn

import (
	"fmt"

	"github.com/danmuck/relink/internal/observability"
	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
	"github.com/danmuck/relink/internal/transport"
)

func (m *Manager) handleJoin(msg protocol.Message, from transport.Addr, p *Peer, now protocol.Tick) (Outcome, error) {
	j, err := protocol.DecodeJoin(msg.Frame)
	if err != nil {
		return OutcomeDropped, err
	}
	if j.IsReply() {
		return m.completeJoin(msg.Envelope, j, from, p, now)
	}
	return m.acceptJoin(j, from, p, now)
}

// acceptJoin handles a JOIN request. Only a hosting manager admits peers;
// admission allocates the next roster id and replies HandshakeRedundancy
// times.
func (m *Manager) acceptJoin(j protocol.Join, from transport.Addr, p *Peer, now protocol.Tick) (Outcome, error) {
	if j.GeneratedID == m.generatedID {
		pending := protocol.InvalidID
		if p != nil && p.Initiated && !p.Established() {
			pending = p.ID
			m.forget(p)
		}
		return m.reject(from, pending, "self", ErrSelfConnect, now)
	}
	if j.Version != m.cfg.ProtocolVersion {
		// The reply carries our version so the initiator fails its own
		// version check. HostID only marks the body as a reply; no peer is
		// allocated.
		reply := protocol.Join{Version: m.cfg.ProtocolVersion, GeneratedID: m.generatedID, AssignedID: protocol.HostID}
		if err := m.sendRedundant(from, protocol.KindJoin, m.localID, now, func(f *frame.Frame) error {
			return protocol.EncodeJoin(f, reply)
		}); err != nil {
			m.log.Warn().Str("remote", from.String()).Err(err).Msg("conn.Manager.acceptJoin version reply failed")
		}
		return m.reject(from, protocol.InvalidID, "version",
			fmt.Errorf("%w: got=%q want=%q", protocol.ErrVersionMismatch, j.Version, m.cfg.ProtocolVersion), now)
	}
	if p != nil {
		m.log.Debug().Str("remote", from.String()).Uint32("peer", p.ID).Msg("conn.Manager.acceptJoin duplicate request")
		return OutcomeHandshake, nil
	}
	if !m.hosting {
		return OutcomeDropped, ErrNotHosting
	}
	for _, other := range m.peers {
		if other.GeneratedID == j.GeneratedID {
			m.log.Debug().
				Str("remote", from.String()).
				Uint32("generated_id", j.GeneratedID).
				Uint32("peer", other.ID).
				Msg("conn.Manager.acceptJoin generated id already on roster")
			return OutcomeHandshake, nil
		}
	}
	if m.cfg.MaxPeers > 0 && len(m.peers) >= m.cfg.MaxPeers {
		return m.reject(from, protocol.InvalidID, "roster_full",
			fmt.Errorf("%w: max=%d", ErrRosterFull, m.cfg.MaxPeers), now)
	}

	p = m.addPeer(from, now)
	p.AssignedID = p.ID
	p.GeneratedID = j.GeneratedID
	reply := protocol.Join{Version: m.cfg.ProtocolVersion, GeneratedID: m.generatedID, AssignedID: p.ID}
	if err := m.sendRedundant(from, protocol.KindJoin, m.localID, now, func(f *frame.Frame) error {
		return protocol.EncodeJoin(f, reply)
	}); err != nil {
		m.forget(p)
		return OutcomeDropped, err
	}
	m.log.Info().
		Str("remote", from.String()).
		Uint32("peer", p.ID).
		Uint32("generated_id", j.GeneratedID).
		Msg("conn.Manager.acceptJoin peer joined")
	m.emit(Event{Kind: EventPeerJoined, PeerID: p.ID, Addr: from, At: now})
	return OutcomeHandshake, nil
}

// completeJoin handles a JOIN reply to our own request. Repeated replies are
// no-ops once the peer is established.
func (m *Manager) completeJoin(env frame.Envelope, j protocol.Join, from transport.Addr, p *Peer, now protocol.Tick) (Outcome, error) {
	if p == nil {
		return OutcomeDropped, fmt.Errorf("%w: join reply from %s", ErrUnknownPeer, from)
	}
	if p.Established() {
		return OutcomeHandshake, nil
	}
	if !p.Initiated {
		return OutcomeDropped, fmt.Errorf("%w: unsolicited join reply from %s", ErrHandshakeRejected, from)
	}
	if j.GeneratedID == m.generatedID {
		m.forget(p)
		return m.reject(from, p.ID, "self", ErrSelfConnect, now)
	}
	if j.Version != m.cfg.ProtocolVersion {
		m.forget(p)
		return m.reject(from, p.ID, "version",
			fmt.Errorf("%w: got=%q want=%q", protocol.ErrVersionMismatch, j.Version, m.cfg.ProtocolVersion), now)
	}
	if env.SenderID == protocol.InvalidID {
		return OutcomeDropped, fmt.Errorf("%w: join reply without sender id", protocol.ErrMalformedBody)
	}

	if m.localID == protocol.InvalidID {
		m.localID = j.AssignedID
	} else if m.localID != j.AssignedID {
		m.log.Warn().
			Uint32("local_id", m.localID).
			Uint32("offered", j.AssignedID).
			Msg("conn.Manager.completeJoin keeping existing local id")
	}
	p.AssignedID = env.SenderID
	p.GeneratedID = j.GeneratedID
	p.observe(env.Timestamp, now)
	m.log.Info().
		Str("remote", from.String()).
		Uint32("peer", p.ID).
		Uint32("local_id", m.localID).
		Uint32("remote_id", p.AssignedID).
		Msg("conn.Manager.completeJoin established")
	m.emit(Event{Kind: EventConnectionEstablished, PeerID: p.ID, Addr: from, At: now})
	return OutcomeHandshake, nil
}

func (m *Manager) reject(from transport.Addr, peerID uint32, reason string, cause error, now protocol.Tick) (Outcome, error) {
	err := fmt.Errorf("%w: %w", ErrHandshakeRejected, cause)
	observability.RecordHandshakeRejected(m.cfg.Name, reason)
	m.log.Warn().Str("remote", from.String()).Str("reason", reason).Err(cause).Msg("conn.Manager.reject")
	m.emit(Event{Kind: EventHandshakeRejected, PeerID: peerID, Addr: from, At: now, Err: err})
	return OutcomeRejected, err
}
