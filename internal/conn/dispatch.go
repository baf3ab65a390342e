package conn

import (
	"fmt"
	"time"

	"github.com/danmuck/relink/internal/observability"
	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
	"github.com/danmuck/relink/internal/protocol/session"
	"github.com/danmuck/relink/internal/transport"
)

// Outcome classifies what HandleInbound did with a datagram.
type Outcome int

const (
	OutcomeDropped Outcome = iota
	OutcomeRejected
	OutcomeHandshake
	OutcomeApplication
	OutcomeSafeDelivered
	OutcomeSafeDuplicate
	OutcomeAck
	OutcomeQuit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeHandshake:
		return "handshake"
	case OutcomeApplication:
		return "application"
	case OutcomeSafeDelivered:
		return "safe"
	case OutcomeSafeDuplicate:
		return "duplicate"
	case OutcomeAck:
		return "ack"
	case OutcomeQuit:
		return "quit"
	default:
		return "dropped"
	}
}

// HandleInbound demultiplexes one datagram. Unknown senders may only JOIN;
// traffic from a known address must carry the id that peer was assigned.
func (m *Manager) HandleInbound(d transport.Datagram, now protocol.Tick) (Outcome, error) {
	out, kind, err := m.dispatch(d, now)
	observability.RecordFrameReceived(m.cfg.Name, kind.String(), out.String())
	if err != nil && out == OutcomeDropped {
		m.log.Debug().
			Str("from", d.From.String()).
			Str("kind", kind.String()).
			Int("len", len(d.Data)).
			Err(err).
			Msg("conn.Manager.handleInbound dropped")
	}
	return out, err
}

func (m *Manager) dispatch(d transport.Datagram, now protocol.Tick) (Outcome, protocol.Kind, error) {
	msg, err := protocol.Parse(d.Data, m.cfg.Session.FrameCapacity)
	if err != nil {
		return OutcomeDropped, protocol.KindApplication, err
	}
	kind := msg.Kind()
	p := m.peerByAddr(d.From)

	if kind == protocol.KindJoin {
		out, err := m.handleJoin(msg, d.From, p, now)
		return out, kind, err
	}
	if p == nil {
		return OutcomeDropped, kind, fmt.Errorf("%w: %s", ErrUnknownPeer, d.From)
	}
	if !p.Established() {
		return OutcomeDropped, kind, fmt.Errorf("%w: id=%d", ErrPeerNotEstablished, p.ID)
	}
	if msg.Envelope.SenderID != p.AssignedID {
		return OutcomeDropped, kind, fmt.Errorf("%w: got=%d want=%d", ErrForeignSender, msg.Envelope.SenderID, p.AssignedID)
	}
	p.observe(msg.Envelope.Timestamp, now)

	switch kind {
	case protocol.KindSafe:
		out, err := m.handleSafe(p, msg, now)
		return out, kind, err
	case protocol.KindAck:
		out, err := m.handleAck(p, msg, now)
		return out, kind, err
	case protocol.KindQuit:
		m.drop(p, EventPeerLeft, now)
		return OutcomeQuit, kind, nil
	default:
		if !msg.Tag.Valid() {
			return OutcomeDropped, kind, fmt.Errorf("%w: % x", protocol.ErrInvalidTag, msg.Tag[:])
		}
		m.inbound = append(m.inbound, Inbound{PeerID: p.ID, Tag: msg.Tag, Frame: msg.Frame})
		return OutcomeApplication, kind, nil
	}
}

// handleSafe records the sequence id, always acknowledges, and delivers the
// inner frame only on first receipt.
func (m *Manager) handleSafe(p *Peer, msg protocol.Message, now protocol.Tick) (Outcome, error) {
	seq, err := protocol.UnwrapSafe(msg.Frame)
	if err != nil {
		return OutcomeDropped, err
	}
	verdict := p.ledger.OnSafeReceived(seq)
	m.sendAck(p, seq, now)
	if verdict == session.Duplicate {
		observability.RecordDuplicate(m.cfg.Name)
		return OutcomeSafeDuplicate, nil
	}
	tag, err := protocol.PopTag(msg.Frame)
	if err != nil {
		return OutcomeDropped, fmt.Errorf("%w: safe inner tag: %v", protocol.ErrMalformedBody, err)
	}
	if !tag.Valid() {
		return OutcomeDropped, fmt.Errorf("%w: % x", protocol.ErrInvalidTag, tag[:])
	}
	if tag.Reserved() {
		return OutcomeDropped, fmt.Errorf("%w: safe inner %s", protocol.ErrReservedTag, tag)
	}
	m.inbound = append(m.inbound, Inbound{PeerID: p.ID, Tag: tag, Safe: true, Frame: msg.Frame})
	return OutcomeSafeDelivered, nil
}

func (m *Manager) handleAck(p *Peer, msg protocol.Message, now protocol.Tick) (Outcome, error) {
	seq, err := protocol.DecodeAck(msg.Frame)
	if err != nil {
		return OutcomeDropped, err
	}
	if slot, ok := p.ledger.OnAck(seq); ok {
		observability.RecordAckLatency(m.cfg.Name, time.Duration(now.Since(slot.QueuedAt))*time.Millisecond)
	}
	return OutcomeAck, nil
}

// sendAck acknowledges seq once, outside the ledger.
func (m *Manager) sendAck(p *Peer, seq uint32, now protocol.Tick) {
	f := frame.NewWithCapacity(m.cfg.Session.FrameCapacity)
	if err := protocol.EncodeAck(f, seq); err != nil {
		m.log.Warn().Err(err).Msg("conn.Manager.sendAck encode")
		return
	}
	if err := frame.Sign(f, uint32(now), m.localID); err != nil {
		m.log.Warn().Err(err).Msg("conn.Manager.sendAck sign")
		return
	}
	m.transmit(p.Addr, protocol.KindAck, f.Bytes())
}
