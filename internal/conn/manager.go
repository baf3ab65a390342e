package conn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/danmuck/relink/internal/logging"
	"github.com/danmuck/relink/internal/observability"
	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
	"github.com/danmuck/relink/internal/protocol/session"
	"github.com/danmuck/relink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the roster for one transport endpoint. Every method must be
// called from the goroutine that drives Update.
type Manager struct {
	cfg Config
	tr  transport.Transport
	log zerolog.Logger

	generatedID uint32
	localID     uint32
	hosting     bool
	nextID      uint32

	peers  map[uint32]*Peer
	byAddr map[transport.Addr]uint32

	inbound []Inbound
	events  []Event
}

// UpdateResult summarizes one Update pass.
type UpdateResult struct {
	Received     int
	Retransmits  int
	SendFailures int
	Expired      int
	TimedOut     int
}

func NewManager(cfg Config, tr transport.Transport) *Manager {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()
	m := &Manager{
		cfg:         cfg,
		tr:          tr,
		generatedID: newGeneratedID(),
		localID:     protocol.InvalidID,
		peers:       make(map[uint32]*Peer),
		byAddr:      make(map[transport.Addr]uint32),
	}
	m.log = logging.Component("conn").With().Str("node", cfg.Name).Logger()
	return m
}

// newGeneratedID draws a random process id from a v4 uuid. InvalidID is never
// returned.
func newGeneratedID() uint32 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint32(u[:4]); id != protocol.InvalidID {
			return id
		}
	}
}

func (m *Manager) Config() Config { return m.cfg }
func (m *Manager) LocalID() uint32 { return m.localID }
func (m *Manager) GeneratedID() uint32 { return m.generatedID }
func (m *Manager) Hosting() bool { return m.hosting }
func (m *Manager) PeerCount() int { return len(m.peers) }
func (m *Manager) Addr() transport.Addr { return m.tr.LocalAddr() }

// Peer returns a view of one roster entry.
func (m *Manager) Peer(id uint32) (PeerInfo, bool) {
	p, ok := m.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return p.info(), true
}

// PeerIDs lists roster handles in ascending order.
func (m *Manager) PeerIDs() []uint32 {
	return slices.Sorted(maps.Keys(m.peers))
}

// Host starts accepting JOIN requests. The local id becomes HostID.
func (m *Manager) Host() error {
	if m.hosting {
		return nil
	}
	if len(m.peers) > 0 {
		return fmt.Errorf("%w: %d peers on roster", ErrAlreadyConnected, len(m.peers))
	}
	m.hosting = true
	m.localID = protocol.HostID
	m.log.Info().Str("addr", m.tr.LocalAddr().String()).Msg("conn.Manager.host")
	return nil
}

// StopHosting informs and drops every peer and stops accepting JOINs.
func (m *Manager) StopHosting(now protocol.Tick) error {
	if !m.hosting {
		return ErrNotHosting
	}
	m.DisconnectAll(now)
	return nil
}

// Connect starts a handshake with address. The JOIN request is sent
// HandshakeRedundancy times; the peer becomes established when a reply
// arrives. A manager that is hosting or already connected cannot connect.
func (m *Manager) Connect(address string, now protocol.Tick) (uint32, error) {
	if m.hosting {
		return 0, fmt.Errorf("%w: hosting", ErrAlreadyConnected)
	}
	if len(m.peers) > 0 {
		return 0, fmt.Errorf("%w: %d peers on roster", ErrAlreadyConnected, len(m.peers))
	}
	addr, err := m.tr.Resolve(address)
	if err != nil {
		return 0, fmt.Errorf("conn: resolve %q: %w", address, err)
	}
	p := m.addPeer(addr, now)
	p.Initiated = true

	req := protocol.Join{Version: m.cfg.ProtocolVersion, GeneratedID: m.generatedID, AssignedID: protocol.InvalidID}
	if err := m.sendRedundant(addr, protocol.KindJoin, protocol.InvalidID, now, func(f *frame.Frame) error {
		return protocol.EncodeJoin(f, req)
	}); err != nil {
		m.forget(p)
		return 0, err
	}
	m.log.Info().
		Str("remote", addr.String()).
		Uint32("peer", p.ID).
		Uint32("generated_id", m.generatedID).
		Msg("conn.Manager.connect join sent")
	return p.ID, nil
}

// Send frames payload with tag and sends it to one established peer. Safe
// sends are tracked until acknowledged and return their sequence id. payload
// may be nil and is not modified.
func (m *Manager) Send(peerID uint32, payload *frame.Frame, tag protocol.Tag, safe bool, now protocol.Tick) (uint32, error) {
	p, ok := m.peers[peerID]
	if !ok {
		return 0, fmt.Errorf("%w: id=%d", ErrUnknownPeer, peerID)
	}
	if !p.Established() {
		return 0, fmt.Errorf("%w: id=%d", ErrPeerNotEstablished, peerID)
	}
	if m.localID == protocol.InvalidID {
		return 0, session.ErrNoLocalID
	}
	f := frame.NewWithCapacity(m.cfg.Session.FrameCapacity)
	if payload != nil {
		if err := f.CopyFrom(payload); err != nil {
			return 0, err
		}
	}
	if err := protocol.EncodeApplication(f, tag); err != nil {
		return 0, err
	}
	if safe {
		return p.ledger.SendSafe(f, m.localID, now)
	}
	if err := frame.Sign(f, uint32(now), m.localID); err != nil {
		return 0, err
	}
	m.transmit(p.Addr, protocol.KindApplication, f.Bytes())
	return 0, nil
}

// Broadcast sends to every established peer independently. It returns the
// number of peers the frame was handed to and the joined per-peer errors.
func (m *Manager) Broadcast(payload *frame.Frame, tag protocol.Tag, safe bool, now protocol.Tick) (int, error) {
	var errs []error
	sent := 0
	for _, id := range m.PeerIDs() {
		if !m.peers[id].Established() {
			continue
		}
		if _, err := m.Send(id, payload, tag, safe, now); err != nil {
			errs = append(errs, fmt.Errorf("peer %d: %w", id, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Recv pops the oldest delivered application frame.
func (m *Manager) Recv() (Inbound, bool) {
	if len(m.inbound) == 0 {
		return Inbound{}, false
	}
	in := m.inbound[0]
	m.inbound[0] = Inbound{}
	m.inbound = m.inbound[1:]
	return in, true
}

// Events drains pending notifications in emission order.
func (m *Manager) Events() []Event {
	out := m.events
	m.events = nil
	return out
}

// Update drains up to MaxInboundPerTick datagrams, runs every ledger's resend
// pass and applies the idle timeout.
func (m *Manager) Update(now protocol.Tick) UpdateResult {
	var res UpdateResult
	for res.Received < m.cfg.MaxInboundPerTick {
		d, ok := m.tr.TryRecv()
		if !ok {
			break
		}
		res.Received++
		_, _ = m.HandleInbound(d, now)
	}

	for _, id := range m.PeerIDs() {
		p := m.peers[id]
		tick := p.ledger.Tick(now)
		res.Retransmits += tick.Retransmits
		res.SendFailures += tick.SendFailures
		observability.RecordRetransmits(m.cfg.Name, tick.Retransmits)
		for _, e := range tick.Expired {
			res.Expired++
			observability.RecordDeliveryFailed(m.cfg.Name)
			m.log.Warn().
				Uint32("peer", p.ID).
				Uint32("seq", e.Sequence).
				Int("retries", e.Retries).
				Msg("conn.Manager.update safe delivery failed")
			m.emit(Event{
				Kind:     EventDeliveryFailed,
				PeerID:   p.ID,
				Addr:     p.Addr,
				Sequence: e.Sequence,
				At:       now,
				Err:      fmt.Errorf("%w: seq=%d retries=%d", ErrDeliveryFailed, e.Sequence, e.Retries),
			})
		}
	}

	if m.cfg.PeerIdleTimeout > 0 {
		limit := uint32(m.cfg.PeerIdleTimeout / time.Millisecond)
		for _, id := range m.PeerIDs() {
			p := m.peers[id]
			if now.Since(p.LastSeen) < limit {
				continue
			}
			res.TimedOut++
			m.log.Info().Uint32("peer", p.ID).Str("remote", p.Addr.String()).Msg("conn.Manager.update peer idle")
			m.drop(p, EventPeerTimedOut, now)
		}
	}
	return res
}

// Disconnect removes a peer. With inform set, a QUIT is sent
// HandshakeRedundancy times first. Pending safe sends are cancelled.
func (m *Manager) Disconnect(peerID uint32, inform bool, now protocol.Tick) error {
	p, ok := m.peers[peerID]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrUnknownPeer, peerID)
	}
	if inform && m.localID != protocol.InvalidID {
		if err := m.sendRedundant(p.Addr, protocol.KindQuit, m.localID, now, protocol.EncodeQuit); err != nil {
			m.log.Warn().Uint32("peer", p.ID).Err(err).Msg("conn.Manager.disconnect quit failed")
		}
	}
	m.drop(p, EventPeerLeft, now)
	return nil
}

// DisconnectAll informs and drops every peer and leaves the manager idle.
func (m *Manager) DisconnectAll(now protocol.Tick) {
	for _, id := range m.PeerIDs() {
		_ = m.Disconnect(id, true, now)
	}
	m.hosting = false
	m.localID = protocol.InvalidID
}

func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Name:        m.cfg.Name,
		Addr:        m.tr.LocalAddr().String(),
		LocalID:     m.localID,
		GeneratedID: m.generatedID,
		Hosting:     m.hosting,
		Peers:       make([]PeerInfo, 0, len(m.peers)),
	}
	for _, id := range m.PeerIDs() {
		s.Peers = append(s.Peers, m.peers[id].info())
	}
	return s
}

func (m *Manager) peerByAddr(addr transport.Addr) *Peer {
	id, ok := m.byAddr[addr]
	if !ok {
		return nil
	}
	return m.peers[id]
}

func (m *Manager) addPeer(addr transport.Addr, now protocol.Tick) *Peer {
	p := &Peer{
		ID:          m.nextID,
		Addr:        addr,
		AssignedID:  protocol.InvalidID,
		GeneratedID: protocol.InvalidID,
		JoinedAt:    now,
		LastSeen:    now,
	}
	m.nextID++
	p.ledger = session.NewLedger(m.cfg.Session, session.OutletFunc(func(b []byte) bool {
		return m.transmit(addr, protocol.KindSafe, b)
	}))
	m.peers[p.ID] = p
	m.byAddr[addr] = p.ID
	observability.SetPeers(m.cfg.Name, len(m.peers))
	return p
}

// forget removes a peer without emitting anything.
func (m *Manager) forget(p *Peer) {
	p.ledger.Cancel()
	delete(m.peers, p.ID)
	delete(m.byAddr, p.Addr)
	observability.SetPeers(m.cfg.Name, len(m.peers))
	if len(m.peers) == 0 && !m.hosting {
		m.localID = protocol.InvalidID
	}
}

func (m *Manager) drop(p *Peer, kind EventKind, now protocol.Tick) {
	cancelled := p.ledger.InFlight()
	m.forget(p)
	m.log.Info().
		Uint32("peer", p.ID).
		Str("remote", p.Addr.String()).
		Int("cancelled", cancelled).
		Str("reason", kind.String()).
		Msg("conn.Manager.drop")
	m.emit(Event{Kind: kind, PeerID: p.ID, Addr: p.Addr, At: now})
}

func (m *Manager) emit(e Event) {
	m.events = append(m.events, e)
}

func (m *Manager) transmit(to transport.Addr, kind protocol.Kind, b []byte) bool {
	ok := m.tr.Send(to, b)
	observability.RecordFrameSent(m.cfg.Name, kind.String(), ok)
	if !ok {
		m.log.Debug().Str("to", to.String()).Str("kind", kind.String()).Msg("conn.Manager.transmit refused")
	}
	return ok
}

// sendRedundant encodes and signs one control frame and sends it
// HandshakeRedundancy times without the ledger.
func (m *Manager) sendRedundant(to transport.Addr, kind protocol.Kind, sender uint32, now protocol.Tick, encode func(*frame.Frame) error) error {
	f := frame.NewWithCapacity(m.cfg.Session.FrameCapacity)
	if err := encode(f); err != nil {
		return err
	}
	if err := frame.Sign(f, uint32(now), sender); err != nil {
		return err
	}
	for i := 0; i < m.cfg.Session.HandshakeRedundancy; i++ {
		m.transmit(to, kind, f.Bytes())
	}
	return nil
}
