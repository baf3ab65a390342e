package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
)

var ErrNoLocalID = errors.New("session: safe send without an assigned local id")

// Outlet transmits finished datagrams to the peer a ledger belongs to.
type Outlet interface {
	Transmit(b []byte) bool
}

// OutletFunc adapts a function to Outlet.
type OutletFunc func(b []byte) bool

func (f OutletFunc) Transmit(b []byte) bool { return f(b) }

// SafeSend is one in-flight acknowledged send. Datagram holds the signed
// bytes that every retry resends verbatim.
type SafeSend struct {
	Sequence   uint32
	Retries    int
	QueuedAt   protocol.Tick
	LastSentAt protocol.Tick
	Datagram   []byte
}

// Expired describes a slot dropped after exhausting its retries.
type Expired struct {
	Sequence uint32
	Retries  int
	QueuedAt protocol.Tick
}

// TickResult summarizes one resend pass.
type TickResult struct {
	Retransmits  int
	SendFailures int
	Expired      []Expired
}

// Verdict is the outcome of receiving a safe frame.
type Verdict int

const (
	Deliver Verdict = iota
	Duplicate
)

func (v Verdict) String() string {
	if v == Duplicate {
		return "duplicate"
	}
	return "deliver"
}

// Ledger tracks one peer's outgoing safe sends and recently seen inbound
// safe ids. Not safe for concurrent use.
type Ledger struct {
	cfg      Config
	out      Outlet
	nextSeq  uint32
	inflight []*SafeSend
	seen     *RecentIDs
}

func NewLedger(cfg Config, out Outlet) *Ledger {
	cfg = cfg.WithDefaults()
	return &Ledger{
		cfg:  cfg,
		out:  out,
		seen: NewRecentIDs(cfg.DedupeBucketCount, cfg.DedupeBucketDepth),
	}
}

// SendSafe copies inner (payload plus application tag), appends the next
// sequence id and the SAFE tag, signs, transmits once and keeps the slot until
// it is acknowledged or expires. The caller keeps ownership of inner.
func (l *Ledger) SendSafe(inner *frame.Frame, senderID uint32, now protocol.Tick) (uint32, error) {
	if senderID == protocol.InvalidID {
		return 0, ErrNoLocalID
	}
	f := frame.NewWithCapacity(l.cfg.FrameCapacity)
	if err := f.CopyFrom(inner); err != nil {
		return 0, err
	}
	seq := l.nextSeq
	if err := protocol.WrapSafe(f, seq); err != nil {
		return 0, fmt.Errorf("session: wrap safe seq=%d: %w", seq, err)
	}
	if err := frame.Sign(f, uint32(now), senderID); err != nil {
		return 0, fmt.Errorf("session: sign safe seq=%d: %w", seq, err)
	}
	l.nextSeq++

	datagram := make([]byte, f.Len())
	copy(datagram, f.Bytes())
	l.inflight = append(l.inflight, &SafeSend{
		Sequence:   seq,
		QueuedAt:   now,
		LastSentAt: now,
		Datagram:   datagram,
	})
	l.out.Transmit(datagram)
	return seq, nil
}

// Tick resends every slot whose resend interval has elapsed. A slot that already
// used MaxRetries resends is dropped instead and reported once as expired.
func (l *Ledger) Tick(now protocol.Tick) TickResult {
	var res TickResult
	interval := uint32(l.cfg.ResendInterval / time.Millisecond)
	kept := l.inflight[:0]
	for _, s := range l.inflight {
		if now.Since(s.LastSentAt) < interval {
			kept = append(kept, s)
			continue
		}
		if s.Retries >= l.cfg.MaxRetries {
			res.Expired = append(res.Expired, Expired{Sequence: s.Sequence, Retries: s.Retries, QueuedAt: s.QueuedAt})
			continue
		}
		if !l.out.Transmit(s.Datagram) {
			res.SendFailures++
		}
		s.Retries++
		s.LastSentAt = now
		res.Retransmits++
		kept = append(kept, s)
	}
	clear(l.inflight[len(kept):])
	l.inflight = kept
	return res
}

// OnAck removes and returns the matching slot. Late or repeated ACKs are
// no-ops.
func (l *Ledger) OnAck(seq uint32) (SafeSend, bool) {
	for i, s := range l.inflight {
		if s.Sequence == seq {
			l.inflight = append(l.inflight[:i], l.inflight[i+1:]...)
			return *s, true
		}
	}
	return SafeSend{}, false
}

// OnSafeReceived classifies an inbound safe id. The caller acknowledges it
// either way.
func (l *Ledger) OnSafeReceived(seq uint32) Verdict {
	if l.seen.Observe(seq) {
		return Duplicate
	}
	return Deliver
}

// Cancel drops every in-flight slot without reporting failures.
func (l *Ledger) Cancel() int {
	n := len(l.inflight)
	clear(l.inflight)
	l.inflight = l.inflight[:0]
	l.seen.Reset()
	return n
}

func (l *Ledger) InFlight() int {
	return len(l.inflight)
}

// Pending returns copies of the in-flight slots in send order.
func (l *Ledger) Pending() []SafeSend {
	out := make([]SafeSend, 0, len(l.inflight))
	for _, s := range l.inflight {
		out = append(out, *s)
	}
	return out
}

func (l *Ledger) NextSequence() uint32 {
	return l.nextSeq
}
