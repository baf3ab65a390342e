package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
	"github.com/danmuck/relink/internal/testutil/testlog"
)

type recordingOutlet struct {
	sent [][]byte
	fail bool
}

func (o *recordingOutlet) Transmit(b []byte) bool {
	cp := make([]byte, len(b))
	copy(cp, b)
	o.sent = append(o.sent, cp)
	return !o.fail
}

func helloFrame(t *testing.T) *frame.Frame {
	t.Helper()
	f := frame.New()
	if err := f.PushBytes([]byte("hello")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := protocol.EncodeApplication(f, protocol.MustTag("CMSG")); err != nil {
		t.Fatalf("encode application: %v", err)
	}
	return f
}

func TestConfigWithDefaultsFillsZeroKnobs(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ResendInterval: 50 * time.Millisecond}.WithDefaults()
	if cfg.MaxRetries != 10 || cfg.HandshakeRedundancy != 5 || cfg.FrameCapacity != 1024 || cfg.DedupeBucketCount != 128 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ResendInterval != 50*time.Millisecond {
		t.Fatalf("resend interval overwritten: %v", cfg.ResendInterval)
	}
}

func TestSendSafeAssignsSequenceAndTransmitsSignedSafe(t *testing.T) {
	testlog.Start(t)
	out := &recordingOutlet{}
	l := NewLedger(DefaultConfig(), out)
	src := helloFrame(t)
	before := src.Len()

	seq0, err := l.SendSafe(src, 4, 100)
	if err != nil {
		t.Fatalf("send safe: %v", err)
	}
	seq1, err := l.SendSafe(src, 4, 100)
	if err != nil {
		t.Fatalf("send safe: %v", err)
	}
	if seq0 != 0 || seq1 != 1 || l.NextSequence() != 2 {
		t.Fatalf("unexpected sequence ids: %d %d next=%d", seq0, seq1, l.NextSequence())
	}
	if src.Len() != before {
		t.Fatalf("caller frame mutated: len=%d want=%d", src.Len(), before)
	}
	if len(out.sent) != 2 || l.InFlight() != 2 {
		t.Fatalf("sent=%d inflight=%d", len(out.sent), l.InFlight())
	}

	msg, err := protocol.Parse(out.sent[1], frame.DefaultCapacity)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Kind() != protocol.KindSafe || msg.Envelope.SenderID != 4 || msg.Envelope.Timestamp != 100 {
		t.Fatalf("unexpected safe message: %+v", msg)
	}
	seq, _ := protocol.UnwrapSafe(msg.Frame)
	if seq != 1 {
		t.Fatalf("wire seq got=%d", seq)
	}
}

func TestSendSafeWithoutLocalIDIsRejected(t *testing.T) {
	testlog.Start(t)
	out := &recordingOutlet{}
	l := NewLedger(DefaultConfig(), out)
	if _, err := l.SendSafe(helloFrame(t), protocol.InvalidID, 0); !errors.Is(err, ErrNoLocalID) {
		t.Fatalf("expected ErrNoLocalID, got %v", err)
	}
	if l.InFlight() != 0 || len(out.sent) != 0 || l.NextSequence() != 0 {
		t.Fatalf("rejected send left state behind")
	}
}

func TestSendSafeOverflowDoesNotConsumeSequence(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.FrameCapacity = 16
	l := NewLedger(cfg, &recordingOutlet{})
	f := frame.NewWithCapacity(16)
	_ = f.PushBytes(make([]byte, 10))
	if _, err := l.SendSafe(f, 1, 0); !errors.Is(err, frame.ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
	if l.NextSequence() != 0 || l.InFlight() != 0 {
		t.Fatalf("overflow consumed seq=%d inflight=%d", l.NextSequence(), l.InFlight())
	}
}

func TestRetryCeilingResendsVerbatimThenExpiresOnce(t *testing.T) {
	testlog.Start(t)
	out := &recordingOutlet{}
	cfg := DefaultConfig()
	l := NewLedger(cfg, out)
	if _, err := l.SendSafe(helloFrame(t), 2, 0); err != nil {
		t.Fatalf("send safe: %v", err)
	}
	original := out.sent[0]

	expired := 0
	for now := protocol.Tick(0); now <= 5000; now += 10 {
		res := l.Tick(now)
		expired += len(res.Expired)
		for _, e := range res.Expired {
			if e.Sequence != 0 || e.Retries != cfg.MaxRetries {
				t.Fatalf("unexpected expiry: %+v", e)
			}
		}
	}
	retransmits := out.sent[1:]
	if len(retransmits) != cfg.MaxRetries {
		t.Fatalf("retransmits got=%d want=%d", len(retransmits), cfg.MaxRetries)
	}
	for i, b := range retransmits {
		if !bytes.Equal(b, original) {
			t.Fatalf("retransmit %d differs from original", i)
		}
	}
	if expired != 1 {
		t.Fatalf("expired got=%d want=1", expired)
	}
	if l.InFlight() != 0 {
		t.Fatalf("slot not removed: inflight=%d", l.InFlight())
	}
}

func TestRetransmitSpacingHonorsResendInterval(t *testing.T) {
	testlog.Start(t)
	out := &recordingOutlet{}
	l := NewLedger(DefaultConfig(), out)
	_, _ = l.SendSafe(helloFrame(t), 2, 1000)

	if res := l.Tick(1199); res.Retransmits != 0 {
		t.Fatalf("resent early: %+v", res)
	}
	if res := l.Tick(1200); res.Retransmits != 1 {
		t.Fatalf("expected resend at interval: %+v", res)
	}
	if res := l.Tick(1399); res.Retransmits != 0 {
		t.Fatalf("resent early after retry: %+v", res)
	}
	if res := l.Tick(1400); res.Retransmits != 1 {
		t.Fatalf("expected second resend: %+v", res)
	}
}

func TestEveryRetryWaitsExactlyOneInterval(t *testing.T) {
	testlog.Start(t)
	var sentAt []protocol.Tick
	var now protocol.Tick
	out := OutletFunc(func([]byte) bool {
		sentAt = append(sentAt, now)
		return true
	})
	cfg := DefaultConfig()
	l := NewLedger(cfg, out)
	if _, err := l.SendSafe(helloFrame(t), 2, now); err != nil {
		t.Fatalf("send safe: %v", err)
	}
	for now = 0; now <= 5000; now += 10 {
		l.Tick(now)
	}
	if len(sentAt) != cfg.MaxRetries+1 {
		t.Fatalf("sends got=%d want=%d", len(sentAt), cfg.MaxRetries+1)
	}
	for i := 1; i < len(sentAt); i++ {
		if gap := sentAt[i].Since(sentAt[i-1]); gap != 200 {
			t.Fatalf("gap %d got=%dms want=200ms (ticks=%v)", i, gap, sentAt)
		}
	}
}

func TestTransportRefusalStillCountsAgainstCeiling(t *testing.T) {
	testlog.Start(t)
	out := &recordingOutlet{fail: true}
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	l := NewLedger(cfg, out)
	_, _ = l.SendSafe(helloFrame(t), 2, 0)

	r1 := l.Tick(200)
	r2 := l.Tick(400)
	r3 := l.Tick(600)
	if r1.SendFailures != 1 || r2.SendFailures != 1 {
		t.Fatalf("expected send failures counted: %+v %+v", r1, r2)
	}
	if len(r3.Expired) != 1 {
		t.Fatalf("expected expiry after ceiling: %+v", r3)
	}
}

func TestOnAckIsIdempotent(t *testing.T) {
	testlog.Start(t)
	out := &recordingOutlet{}
	l := NewLedger(DefaultConfig(), out)
	seq, _ := l.SendSafe(helloFrame(t), 1, 0)
	other, _ := l.SendSafe(helloFrame(t), 1, 0)

	acked, ok := l.OnAck(seq)
	if !ok || acked.Sequence != seq {
		t.Fatalf("first ack should match: ok=%v slot=%+v", ok, acked)
	}
	if _, ok := l.OnAck(seq); ok {
		t.Fatalf("second ack should be a no-op")
	}
	if l.InFlight() != 1 || l.Pending()[0].Sequence != other {
		t.Fatalf("unexpected pending: %+v", l.Pending())
	}
	if _, ok := l.OnAck(999); ok {
		t.Fatalf("unknown ack should be a no-op")
	}
	if res := l.Tick(10000); res.Retransmits != 1 {
		t.Fatalf("acked slot should not resend: %+v", res)
	}
}

func TestOnSafeReceivedDeliverThenDuplicate(t *testing.T) {
	testlog.Start(t)
	l := NewLedger(DefaultConfig(), &recordingOutlet{})
	if v := l.OnSafeReceived(5); v != Deliver {
		t.Fatalf("first receive got=%v", v)
	}
	if v := l.OnSafeReceived(5); v != Duplicate {
		t.Fatalf("second receive got=%v", v)
	}
	if v := l.OnSafeReceived(5 + 128); v != Deliver {
		t.Fatalf("same bucket different id got=%v", v)
	}
}

func TestCancelDropsSlotsSilently(t *testing.T) {
	testlog.Start(t)
	out := &recordingOutlet{}
	l := NewLedger(DefaultConfig(), out)
	_, _ = l.SendSafe(helloFrame(t), 1, 0)
	_, _ = l.SendSafe(helloFrame(t), 1, 0)
	if n := l.Cancel(); n != 2 {
		t.Fatalf("cancel got=%d", n)
	}
	res := l.Tick(60000)
	if res.Retransmits != 0 || len(res.Expired) != 0 {
		t.Fatalf("cancelled slots still active: %+v", res)
	}
}

func TestRecentIDsBoundedBucketEvictsOldest(t *testing.T) {
	testlog.Start(t)
	r := NewRecentIDs(4, 2)
	if r.Observe(1) || r.Observe(5) {
		t.Fatalf("fresh ids reported duplicate")
	}
	if !r.Observe(1) {
		t.Fatalf("expected duplicate")
	}
	if r.Observe(9) {
		t.Fatalf("fresh id reported duplicate")
	}
	if r.Seen(1) {
		t.Fatalf("oldest id should have been evicted")
	}
	if !r.Seen(5) || !r.Seen(9) {
		t.Fatalf("recent ids missing")
	}
	if r.Len() != 2 {
		t.Fatalf("unexpected len=%d", r.Len())
	}
}
