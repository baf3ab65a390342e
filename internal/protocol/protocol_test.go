package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/relink/internal/protocol/frame"
	"github.com/danmuck/relink/internal/testutil/testlog"
)

func TestTagKindsAreClosed(t *testing.T) {
	testlog.Start(t)
	cases := map[Tag]Kind{
		TagJoin:          KindJoin,
		TagQuit:          KindQuit,
		TagSafe:          KindSafe,
		TagAck:           KindAck,
		MustTag("CMSG"):  KindApplication,
		MustTag("join"):  KindApplication,
	}
	for tag, want := range cases {
		if got := tag.Kind(); got != want {
			t.Fatalf("tag %s kind got=%v want=%v", tag, got, want)
		}
	}
	if _, err := ParseTag("TOOLONG"); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected ErrInvalidTag, got %v", err)
	}
	if _, err := ParseTag("AB\x00C"); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected ErrInvalidTag for control byte, got %v", err)
	}
}

func TestJoinRequestAndReplyRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, in := range []Join{
		{Version: "relink/0.0.1", GeneratedID: 0xCAFEF00D, AssignedID: InvalidID},
		{Version: "relink/0.0.1", GeneratedID: 17, AssignedID: 0},
	} {
		f := frame.New()
		if err := EncodeJoin(f, in); err != nil {
			t.Fatalf("encode join: %v", err)
		}
		if err := frame.Sign(f, 50, InvalidID); err != nil {
			t.Fatalf("sign: %v", err)
		}
		msg, err := Parse(f.Bytes(), frame.DefaultCapacity)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if msg.Kind() != KindJoin || msg.Envelope.SenderID != InvalidID || msg.Envelope.Timestamp != 50 {
			t.Fatalf("unexpected message: %+v", msg)
		}
		out, err := DecodeJoin(msg.Frame)
		if err != nil {
			t.Fatalf("decode join: %v", err)
		}
		if out != in {
			t.Fatalf("join mismatch got=%+v want=%+v", out, in)
		}
		if out.IsReply() != (in.AssignedID != InvalidID) {
			t.Fatalf("reply flag mismatch: %+v", out)
		}
	}
}

func TestDecodeJoinTruncatedIsMalformed(t *testing.T) {
	testlog.Start(t)
	f := frame.New()
	_ = f.PushBytes([]byte("v1"))
	_ = f.PushU8(2)
	if _, err := DecodeJoin(f); !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("expected ErrMalformedBody, got %v", err)
	}
}

func TestSafeWrapsApplicationFrame(t *testing.T) {
	testlog.Start(t)
	f := frame.New()
	_ = f.PushBytes([]byte("hello"))
	if err := EncodeApplication(f, MustTag("CMSG")); err != nil {
		t.Fatalf("encode application: %v", err)
	}
	if err := WrapSafe(f, 9); err != nil {
		t.Fatalf("wrap safe: %v", err)
	}
	_ = frame.Sign(f, 1, 3)

	msg, err := Parse(f.Bytes(), frame.DefaultCapacity)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Kind() != KindSafe {
		t.Fatalf("expected safe kind, got %v", msg.Kind())
	}
	seq, err := UnwrapSafe(msg.Frame)
	if err != nil || seq != 9 {
		t.Fatalf("unwrap got=%d err=%v", seq, err)
	}
	inner, err := PopTag(msg.Frame)
	if err != nil || inner.String() != "CMSG" {
		t.Fatalf("inner tag got=%s err=%v", inner, err)
	}
	body, _ := msg.Frame.PopBytes(5)
	if string(body) != "hello" {
		t.Fatalf("inner body got=%q", body)
	}
}

func TestApplicationRejectsReservedTags(t *testing.T) {
	testlog.Start(t)
	f := frame.New()
	for _, tag := range []Tag{TagJoin, TagQuit, TagSafe, TagAck} {
		if err := EncodeApplication(f, tag); !errors.Is(err, ErrReservedTag) {
			t.Fatalf("tag %s: expected ErrReservedTag, got %v", tag, err)
		}
	}
	if f.Len() != 0 {
		t.Fatalf("rejected tag was written: len=%d", f.Len())
	}
}

func TestAckAndQuitBodies(t *testing.T) {
	testlog.Start(t)
	f := frame.New()
	_ = EncodeAck(f, 77)
	_ = frame.Sign(f, 2, 1)
	msg, err := Parse(f.Bytes(), frame.DefaultCapacity)
	if err != nil || msg.Kind() != KindAck {
		t.Fatalf("parse ack kind=%v err=%v", msg.Kind(), err)
	}
	seq, err := DecodeAck(msg.Frame)
	if err != nil || seq != 77 {
		t.Fatalf("decode ack got=%d err=%v", seq, err)
	}

	q := frame.New()
	_ = EncodeQuit(q)
	_ = frame.Sign(q, 2, 1)
	msg, err = Parse(q.Bytes(), frame.DefaultCapacity)
	if err != nil || msg.Kind() != KindQuit || msg.Frame.Len() != 0 {
		t.Fatalf("parse quit kind=%v len=%d err=%v", msg.Kind(), msg.Frame.Len(), err)
	}
}

func TestParseShortDatagramIsUnderrun(t *testing.T) {
	testlog.Start(t)
	if _, err := Parse([]byte{1, 2, 3}, frame.DefaultCapacity); !errors.Is(err, frame.ErrBufferUnderrun) {
		t.Fatalf("expected ErrBufferUnderrun, got %v", err)
	}
	if _, err := Parse(make([]byte, 9), frame.DefaultCapacity); !errors.Is(err, frame.ErrBufferUnderrun) {
		t.Fatalf("expected ErrBufferUnderrun for missing tag, got %v", err)
	}
}

func TestTickSinceWraps(t *testing.T) {
	testlog.Start(t)
	var before Tick = 0xFFFFFFF0
	var after Tick = 0x10
	if got := after.Since(before); got != 0x20 {
		t.Fatalf("wrap since got=%d", got)
	}
}
