package frame

import "fmt"

// EnvelopeLen is the size of the trailing (timestamp, sender_id) pair.
const EnvelopeLen = 8

// Envelope attributes a signed frame to its sender.
type Envelope struct {
	Timestamp uint32
	SenderID  uint32
}

// Sign pushes timestamp then sender id. It must be the last write before the
// frame is handed to a transport; the receiver pops sender id first.
func Sign(f *Frame, timestamp, senderID uint32) error {
	if f.Remaining() < EnvelopeLen {
		return fmt.Errorf("%w: sign needs %d have %d", ErrBufferFull, EnvelopeLen, f.Remaining())
	}
	_ = f.PushU32(timestamp)
	_ = f.PushU32(senderID)
	return nil
}

// ReadEnvelope pops the envelope off a received frame. A frame shorter than
// EnvelopeLen is foreign or corrupt and is left untouched.
func ReadEnvelope(f *Frame) (Envelope, error) {
	if f.Len() < EnvelopeLen {
		return Envelope{}, fmt.Errorf("%w: envelope needs %d have %d", ErrBufferUnderrun, EnvelopeLen, f.Len())
	}
	sender, _ := f.PopU32()
	ts, _ := f.PopU32()
	return Envelope{Timestamp: ts, SenderID: sender}, nil
}
