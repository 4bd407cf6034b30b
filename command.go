package gombot

import (
	"errors"
	"fmt"
)

// Command actions
const (
	ActionGet   = 0x01
	ActionRun   = 0x02
	ActionReset = 0x04
	ActionStart = 0x05
)

// Reply value types
const (
	ReplyByte   = 0x01
	ReplyFloat  = 0x02
	ReplyShort  = 0x03
	ReplyString = 0x04
	ReplyDouble = 0x05
)

// Reply layout: FF 55 | index | type | payload | 0D 0A.
// A bare acknowledgement is FF 55 0D 0A.
const (
	EOL1 = 0x0D
	EOL2 = 0x0A

	replyPrefixSize = 4
	replyEOLSize    = 2
	AckFrameSize    = 4
)

var (
	ErrIncompleteReply  = errors.New("reply shorter than its declared size")
	ErrNotReply         = errors.New("reply does not start with the frame header")
	ErrBadTrailer       = errors.New("reply trailer is not CR LF")
	ErrUnknownReplyType = errors.New("unknown reply value type")
)

// EncodeReadCommand builds a get request for device on the given ports, tagged
// with the wire index idx that the robot echoes back in its reply.
func EncodeReadCommand(idx byte, device Device, ports ...Port) []byte {
	body := make([]byte, 0, 3+len(ports))
	body = append(body, idx, ActionGet, byte(device))
	for _, p := range ports {
		body = append(body, byte(p))
	}

	out := make([]byte, 0, len(FrameHeader)+1+len(body))
	out = append(out, FrameHeader...)
	out = append(out, byte(len(body)))
	return append(out, body...)
}

// payloadSize returns the payload length for a value type, or -1 when the
// length prefix of a string has not arrived yet.
func payloadSize(typ byte, rest []byte) (int, error) {
	switch typ {
	case ReplyByte:
		return 1, nil
	case ReplyFloat, ReplyDouble:
		return 4, nil
	case ReplyShort:
		return 2, nil
	case ReplyString:
		if len(rest) < 1 {
			return -1, nil
		}
		return 1 + int(rest[0]), nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownReplyType, typ)
	}
}

// ReplySizer is the FrameSizer for frames sent by the robot.
func ReplySizer(frame []byte) (int, error) {
	if len(frame) < AckFrameSize {
		return 0, nil
	}
	if frame[2] == EOL1 && frame[3] == EOL2 {
		return AckFrameSize, nil
	}

	n, err := payloadSize(frame[3], frame[replyPrefixSize:])
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	size := replyPrefixSize + n + replyEOLSize
	if len(frame) < size {
		return 0, nil
	}
	if frame[size-2] != EOL1 || frame[size-1] != EOL2 {
		return 0, ErrBadTrailer
	}
	return size, nil
}

// Reply is a decoded frame sent by the robot.
type Reply struct {
	Ack   bool
	Index byte
	Type  byte
	// Payload holds the value bytes in wire order.
	Payload []byte
}

// ParseReply decodes one complete frame as cut by ReplySizer.
func ParseReply(frame []byte) (Reply, error) {
	if len(frame) < AckFrameSize || frame[0] != SOF1 || frame[1] != SOF2 {
		return Reply{}, ErrNotReply
	}
	size, err := ReplySizer(frame)
	if err != nil {
		return Reply{}, err
	}
	if size == 0 || len(frame) < size {
		return Reply{}, ErrIncompleteReply
	}
	if size == AckFrameSize {
		return Reply{Ack: true}, nil
	}

	payload := make([]byte, size-replyPrefixSize-replyEOLSize)
	copy(payload, frame[replyPrefixSize:])
	return Reply{
		Index:   frame[2],
		Type:    frame[3],
		Payload: payload,
	}, nil
}

// Value returns the numeric value carried by the reply.
func (r Reply) Value() (float64, error) {
	need, err := payloadSize(r.Type, r.Payload)
	if err != nil {
		return 0, err
	}
	if need < 0 || len(r.Payload) < need {
		return 0, ErrIncompleteReply
	}
	switch r.Type {
	case ReplyByte:
		return float64(r.Payload[0]), nil
	case ReplyShort:
		return float64(SignedBytesToInt(r.Payload[1], r.Payload[0])), nil
	case ReplyFloat, ReplyDouble:
		return DecodeFloatLE(r.Payload), nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X is not numeric", ErrUnknownReplyType, r.Type)
	}
}

// Text returns the string carried by a string reply.
func (r Reply) Text() (string, error) {
	if r.Type != ReplyString {
		return "", fmt.Errorf("%w: 0x%02X is not a string", ErrUnknownReplyType, r.Type)
	}
	if len(r.Payload) < 1 || len(r.Payload) < 1+int(r.Payload[0]) {
		return "", ErrIncompleteReply
	}
	return string(r.Payload[1 : 1+int(r.Payload[0])]), nil
}

func (r Reply) String() string {
	if r.Ack {
		return "ack"
	}
	if s, err := r.Text(); err == nil {
		return fmt.Sprintf("index %d text %q", r.Index, s)
	}
	if v, err := r.Value(); err == nil {
		return fmt.Sprintf("index %d value %v", r.Index, v)
	}
	return fmt.Sprintf("index %d type 0x%02X payload % X", r.Index, r.Type, r.Payload)
}
