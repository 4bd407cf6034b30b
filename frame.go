package gombot

import (
	"log"
)

// Frame synchronization
const (
	SOF1 = 0xFF
	SOF2 = 0x55

	DefaultMaxCarry = 256
)

// FrameHeader marks the start of every frame exchanged with the robot.
var FrameHeader = []byte{SOF1, SOF2}

// FrameSizer reports the total length of the frame that starts at frame[0].
// It returns 0 and a nil error while the length cannot be known yet, and an
// error when the bytes at frame[0] cannot start a valid frame.
type FrameSizer func(frame []byte) (int, error)

// HeaderPosition returns the smallest index at which header appears in buf
// with at least one byte following it.
func HeaderPosition(buf, header []byte) (int, bool) {
	if len(header) == 0 || len(buf) <= len(header) {
		return 0, false
	}
	last := len(buf) - 1
	for i := 0; i+len(header) <= last; i++ {
		if buf[i] != header[0] {
			continue
		}
		match := true
		for j := 1; j < len(header); j++ {
			if buf[i+j] != header[j] {
				match = false
				break
			}
		}
		if match {
			return i, true
		}
	}
	return 0, false
}

// JoinBytes returns a new slice holding a followed by b.
func JoinBytes(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// ExtractFrame locates header in carry+buf and cuts a frame of minSize bytes.
// When ok is false, rest holds the bytes to pass back as carry once the next
// chunk arrives. The inputs are never modified.
func ExtractFrame(buf, header []byte, minSize int, carry []byte) (frame, rest []byte, ok bool) {
	return extractFixed(JoinBytes(carry, buf), header, minSize)
}

// ExtractSizedFrame is ExtractFrame for variable-length frames whose size is
// declared inside the frame. Header candidates rejected by sizer are skipped.
func ExtractSizedFrame(buf, header []byte, sizer FrameSizer, carry []byte) (frame, rest []byte, ok bool) {
	return extractSized(JoinBytes(carry, buf), header, sizer)
}

func extractFixed(data, header []byte, minSize int) ([]byte, []byte, bool) {
	if minSize < len(header) {
		minSize = len(header)
	}
	pos, found := HeaderPosition(data, header)
	if !found {
		return nil, data, false
	}
	if len(data)-pos < minSize {
		return nil, data[pos:], false
	}
	end := pos + minSize
	return data[pos:end:end], data[end:], true
}

func extractSized(data, header []byte, sizer FrameSizer) ([]byte, []byte, bool) {
	for {
		pos, found := HeaderPosition(data, header)
		if !found {
			return nil, data, false
		}
		size, err := sizer(data[pos:])
		if err != nil {
			// false header: resync on the next candidate
			data = data[pos+1:]
			continue
		}
		if size == 0 || len(data)-pos < size {
			if completeFrameAfter(data[pos+1:], header, sizer) {
				// stalled candidate in front of a valid frame
				data = data[pos+1:]
				continue
			}
			return nil, data[pos:], false
		}
		end := pos + size
		return data[pos:end:end], data[end:], true
	}
}

// completeFrameAfter reports whether data holds a header candidate that sizer
// accepts as a frame fully contained in data.
func completeFrameAfter(data, header []byte, sizer FrameSizer) bool {
	for {
		pos, found := HeaderPosition(data, header)
		if !found {
			return false
		}
		size, err := sizer(data[pos:])
		if err == nil && size > 0 && len(data)-pos >= size {
			return true
		}
		data = data[pos+1:]
	}
}

// Reassembler turns a stream of arbitrary chunks into complete frames. It keeps
// the carry-over between calls and is meant to be owned by a single reader.
type Reassembler struct {
	Header []byte
	// MinSize is used when Sizer is nil.
	MinSize int
	Sizer   FrameSizer
	// MaxCarry bounds the bytes kept between chunks; 0 disables the bound.
	MaxCarry int
	OnFrame  func(frame []byte)

	carry []byte
}

func NewReassembler(header []byte, sizer FrameSizer) *Reassembler {
	return &Reassembler{
		Header:   header,
		Sizer:    sizer,
		MaxCarry: DefaultMaxCarry,
		carry:    make([]byte, 0),
	}
}

// Feed appends chunk to the pending bytes, hands every complete frame to
// OnFrame and returns how many frames were found.
func (r *Reassembler) Feed(chunk []byte) int {
	data := JoinBytes(r.carry, chunk)
	n := 0
	for {
		var frame []byte
		var ok bool
		if r.Sizer != nil {
			frame, data, ok = extractSized(data, r.Header, r.Sizer)
		} else {
			frame, data, ok = extractFixed(data, r.Header, r.MinSize)
		}
		if !ok {
			break
		}
		n++
		if r.OnFrame != nil {
			r.OnFrame(frame)
		}
	}

	if r.MaxCarry > 0 && len(data) > r.MaxCarry {
		log.Printf("Dropping %d stale bytes from carry-over", len(data)-r.MaxCarry)
		data = data[len(data)-r.MaxCarry:]
	}
	r.carry = append(r.carry[:0:0], data...)
	return n
}

// Pending returns a copy of the bytes waiting for the next chunk.
func (r *Reassembler) Pending() []byte {
	return append([]byte(nil), r.carry...)
}

func (r *Reassembler) Reset() {
	r.carry = r.carry[:0]
}
