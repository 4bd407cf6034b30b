package gombot

import (
	"fmt"
	"time"
)

// SensorKind identifies one of the robot sensors the monitor can report.
type SensorKind int

const (
	Ultrasonic SensorKind = iota
	Lightness
	LineFollowerLeft
	LineFollowerRight
)

func (k SensorKind) String() string {
	switch k {
	case Ultrasonic:
		return "ultrasonic"
	case Lightness:
		return "lightness"
	case LineFollowerLeft:
		return "line_follower_left"
	case LineFollowerRight:
		return "line_follower_right"
	default:
		return fmt.Sprintf("SensorKind(%d)", int(k))
	}
}

// Device is the firmware device id addressed by a command.
type Device byte

// Port is the RJ25 port (or on-board channel) a device is plugged into.
type Port byte

// mBot device ids and their factory ports.
const (
	DeviceUltrasonic   Device = 0x01
	DeviceLightSensor  Device = 0x03
	DeviceLineFollower Device = 0x11

	PortUltrasonic   Port = 3
	PortLightSensor  Port = 6
	PortLineFollower Port = 2
)

// PollSlot is one entry of the round-robin request order. Its position in the
// slot list is the read index used to match replies.
type PollSlot struct {
	Kind   SensorKind
	Device Device
	Port   Port
}

// DefaultSlots returns the ultrasonic, light and line follower slots on the
// ports the robot ships with. The line follower slot covers both sides.
func DefaultSlots() []PollSlot {
	return []PollSlot{
		{Kind: Ultrasonic, Device: DeviceUltrasonic, Port: PortUltrasonic},
		{Kind: Lightness, Device: DeviceLightSensor, Port: PortLightSensor},
		{Kind: LineFollowerLeft, Device: DeviceLineFollower, Port: PortLineFollower},
	}
}

// SlotFor builds the slot for kind on port. A zero port selects the default one.
func SlotFor(kind SensorKind, port Port) PollSlot {
	s := PollSlot{Kind: kind}
	switch kind {
	case Ultrasonic:
		s.Device, s.Port = DeviceUltrasonic, PortUltrasonic
	case Lightness:
		s.Device, s.Port = DeviceLightSensor, PortLightSensor
	case LineFollowerLeft, LineFollowerRight:
		s.Kind = LineFollowerLeft
		s.Device, s.Port = DeviceLineFollower, PortLineFollower
	}
	if port != 0 {
		s.Port = port
	}
	return s
}

func (s PollSlot) isLineFollower() bool {
	return s.Kind == LineFollowerLeft || s.Kind == LineFollowerRight
}

// LineFollowerState holds which side of the line follower sees black.
type LineFollowerState struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// Sums of the two high bytes of the float the firmware reports
// (3.0, 2.0, 1.0 and 0.0 in little-endian order).
const (
	lineSumWhiteWhite = 0x40 + 0x40
	lineSumWhiteBlack = 0x00 + 0x40
	lineSumBlackWhite = 0x80 + 0x3F
	lineSumBlackBlack = 0x00 + 0x00
)

var lineFollowerTable = map[int]LineFollowerState{
	lineSumWhiteWhite: {Left: false, Right: false},
	lineSumWhiteBlack: {Left: false, Right: true},
	lineSumBlackWhite: {Left: true, Right: false},
	lineSumBlackBlack: {Left: true, Right: true},
}

// ClassifyLineFollower maps the 3rd and 4th content bytes of a line follower
// reply to the state of both sides. An unknown sum returns prev and false.
func ClassifyLineFollower(b2, b3 byte, prev LineFollowerState) (LineFollowerState, bool) {
	st, ok := lineFollowerTable[int(b2)+int(b3)]
	if !ok {
		return prev, false
	}
	return st, true
}

// Reading is a snapshot of the latest decoded sensor values.
type Reading struct {
	Ultrasonic   float64                  `json:"ultrasonic"`
	Lightness    float64                  `json:"lightness"`
	LineFollower LineFollowerState        `json:"line_follower"`
	UpdatedAt    map[SensorKind]time.Time `json:"updated_at,omitempty"`
}
