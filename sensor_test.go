package gombot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLineFollowerTable(t *testing.T) {
	cases := []struct {
		value float32
		want  LineFollowerState
	}{
		{3, LineFollowerState{Left: false, Right: false}},
		{2, LineFollowerState{Left: false, Right: true}},
		{1, LineFollowerState{Left: true, Right: false}},
		{0, LineFollowerState{Left: true, Right: true}},
	}
	for _, c := range cases {
		b := leFloat(c.value)
		got, ok := ClassifyLineFollower(b[2], b[3], LineFollowerState{})
		assert.True(t, ok, "value %v", c.value)
		assert.Equal(t, c.want, got, "value %v", c.value)
	}
}

func TestClassifyLineFollowerUnknownKeepsPrevious(t *testing.T) {
	prev := LineFollowerState{Left: true, Right: false}
	got, ok := ClassifyLineFollower(0x01, 0x01, prev)
	assert.False(t, ok)
	assert.Equal(t, prev, got)
}

func TestDefaultSlots(t *testing.T) {
	slots := DefaultSlots()
	assert.Equal(t, []PollSlot{
		{Kind: Ultrasonic, Device: 0x01, Port: 3},
		{Kind: Lightness, Device: 0x03, Port: 6},
		{Kind: LineFollowerLeft, Device: 0x11, Port: 2},
	}, slots)
}

func TestSlotFor(t *testing.T) {
	assert.Equal(t, PollSlot{Kind: Ultrasonic, Device: DeviceUltrasonic, Port: 4}, SlotFor(Ultrasonic, 4))
	assert.Equal(t, PollSlot{Kind: Lightness, Device: DeviceLightSensor, Port: PortLightSensor}, SlotFor(Lightness, 0))

	s := SlotFor(LineFollowerRight, 0)
	assert.Equal(t, LineFollowerLeft, s.Kind)
	assert.True(t, s.isLineFollower())
	assert.Equal(t, PortLineFollower, s.Port)
}

func TestSensorKindString(t *testing.T) {
	assert.Equal(t, "ultrasonic", Ultrasonic.String())
	assert.Equal(t, "line_follower_right", LineFollowerRight.String())
	assert.Equal(t, "SensorKind(9)", SensorKind(9).String())
}
