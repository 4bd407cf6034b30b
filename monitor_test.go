package gombot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readCall struct {
	Device Device
	Index  int
	Ports  []Port
}

type fakeRequester struct {
	mu    sync.Mutex
	calls []readCall
	err   error
}

func (f *fakeRequester) SendReadCommand(device Device, index int, ports ...Port) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, readCall{Device: device, Index: index, Ports: ports})
	return f.err
}

func (f *fakeRequester) Calls() []readCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]readCall(nil), f.calls...)
}

// startedMonitor returns a running monitor whose ticker never fires during a
// test, so ticks are driven by hand.
func startedMonitor(t *testing.T, api Requester) *Monitor {
	t.Helper()
	m, err := NewMonitor(api, MonitorConfig{Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func TestMonitorRoundRobin(t *testing.T) {
	req := &fakeRequester{}
	m := startedMonitor(t, req)

	for i := 0; i < 6; i++ {
		m.tick()
	}

	want := []readCall{
		{DeviceUltrasonic, 0, []Port{PortUltrasonic}},
		{DeviceLightSensor, 1, []Port{PortLightSensor}},
		{DeviceLineFollower, 2, []Port{PortLineFollower}},
		{DeviceUltrasonic, 3, []Port{PortUltrasonic}},
		{DeviceLightSensor, 4, []Port{PortLightSensor}},
		{DeviceLineFollower, 5, []Port{PortLineFollower}},
	}
	assert.Equal(t, want, req.Calls())
	assert.Equal(t, 6, m.ReadIndex())
}

func TestMonitorTicker(t *testing.T) {
	req := &fakeRequester{}
	m, err := NewMonitor(req, MonitorConfig{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, Running, m.State())
	assert.Eventually(t, func() bool { return len(req.Calls()) >= 4 }, time.Second, time.Millisecond)
	m.Stop()

	n := len(req.Calls())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(req.Calls()))
	for i, c := range req.Calls() {
		assert.Equal(t, i, c.Index)
	}
}

func TestMonitorSendErrorsDoNotStopPolling(t *testing.T) {
	req := &fakeRequester{err: errors.New("write failed")}
	m := startedMonitor(t, req)

	m.tick()
	m.tick()
	assert.Len(t, req.Calls(), 2)
	assert.Equal(t, 2, m.ReadIndex())
	assert.Equal(t, Running, m.State())
}

func TestMonitorStopIdempotent(t *testing.T) {
	m, err := NewMonitor(&fakeRequester{}, MonitorConfig{Interval: time.Hour})
	require.NoError(t, err)

	m.Stop()
	assert.Equal(t, Stopped, m.State())

	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()
	assert.Equal(t, Stopped, m.State())
}

func TestMonitorStartTwice(t *testing.T) {
	req := &fakeRequester{}
	m := startedMonitor(t, req)
	m.tick()

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 1, m.ReadIndex())
}

func TestMonitorContextCancelStops(t *testing.T) {
	m, err := NewMonitor(&fakeRequester{}, MonitorConfig{Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return m.State() == Stopped }, time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Start(ctx), context.Canceled)
	m.Stop()
}

func TestNewMonitorValidation(t *testing.T) {
	_, err := NewMonitor(nil, MonitorConfig{})
	assert.Error(t, err)

	_, err = NewMonitor(&fakeRequester{}, MonitorConfig{Interval: -time.Second})
	assert.Error(t, err)

	m, err := NewMonitor(&fakeRequester{}, MonitorConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultReadInterval, m.interval)
	assert.Equal(t, DefaultSlots(), m.Slots())
}

func TestMonitorUltrasonicReply(t *testing.T) {
	m := startedMonitor(t, &fakeRequester{})
	var events []UltrasonicEvent
	m.Events.OnUltrasonic(func(ev UltrasonicEvent) { events = append(events, ev) })

	m.OnSensorReply(0, leFloat(12.5))
	m.OnSensorReply(3, leFloat(float32(33.333)))

	assert.Equal(t, 33.33, m.Ultrasonic())
	assert.Equal(t, []UltrasonicEvent{
		{Value: 12.5, Port: PortUltrasonic},
		{Value: 33.33, Port: PortUltrasonic},
	}, events)
	assert.Contains(t, m.Snapshot().UpdatedAt, Ultrasonic)
}

func TestMonitorLightnessReply(t *testing.T) {
	m := startedMonitor(t, &fakeRequester{})
	var events []LightnessEvent
	m.Events.OnLightness(func(ev LightnessEvent) { events = append(events, ev) })

	m.OnSensorReply(1, leFloat(123.456))

	assert.Equal(t, 123.46, m.Lightness())
	assert.Equal(t, []LightnessEvent{{Value: 123.46, Port: PortLightSensor}}, events)
}

func TestMonitorLineFollowerReply(t *testing.T) {
	m := startedMonitor(t, &fakeRequester{})
	var events []LineFollowerEvent
	m.Events.OnLineFollower(func(ev LineFollowerEvent) { events = append(events, ev) })

	m.OnSensorReply(2, leFloat(1))
	m.OnSensorReply(5, []byte{0x00, 0x00, 0x01, 0x01})

	want := LineFollowerState{Left: true, Right: false}
	assert.Equal(t, want, m.LineFollower())
	assert.Equal(t, []LineFollowerEvent{{State: want, Port: PortLineFollower}}, events)

	snap := m.Snapshot()
	assert.Contains(t, snap.UpdatedAt, LineFollowerLeft)
	assert.Contains(t, snap.UpdatedAt, LineFollowerRight)
}

func TestMonitorIgnoresRepliesWhenStopped(t *testing.T) {
	m, err := NewMonitor(&fakeRequester{}, MonitorConfig{Interval: time.Hour})
	require.NoError(t, err)
	calls := 0
	m.Events.SubscribeAll(func(Event) { calls++ })

	m.OnSensorReply(0, leFloat(12.5))
	assert.Equal(t, 0.0, m.Ultrasonic())
	assert.Equal(t, 0, calls)
}

func TestMonitorDropsMalformedReplies(t *testing.T) {
	m := startedMonitor(t, &fakeRequester{})
	calls := 0
	m.Events.SubscribeAll(func(Event) { calls++ })

	m.OnSensorReply(-1, leFloat(12.5))
	m.OnSensorReply(0, []byte{0x00, 0x00, 0x48})
	m.OnSensorReply(0, nil)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0.0, m.Ultrasonic())
}

func TestMonitorSnapshotIsCopy(t *testing.T) {
	m := startedMonitor(t, &fakeRequester{})
	m.OnSensorReply(0, leFloat(10))

	snap := m.Snapshot()
	delete(snap.UpdatedAt, Ultrasonic)
	assert.Contains(t, m.Snapshot().UpdatedAt, Ultrasonic)
}

func TestMonitorRestartResetsState(t *testing.T) {
	m, err := NewMonitor(&fakeRequester{}, MonitorConfig{Interval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	m.tick()
	m.tick()
	m.OnSensorReply(0, leFloat(12.5))
	m.OnSensorReply(2, leFloat(0))
	m.Stop()

	assert.Equal(t, 2, m.ReadIndex())
	assert.Equal(t, 12.5, m.Ultrasonic())

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.Equal(t, 0, m.ReadIndex())
	assert.Equal(t, Reading{UpdatedAt: map[SensorKind]time.Time{}}, m.Snapshot())
}

func TestMonitorConcurrentTicksAndReplies(t *testing.T) {
	req := &fakeRequester{}
	m := startedMonitor(t, req)
	var events int
	var eventsMu sync.Mutex
	m.Events.SubscribeAll(func(Event) {
		eventsMu.Lock()
		events++
		eventsMu.Unlock()
	})

	const n = 300
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			m.tick()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			m.OnSensorReply(i, leFloat(float32(i%2)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = m.Snapshot()
			_ = m.LineFollower()
		}
	}()
	wg.Wait()

	assert.Equal(t, n, m.ReadIndex())
	calls := req.Calls()
	require.Len(t, calls, n)
	seen := make(map[int]bool, n)
	for _, c := range calls {
		seen[c.Index] = true
	}
	assert.Len(t, seen, n)

	eventsMu.Lock()
	defer eventsMu.Unlock()
	assert.Equal(t, n, events)
}
