package gombot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

const DefaultReadInterval = 100 * time.Millisecond

// Requester sends sensor read commands. index is echoed back to
// OnSensorReply when the matching reply arrives.
type Requester interface {
	SendReadCommand(device Device, index int, ports ...Port) error
}

type MonitorState int

const (
	Stopped MonitorState = iota
	Running
)

func (s MonitorState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

type MonitorConfig struct {
	// Interval between two read commands. Zero selects DefaultReadInterval.
	Interval time.Duration
	// Slots is the round-robin request order. Empty selects DefaultSlots.
	Slots []PollSlot
}

// Monitor polls the sensors of one robot in round-robin order, keeps the
// latest decoded values and publishes a change event for each reply.
type Monitor struct {
	Events *Dispatcher

	api      Requester
	interval time.Duration
	slots    []PollSlot

	mu        sync.Mutex
	state     MonitorState
	readIndex int
	latest    Reading
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMonitor(api Requester, cfg MonitorConfig) (*Monitor, error) {
	if api == nil {
		return nil, errors.New("monitor needs a requester")
	}
	if cfg.Interval < 0 {
		return nil, errors.New("monitor interval must not be negative")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultReadInterval
	}
	slots := cfg.Slots
	if len(slots) == 0 {
		slots = DefaultSlots()
	}

	return &Monitor{
		Events:   NewDispatcher(),
		api:      api,
		interval: cfg.Interval,
		slots:    append([]PollSlot(nil), slots...),
		latest:   Reading{UpdatedAt: make(map[SensorKind]time.Time)},
	}, nil
}

// Start begins polling until Stop is called or ctx is done. The read index and
// the latest values start over on every start. Starting twice is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.state = Running
	m.readIndex = 0
	m.latest = Reading{UpdatedAt: make(map[SensorKind]time.Time)}
	m.cancel = cancel
	m.done = done

	go m.run(runCtx, done)
	log.Printf("Sensor monitoring started: %d slots every %s", len(m.slots), m.interval)
	return nil
}

// Stop halts polling and waits for the poll loop to exit. It must not be
// called from within SendReadCommand.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	sent := m.readIndex
	m.state = Stopped
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	<-done
	log.Printf("Sensor monitoring stopped after %d requests", sent)
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.done == done {
				// parent context ended without Stop
				m.state = Stopped
				m.cancel = nil
				m.done = nil
				log.Printf("Sensor monitoring stopped: %v", ctx.Err())
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick sends the read command for the current slot and advances the index.
func (m *Monitor) tick() {
	m.mu.Lock()
	if m.state != Running {
		m.mu.Unlock()
		return
	}
	index := m.readIndex
	slot := m.slots[index%len(m.slots)]
	m.readIndex++
	m.mu.Unlock()

	if err := m.api.SendReadCommand(slot.Device, index, slot.Port); err != nil {
		log.Printf("Failed to request %s on port %d (index %d): %v", slot.Kind, slot.Port, index, err)
	}
}

// OnSensorReply decodes the reply to the command sent with index and emits
// the matching change event. Replies are ignored while stopped.
func (m *Monitor) OnSensorReply(index int, content []byte) {
	m.mu.Lock()
	if m.state != Running {
		m.mu.Unlock()
		return
	}
	if index < 0 || len(content) < 4 {
		m.mu.Unlock()
		log.Printf("Dropping sensor reply: index %d with %d content bytes", index, len(content))
		return
	}

	slot := m.slots[index%len(m.slots)]
	now := time.Now()
	var ev Event
	switch {
	case slot.isLineFollower():
		st, ok := ClassifyLineFollower(content[2], content[3], m.latest.LineFollower)
		if !ok {
			m.mu.Unlock()
			log.Printf("Unknown line follower pattern % X", content[:4])
			return
		}
		m.latest.LineFollower = st
		m.latest.UpdatedAt[LineFollowerLeft] = now
		m.latest.UpdatedAt[LineFollowerRight] = now
		ev = LineFollowerEvent{State: st, Port: slot.Port}
	case slot.Kind == Ultrasonic:
		v := RoundReading(DecodeFloatLE(content))
		m.latest.Ultrasonic = v
		m.latest.UpdatedAt[Ultrasonic] = now
		ev = UltrasonicEvent{Value: v, Port: slot.Port}
	case slot.Kind == Lightness:
		v := RoundReading(DecodeFloatLE(content))
		m.latest.Lightness = v
		m.latest.UpdatedAt[Lightness] = now
		ev = LightnessEvent{Value: v, Port: slot.Port}
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.Events.Emit(ev)
}

func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReadIndex returns the number of read commands issued since the last start.
func (m *Monitor) ReadIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readIndex
}

func (m *Monitor) Ultrasonic() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest.Ultrasonic
}

func (m *Monitor) Lightness() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest.Lightness
}

func (m *Monitor) LineFollower() LineFollowerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest.LineFollower
}

// Snapshot returns a copy of the latest values.
func (m *Monitor) Snapshot() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.latest
	r.UpdatedAt = make(map[SensorKind]time.Time, len(m.latest.UpdatedAt))
	for k, t := range m.latest.UpdatedAt {
		r.UpdatedAt[k] = t
	}
	return r
}

// Slots returns the request order.
func (m *Monitor) Slots() []PollSlot {
	return append([]PollSlot(nil), m.slots...)
}
