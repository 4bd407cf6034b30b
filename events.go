package gombot

import (
	"fmt"
	"log"
	"sync"
)

type EventType int

const (
	UltrasonicSensorValueChanged EventType = iota + 1
	LightnessSensorValueChanged
	LinefollowerSensorValueChanged
)

func (t EventType) String() string {
	switch t {
	case UltrasonicSensorValueChanged:
		return "ultrasonic_sensor_value_changed"
	case LightnessSensorValueChanged:
		return "lightness_sensor_value_changed"
	case LinefollowerSensorValueChanged:
		return "linefollower_sensor_value_changed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted once per decoded sensor reply. The set of implementations
// is closed: UltrasonicEvent, LightnessEvent and LineFollowerEvent.
type Event interface {
	Type() EventType
	sensorEvent()
}

// UltrasonicEvent carries a distance in centimeters.
type UltrasonicEvent struct {
	Value float64
	Port  Port
}

// LightnessEvent carries the raw light sensor level.
type LightnessEvent struct {
	Value float64
	Port  Port
}

type LineFollowerEvent struct {
	State LineFollowerState
	Port  Port
}

func (UltrasonicEvent) Type() EventType   { return UltrasonicSensorValueChanged }
func (LightnessEvent) Type() EventType    { return LightnessSensorValueChanged }
func (LineFollowerEvent) Type() EventType { return LinefollowerSensorValueChanged }

func (UltrasonicEvent) sensorEvent()   {}
func (LightnessEvent) sensorEvent()    {}
func (LineFollowerEvent) sensorEvent() {}

type listener struct {
	id  int
	typ EventType // 0 matches every type
	fn  func(Event)
}

// Dispatcher fans events out to registered listeners. Listeners run on the
// emitting goroutine, after the dispatcher lock has been released.
type Dispatcher struct {
	mu        sync.Mutex
	nextID    int
	listeners []listener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make([]listener, 0),
	}
}

// Subscribe registers fn for events of type t and returns a function removing it.
func (d *Dispatcher) Subscribe(t EventType, fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, listener{id: id, typ: t, fn: fn})
	return func() { d.remove(id) }
}

// SubscribeAll registers fn for every event type.
func (d *Dispatcher) SubscribeAll(fn func(Event)) func() {
	return d.Subscribe(0, fn)
}

func (d *Dispatcher) OnUltrasonic(fn func(UltrasonicEvent)) func() {
	return d.Subscribe(UltrasonicSensorValueChanged, func(ev Event) {
		fn(ev.(UltrasonicEvent))
	})
}

func (d *Dispatcher) OnLightness(fn func(LightnessEvent)) func() {
	return d.Subscribe(LightnessSensorValueChanged, func(ev Event) {
		fn(ev.(LightnessEvent))
	})
}

func (d *Dispatcher) OnLineFollower(fn func(LineFollowerEvent)) func() {
	return d.Subscribe(LinefollowerSensorValueChanged, func(ev Event) {
		fn(ev.(LineFollowerEvent))
	})
}

func (d *Dispatcher) remove(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id == id {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to the matching listeners in subscription order.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	targets := make([]func(Event), 0, len(d.listeners))
	for _, l := range d.listeners {
		if l.typ == 0 || l.typ == ev.Type() {
			targets = append(targets, l.fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range targets {
		d.call(fn, ev)
	}
}

func (d *Dispatcher) call(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Listener for %s panicked: %v", ev.Type(), r)
		}
	}()
	fn(ev)
}
