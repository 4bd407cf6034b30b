package gombot

/*
 * mBot Link Library in Go
 *
 * This file is part of gombot, a Go implementation of the Makeblock mBot
 * serial protocol used to poll the robot sensors.
 *
 * Features:
 * - Request framing (FF 55 len idx action device port...)
 * - Reply reassembly and decoding from arbitrary serial chunks
 * - Correlation of replies to requests through a bounded in-flight table
 * - Designed for serial communication
 *
 * License: MIT License
 */

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Link core
const (
	IncomingBufferSize  = 128
	DefaultMaxRetries   = 10
	DefaultRetryDelay   = 2 * time.Second
	DefaultReplyTimeout = time.Second
	wireIndexCount      = 256
)

var (
	ErrNotConnected     = errors.New("link is not connected")
	ErrLinkClosed       = errors.New("link closed")
	ErrTooManyInFlight  = errors.New("no free wire index for a new request")
	ErrReconnectAborted = errors.New("reconnect gave up")
)

// Transport is the byte pipe to the robot together with the details of the
// port it was opened on.
type Transport struct {
	Read         func([]byte) (int, error)
	Write        func([]byte) (int, error)
	Close        func() error
	ProductID    string
	VendorID     string
	Product      string
	SerialNumber string
	PortName     string
}

// Dialer opens a fresh transport after the current one failed.
type Dialer func() (*Transport, error)

// ReplyHandler receives the content of each sensor reply with the index that
// was passed to SendReadCommand. *Monitor implements it.
type ReplyHandler interface {
	OnSensorReply(index int, content []byte)
}

// LinkConfig tunes a Link. Zero fields select the defaults.
type LinkConfig struct {
	ReplyTimeout time.Duration
	// MaxCarry bounds the reply bytes kept between reads.
	MaxCarry     int
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		ReplyTimeout: DefaultReplyTimeout,
		MaxCarry:     DefaultMaxCarry,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
	}
}

type inFlight struct {
	token    int
	deadline time.Time
}

// Link talks to one robot. The robot echoes a single byte of request index, so
// the link hands out wire indices itself and maps them back to the caller's
// index until the reply arrives or ReplyTimeout passes.
type Link struct {
	// Session identifies this link in log lines.
	Session string

	cfg    LinkConfig
	dial   Dialer
	frames *Reassembler
	now    func() time.Time

	// mu guards every field below.
	mu        sync.Mutex
	transport *Transport
	handler   ReplyHandler
	pending   map[byte]inFlight
	nextIndex byte
	closed    bool

	writeMu sync.Mutex
}

// NewLink creates a link over transport. dial may be nil, in which case a
// read error ends Run instead of reconnecting.
func NewLink(transport *Transport, dial Dialer, cfg LinkConfig) *Link {
	def := DefaultLinkConfig()
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = def.ReplyTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxCarry <= 0 {
		cfg.MaxCarry = def.MaxCarry
	}

	l := &Link{
		Session:   uuid.New().String(),
		cfg:       cfg,
		dial:      dial,
		frames:    NewReassembler(FrameHeader, ReplySizer),
		now:       time.Now,
		transport: transport,
		pending:   make(map[byte]inFlight),
	}
	l.frames.MaxCarry = cfg.MaxCarry
	l.frames.OnFrame = l.onFrame

	port := ""
	if transport != nil {
		port = transport.PortName
	}
	log.Printf("[%s] Link initialized on %q", l.Session, port)
	return l
}

// SetHandler sets the receiver of decoded sensor replies.
func (l *Link) SetHandler(h ReplyHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// SendReadCommand asks the robot for the value of device on ports. The reply
// is delivered to the handler with index.
func (l *Link) SendReadCommand(device Device, index int, ports ...Port) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if l.transport == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	now := l.now()
	l.expire(now)
	idx, ok := l.allocIndex()
	if !ok {
		l.mu.Unlock()
		return ErrTooManyInFlight
	}
	l.pending[idx] = inFlight{token: index, deadline: now.Add(l.cfg.ReplyTimeout)}
	transport := l.transport
	l.mu.Unlock()

	l.writeMu.Lock()
	_, err := transport.Write(EncodeReadCommand(idx, device, ports...))
	l.writeMu.Unlock()
	if err != nil {
		l.mu.Lock()
		delete(l.pending, idx)
		l.mu.Unlock()
		return fmt.Errorf("write read command for device 0x%02X: %w", byte(device), err)
	}
	return nil
}

// allocIndex returns the next wire index not waiting for a reply. Callers
// hold l.mu.
func (l *Link) allocIndex() (byte, bool) {
	for i := 0; i < wireIndexCount; i++ {
		idx := l.nextIndex
		l.nextIndex++
		if _, busy := l.pending[idx]; !busy {
			return idx, true
		}
	}
	return 0, false
}

// expire drops the requests whose reply is overdue. Callers hold l.mu.
func (l *Link) expire(now time.Time) {
	for idx, p := range l.pending {
		if now.After(p.deadline) {
			delete(l.pending, idx)
		}
	}
}

// InFlight returns the number of requests still waiting for a reply.
func (l *Link) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Link) onFrame(frame []byte) {
	reply, err := ParseReply(frame)
	if err != nil {
		log.Printf("[%s] Error parsing reply: %v", l.Session, err)
		return
	}
	if reply.Ack {
		return
	}

	l.mu.Lock()
	p, ok := l.pending[reply.Index]
	if ok {
		delete(l.pending, reply.Index)
	}
	handler := l.handler
	now := l.now()
	l.mu.Unlock()

	if !ok {
		log.Printf("[%s] Dropping reply for unknown index: %s", l.Session, reply)
		return
	}
	if now.After(p.deadline) {
		log.Printf("[%s] Dropping late reply: %s", l.Session, reply)
		return
	}
	if handler != nil {
		handler.OnSensorReply(p.token, reply.Payload)
	}
}

// handleChunk feeds bytes read from the transport to the reassembler.
func (l *Link) handleChunk(chunk []byte) {
	l.frames.Feed(chunk)
}

// Run reads from the transport until ctx is done or the link is closed,
// reconnecting after read errors.
func (l *Link) Run(ctx context.Context) error {
	buffer := make([]byte, IncomingBufferSize)
	log.Printf("[%s] Link reader started.", l.Session)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] Stopping link reader.", l.Session)
			return ctx.Err()
		default:
		}

		l.mu.Lock()
		transport, closed := l.transport, l.closed
		l.mu.Unlock()
		if closed {
			return ErrLinkClosed
		}
		if transport == nil {
			if err := l.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		n, err := transport.Read(buffer)
		if n > 0 {
			l.handleChunk(buffer[:n])
		}
		if err != nil {
			if l.isClosed() {
				return ErrLinkClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[%s] Error reading from transport: %v", l.Session, err)
			if err := l.reconnect(ctx); err != nil {
				return err
			}
		}
	}
}

// reconnect closes the current transport and dials a new one.
func (l *Link) reconnect(ctx context.Context) error {
	l.mu.Lock()
	old := l.transport
	l.transport = nil
	l.pending = make(map[byte]inFlight)
	l.mu.Unlock()
	if old != nil && old.Close != nil {
		old.Close()
	}
	l.frames.Reset()

	if l.dial == nil {
		return ErrNotConnected
	}

	log.Printf("[%s] Attempting to reconnect...", l.Session)
	for i := 0; i < l.cfg.MaxRetries; i++ {
		transport, err := l.dial()
		if err == nil {
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				if transport.Close != nil {
					transport.Close()
				}
				return ErrLinkClosed
			}
			l.transport = transport
			l.mu.Unlock()
			log.Printf("[%s] Reconnected to serial port: %s", l.Session, transport.PortName)
			return nil
		}
		log.Printf("[%s] Retrying to reconnect (%d/%d): %v", l.Session, i+1, l.cfg.MaxRetries, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryDelay):
		}
	}
	log.Printf("[%s] Failed to reconnect after maximum retries.", l.Session)
	return fmt.Errorf("%w after %d attempts", ErrReconnectAborted, l.cfg.MaxRetries)
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close closes the transport and makes Run return. Closing twice is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	transport := l.transport
	l.transport = nil
	l.pending = make(map[byte]inFlight)
	l.mu.Unlock()

	log.Printf("[%s] Link closed.", l.Session)
	if transport != nil && transport.Close != nil {
		return transport.Close()
	}
	return nil
}
