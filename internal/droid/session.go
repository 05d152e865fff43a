package droid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeodc/droidlink/internal/ble"
	"github.com/jeodc/droidlink/internal/droid/wire"
)

// State is the connection session lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle identifies one logical pairing. It is owned by the session that
// created it and dies with the session on disconnect.
type Handle struct {
	ID      string
	Address string
}

// SessionOptions configures connection behavior.
type SessionOptions struct {
	// WriteTimeout bounds each command write acknowledgement. Default 2s.
	WriteTimeout time.Duration
	// PacketDelay paces multi-packet frames and logon repeats; droid
	// firmware drops back-to-back writes. Default 100ms.
	PacketDelay time.Duration
	// LogonRepeats is how many times the logon handshake is transmitted.
	// Single transmissions get missed by the firmware. Default 3.
	LogonRepeats int
}

func (o *SessionOptions) fill() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.PacketDelay <= 0 {
		o.PacketDelay = 100 * time.Millisecond
	}
	if o.LogonRepeats <= 0 {
		o.LogonRepeats = 3
	}
}

// Dialer creates connection sessions and enforces that at most one
// session per address is connecting or connected at a time. A second
// Connect to a busy address is rejected without touching the radio.
type Dialer struct {
	radio ble.Adapter
	opts  SessionOptions

	mu     sync.Mutex
	active map[string]*Session
}

// NewDialer creates a dialer over the given radio.
func NewDialer(radio ble.Adapter, opts SessionOptions) *Dialer {
	opts.fill()
	return &Dialer{
		radio:  radio,
		opts:   opts,
		active: make(map[string]*Session),
	}
}

// Connect pairs with the droid at addr: GATT connect, command
// characteristic discovery, then the logon handshake. On success the
// returned session is Ready and plays the connection chirp. Every failure
// leaves the session Disconnected and the address free for another try.
func (d *Dialer) Connect(ctx context.Context, addr string) (*Session, error) {
	addr = strings.ToUpper(addr)

	s := &Session{
		dialer: d,
		addr:   addr,
		opts:   d.opts,
		state:  StateConnecting,
	}
	d.mu.Lock()
	if _, busy := d.active[addr]; busy {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s already has an active session", ErrConnect, addr)
	}
	d.active[addr] = s
	d.mu.Unlock()

	if err := d.radio.Enable(); err != nil {
		s.fail()
		return nil, fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}

	conn, err := d.radio.Connect(ctx, addr)
	if err != nil {
		s.fail()
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	s.setConnected(conn)
	conn.OnDisconnect(func() { s.linkLost() })

	cmd, err := conn.DiscoverCharacteristic(ble.DroidServiceUUID, ble.CommandCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		s.fail()
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	// Logon handshake; the firmware needs repetition to pick it up.
	for i := 0; i < d.opts.LogonRepeats; i++ {
		if err := writeAck(cmd, wire.LogonPacket, d.opts.WriteTimeout); err != nil {
			_ = conn.Disconnect()
			s.fail()
			return nil, fmt.Errorf("%w: logon: %v", ErrConnect, err)
		}
		if err := sleepCtx(ctx, d.opts.PacketDelay); err != nil {
			_ = conn.Disconnect()
			s.fail()
			return nil, fmt.Errorf("%w: %v", ErrConnect, err)
		}
	}

	if !s.setReady(cmd, Handle{ID: uuid.NewString(), Address: addr}) {
		_ = conn.Disconnect()
		s.fail()
		return nil, fmt.Errorf("%w: link lost during handshake", ErrConnect)
	}
	slog.Info("[DROID] connected", "address", addr, "handle", s.Handle().ID)

	// Acknowledgement chirp, matching the stock remote. Best-effort: a
	// droid with its volume potentiometer unplugged still connects fine.
	if err := s.Send(wire.ConnectChirp); err != nil {
		slog.Warn("[DROID] connection chirp failed", "address", addr, "error", err)
	}

	return s, nil
}

// release frees the address slot if s still owns it.
func (d *Dialer) release(s *Session) {
	d.mu.Lock()
	if d.active[s.addr] == s {
		delete(d.active, s.addr)
	}
	d.mu.Unlock()
}

// Session is one authenticated droid connection. It is created by a
// Dialer and transitions Disconnected → Connecting → Connected → Ready,
// with any state collapsing to Disconnected on link loss.
type Session struct {
	dialer *Dialer
	addr   string
	opts   SessionOptions

	mu     sync.Mutex
	state  State
	conn   ble.Connection
	cmd    ble.Characteristic
	handle Handle
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address reports the peer address this session was dialed for.
func (s *Session) Address() string { return s.addr }

// Handle returns the pairing handle; zero until the session is Ready.
func (s *Session) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Send validates the frame and writes its packets to the command
// characteristic. Only valid in Ready; anything else is rejected without
// radio contact. Each write awaits acknowledgement within the configured
// timeout and is retried exactly once before ErrCommandTimeout surfaces.
func (s *Session) Send(frame wire.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotReady, state)
	}
	cmd := s.cmd
	s.mu.Unlock()

	pkts := frame.Packets()
	for i, pkt := range pkts {
		if err := writeAck(cmd, pkt, s.opts.WriteTimeout); err != nil {
			return err
		}
		if i < len(pkts)-1 {
			time.Sleep(s.opts.PacketDelay)
		}
	}
	slog.Debug("[DROID] command sent", "address", s.addr, "opcode", frame.Op)
	return nil
}

// Disconnect tears the link down and releases the handle. Always valid,
// idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	wasConnected := s.state != StateDisconnected
	s.state = StateDisconnected
	s.conn = nil
	s.cmd = nil
	s.handle = Handle{}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
	s.dialer.release(s)
	if wasConnected {
		slog.Info("[DROID] disconnected", "address", s.addr)
	}
}

func (s *Session) setConnected(conn ble.Connection) {
	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()
}

// setReady guards the Connected to Ready transition. A link loss during
// the handshake collapses the state to Disconnected first, and a dead
// session must never surface as Ready.
func (s *Session) setReady(cmd ble.Characteristic, h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return false
	}
	s.cmd = cmd
	s.handle = h
	s.state = StateReady
	return true
}

// fail collapses a half-open session during Connect.
func (s *Session) fail() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.conn = nil
	s.cmd = nil
	s.mu.Unlock()
	s.dialer.release(s)
}

// linkLost handles an unsolicited drop from the radio stack.
func (s *Session) linkLost() {
	s.mu.Lock()
	wasConnected := s.state != StateDisconnected
	s.state = StateDisconnected
	s.conn = nil
	s.cmd = nil
	s.handle = Handle{}
	s.mu.Unlock()
	s.dialer.release(s)
	if wasConnected {
		slog.Warn("[DROID] link lost", "address", s.addr)
	}
}

// writeAck performs one acknowledged write with a bounded wait, retrying
// exactly once. It never retries indefinitely: a dead link should surface
// as an error, not as silence.
func writeAck(cmd ble.Characteristic, pkt []byte, timeout time.Duration) error {
	var lastErr error
	timedOut := false
	for attempt := 0; attempt < 2; attempt++ {
		errCh := make(chan error, 1)
		go func() { errCh <- cmd.Write(pkt) }()
		select {
		case err := <-errCh:
			if err == nil {
				return nil
			}
			lastErr, timedOut = err, false
		case <-time.After(timeout):
			lastErr, timedOut = errors.New("no acknowledgement"), true
		}
		if attempt == 0 {
			slog.Warn("[DROID] command write failed, retrying", "error", lastErr)
		}
	}
	if timedOut {
		return fmt.Errorf("%w: %v", ErrCommandTimeout, lastErr)
	}
	return fmt.Errorf("droid: command write: %w", lastErr)
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
