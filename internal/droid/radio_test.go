package droid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeodc/droidlink/internal/ble"
)

// fakeRadio scripts the platform BLE stack for session tests: injectable
// scan events, timestamped advertisement capture, and per-dial fake
// connections.
type fakeRadio struct {
	mu sync.Mutex

	enableErr           error
	connectErr          error
	missingService      bool
	dropDuringDiscovery bool

	scanEvents chan ble.ScanEvent

	adverts    []advertRecord
	advertStop int

	dials int
	conns []*fakeConn
}

type advertRecord struct {
	payload []byte
	at      time.Time
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{scanEvents: make(chan ble.ScanEvent, 64)}
}

func (r *fakeRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enableErr
}

func (r *fakeRadio) Scan(ctx context.Context, fn func(ble.ScanEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.scanEvents:
			fn(ev)
		}
	}
}

func (r *fakeRadio) inject(ev ble.ScanEvent) {
	r.scanEvents <- ev
}

func (r *fakeRadio) Advertise(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.adverts = append(r.adverts, advertRecord{payload: cp, at: time.Now()})
	return nil
}

func (r *fakeRadio) StopAdvertise() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertStop++
	return nil
}

func (r *fakeRadio) advertised() []advertRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]advertRecord(nil), r.adverts...)
}

func (r *fakeRadio) Connect(_ context.Context, addr string) (ble.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	conn := newFakeConn()
	conn.missingService = r.missingService
	conn.dropDuringDiscovery = r.dropDuringDiscovery
	r.conns = append(r.conns, conn)
	return conn, nil
}

func (r *fakeRadio) dialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

func (r *fakeRadio) lastConn() *fakeConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

// fakeConn exposes the droid service unless missingService is set.
// dropDuringDiscovery fires the disconnect callback mid-discovery,
// simulating a link that dies while the handshake is still running.
type fakeConn struct {
	mu                  sync.Mutex
	cmdChar             *fakeChar
	missingService      bool
	dropDuringDiscovery bool
	disconnected        bool
	disconnectCb        func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{cmdChar: &fakeChar{}}
}

func (c *fakeConn) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	missing := c.missingService
	drop := c.dropDuringDiscovery
	cb := c.disconnectCb
	char := c.cmdChar
	c.mu.Unlock()

	if drop && cb != nil {
		cb()
	}
	if missing || serviceUUID != ble.DroidServiceUUID {
		return nil, errors.New("fake: service not found")
	}
	if charUUID != ble.CommandCharUUID {
		return nil, fmt.Errorf("fake: characteristic %s not found", charUUID)
	}
	return char, nil
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *fakeConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *fakeConn) dropLink() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// fakeChar records writes; writeErrs scripts per-write failures and
// blockWrites makes every write hang past any timeout.
type fakeChar struct {
	mu          sync.Mutex
	writes      [][]byte
	writeErrs   []error
	blockWrites bool
}

func (c *fakeChar) Write(data []byte) error {
	c.mu.Lock()
	if c.blockWrites {
		c.mu.Unlock()
		select {} // hang forever; the session's timeout must fire
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	var err error
	if len(c.writeErrs) > 0 {
		err = c.writeErrs[0]
		c.writeErrs = c.writeErrs[1:]
	}
	c.mu.Unlock()
	return err
}

func (c *fakeChar) Subscribe(func([]byte)) error { return nil }

func (c *fakeChar) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// fakeInfoProvider scripts the enrichment boundary. A non-nil block
// channel makes every lookup hang until the channel closes, simulating
// a slow system query.
type fakeInfoProvider struct {
	mu    sync.Mutex
	names map[string]string
	err   error
	calls int
	block chan struct{}
}

func (p *fakeInfoProvider) DeviceInfo(ctx context.Context, addr string) (ble.DeviceInfo, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	err := p.err
	name, ok := p.names[addr]
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ble.DeviceInfo{}, ctx.Err()
		}
	}
	if err != nil {
		return ble.DeviceInfo{}, err
	}
	if !ok {
		return ble.DeviceInfo{}, errors.New("fake: unknown device")
	}
	return ble.DeviceInfo{Address: addr, Name: name}, nil
}

func (p *fakeInfoProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var (
	_ ble.Adapter            = (*fakeRadio)(nil)
	_ ble.DeviceInfoProvider = (*fakeInfoProvider)(nil)
)
