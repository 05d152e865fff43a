package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	callback func([]byte)
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

// mockConnection simulates a BLE connection exposing the droid service.
type mockConnection struct {
	mu           sync.Mutex
	cmdChar      *mockCharacteristic
	notifyChar   *mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		cmdChar:    &mockCharacteristic{},
		notifyChar: &mockCharacteristic{},
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if serviceUUID != DroidServiceUUID {
		return nil, fmt.Errorf("mock: unknown service UUID %q", serviceUUID)
	}
	switch charUUID {
	case CommandCharUUID:
		return c.cmdChar, nil
	case NotifyCharUUID:
		return c.notifyChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// mockAdapter simulates the radio: scripted scan events and a fresh
// connection per dial. Session-level behavior is exercised against the
// richer fakes in the droid package; this mock only pins the interface
// contract.
type mockAdapter struct {
	events []ScanEvent
}

func newMockAdapter(events []ScanEvent) *mockAdapter {
	return &mockAdapter{events: events}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(ctx context.Context, fn func(ScanEvent)) error {
	for _, ev := range a.events {
		if ctx.Err() != nil {
			return nil
		}
		fn(ev)
	}
	<-ctx.Done()
	return nil
}

func (a *mockAdapter) Advertise([]byte) error { return nil }

func (a *mockAdapter) StopAdvertise() error { return nil }

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	return newMockConnection(), nil
}

var (
	_ Adapter        = (*mockAdapter)(nil)
	_ Connection     = (*mockConnection)(nil)
	_ Characteristic = (*mockCharacteristic)(nil)
)

func TestMockAdapterReplaysScriptedEvents(t *testing.T) {
	events := []ScanEvent{
		{Address: "AA:AA:AA:AA:AA:01", LocalName: "DROID"},
		{Address: "AA:AA:AA:AA:AA:02", LocalName: "DROID"},
	}
	a := newMockAdapter(events)

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	go func() {
		// Scan blocks on ctx after the script drains.
		_ = a.Scan(ctx, func(ev ScanEvent) {
			seen = append(seen, ev.Address)
			if len(seen) == len(events) {
				cancel()
			}
		})
	}()
	<-ctx.Done()

	if len(seen) != 2 || seen[0] != "AA:AA:AA:AA:AA:01" || seen[1] != "AA:AA:AA:AA:AA:02" {
		t.Errorf("scan delivered %v, want scripted order", seen)
	}
}

func TestMockConnectionRoutesDroidCharacteristics(t *testing.T) {
	conn := newMockConnection()

	cmd, err := conn.DiscoverCharacteristic(DroidServiceUUID, CommandCharUUID)
	if err != nil {
		t.Fatalf("DiscoverCharacteristic(command) error = %v", err)
	}
	if err := cmd.Write([]byte{0x22, 0x20, 0x01}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := len(conn.cmdChar.writes); got != 1 {
		t.Errorf("command writes = %d, want 1", got)
	}

	if _, err := conn.DiscoverCharacteristic(DroidServiceUUID, "0000"); err == nil {
		t.Error("unknown characteristic UUID should fail discovery")
	}
	if _, err := conn.DiscoverCharacteristic("0000", CommandCharUUID); err == nil {
		t.Error("unknown service UUID should fail discovery")
	}
}
