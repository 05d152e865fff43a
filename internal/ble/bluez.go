package ble

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BlueZAdapter wraps tinygo-org/bluetooth over the BlueZ stack. Device
// addresses are MAC strings as reported by the controller.
type BlueZAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects connections and the advertising flag.
	mu          sync.Mutex
	connections map[string]*bluezConnection // keyed by MAC
	advertising bool
}

// NewBlueZAdapter creates a BLE adapter backed by the default controller.
func NewBlueZAdapter() *BlueZAdapter {
	return &BlueZAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*bluezConnection),
	}
}

func (a *BlueZAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// Adapter-level connect handler; fires with connected=false when a
	// peripheral drops, which is how per-connection OnDisconnect
	// callbacks get dispatched.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		a.mu.Unlock()
		if ok && conn.disconnectCb != nil {
			conn.disconnectCb()
		}
	})

	return nil
}

func (a *BlueZAdapter) Scan(ctx context.Context, fn func(ScanEvent)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		ev := ScanEvent{
			Address:   result.Address.String(),
			LocalName: result.LocalName(),
			RSSI:      int(result.RSSI),
		}
		// Reassemble the raw block the codec expects: company identifier
		// in little-endian followed by the vendor payload. Multiple
		// elements per advertisement are rare; the first one wins.
		if elements := result.ManufacturerData(); len(elements) > 0 {
			md := elements[0]
			raw := make([]byte, 2+len(md.Data))
			binary.LittleEndian.PutUint16(raw[:2], md.CompanyID)
			copy(raw[2:], md.Data)
			ev.ManufacturerData = raw
		}
		fn(ev)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *BlueZAdapter) Advertise(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("ble: advertisement payload too short: %d bytes", len(payload))
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	adv := a.adapter.DefaultAdvertisement()
	// BlueZ rejects reconfiguration of a live advertisement, so each
	// payload update cycles it off first.
	if a.advertising {
		if err := adv.Stop(); err != nil {
			return fmt.Errorf("ble: stop advertisement for update: %w", err)
		}
		a.advertising = false
	}

	opts := bluetooth.AdvertisementOptions{
		ManufacturerData: []bluetooth.ManufacturerDataElement{{
			CompanyID: binary.LittleEndian.Uint16(payload[:2]),
			Data:      append([]byte(nil), payload[2:]...),
		}},
	}
	if err := adv.Configure(opts); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertisement: %w", err)
	}
	a.advertising = true
	return nil
}

func (a *BlueZAdapter) StopAdvertise() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.advertising {
		return nil
	}
	if err := a.adapter.DefaultAdvertisement().Stop(); err != nil {
		return fmt.Errorf("ble: stop advertisement: %w", err)
	}
	a.advertising = false
	return nil
}

func (a *BlueZAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(mac)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed on
		// its own; we can't cancel it from here, only stop waiting.
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", mac, result.err)
		}
		conn := &bluezConnection{device: &result.device}

		// Track this connection so the adapter-level disconnect handler
		// can find it and fire its OnDisconnect callback.
		a.mu.Lock()
		a.connections[mac] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that BlueZAdapter implements Adapter.
var _ Adapter = (*BlueZAdapter)(nil)

type bluezConnection struct {
	device       *bluetooth.Device
	disconnectCb func()
}

func (c *bluezConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &bluezCharacteristic{char: &chars[0]}, nil
}

func (c *bluezConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *bluezConnection) OnDisconnect(cb func()) {
	c.disconnectCb = cb
}

type bluezCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *bluezCharacteristic) Write(data []byte) error {
	// The droid command characteristic is write-without-response; the
	// return from the stack is the closest thing to an acknowledgement.
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluezCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
