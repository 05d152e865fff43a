// Package ble abstracts the platform radio for the droid protocol engine:
// continuous discovery with raw manufacturer data, local advertising with
// a caller-supplied payload, GATT connect/discover/write, and the optional
// device-info enrichment boundary. The interfaces exist so sessions can
// be driven by a fake radio in tests.
package ble

import "context"

// Droid GATT identifiers (community documented). A connected device that
// lacks this service is not a compatible droid.
const (
	DroidServiceUUID = "09b600a0-3e42-41fc-b474-e9c0c8f0c801"
	CommandCharUUID  = "09b600b1-3e42-41fc-b474-e9c0c8f0c801"
	NotifyCharUUID   = "09b600b0-3e42-41fc-b474-e9c0c8f0c801"
)

// ScanEvent is one raw advertisement sighting delivered by the radio.
// ManufacturerData is the full block including the two company-identifier
// bytes, since the droid codec keys on them as its magic marker.
type ScanEvent struct {
	Address          string
	LocalName        string
	RSSI             int
	ManufacturerData []byte
}

// DeviceInfo is a best-effort enrichment record for a known address.
type DeviceInfo struct {
	Address string
	Name    string
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic; a nil return is the write
	// acknowledgement.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan streams raw advertisement events to fn until ctx is cancelled.
	// It blocks for the duration of the scan.
	Scan(ctx context.Context, fn func(ScanEvent)) error
	// Advertise replaces the local advertisement with the given raw
	// manufacturer-data block and keeps broadcasting it.
	Advertise(payload []byte) error
	// StopAdvertise halts the local advertisement. No-op when idle.
	StopAdvertise() error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, addr string) (Connection, error)
}

// DeviceInfoProvider is the optional enrichment boundary: a system-level
// device-info query used to recover a friendly name when the radio event
// lacks one. Failures are expected and must never suppress a sighting.
type DeviceInfoProvider interface {
	DeviceInfo(ctx context.Context, addr string) (DeviceInfo, error)
}
