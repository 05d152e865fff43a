package droid

import "errors"

// Sentinel errors surfaced across the session boundary. Decode-time
// anomalies never appear here: a continuous scan absorbs bad packets
// locally instead of raising them.
var (
	// ErrRadioUnavailable means the platform BLE stack could not be
	// enabled at session start.
	ErrRadioUnavailable = errors.New("droid: radio unavailable")

	// ErrConnect covers pairing failures: timeout, rejection, or an
	// address that already has a session connecting or connected.
	ErrConnect = errors.New("droid: connect failed")

	// ErrProtocol means the connected device lacks the droid command
	// service or characteristic; it is not a compatible droid.
	ErrProtocol = errors.New("droid: not a compatible droid")

	// ErrCommandTimeout means a command write went unacknowledged after
	// the single retry.
	ErrCommandTimeout = errors.New("droid: command write unacknowledged")

	// ErrNotReady rejects Send on a session that has not completed
	// service discovery or has since disconnected.
	ErrNotReady = errors.New("droid: session not ready")

	// ErrIntervalTooShort rejects beacon intervals under the firmware
	// cooldown floor.
	ErrIntervalTooShort = errors.New("droid: beacon interval below cooldown floor")

	// ErrAlreadyAdvertising rejects a second beacon start while the
	// advertising slot is occupied.
	ErrAlreadyAdvertising = errors.New("droid: beacon already advertising")
)
