package droid

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeodc/droidlink/internal/ble"
	"github.com/jeodc/droidlink/internal/droid/wire"
)

// MinBeaconInterval is the documented firmware cooldown: a droid will not
// react twice to a beacon of the same kind from the same advertiser
// inside this window, so re-advertising faster only wastes airtime.
const MinBeaconInterval = 60 * time.Second

// BeaconOptions configures a beacon session.
type BeaconOptions struct {
	// MinInterval is the enforced interval floor. Default
	// MinBeaconInterval; tests shrink it.
	MinInterval time.Duration
}

// Beacon owns the local advertising slot and periodically re-issues a
// codec-encoded payload. One spec drives one advertising run.
//
// The interval floor paces the ticks of a running session; it is not a
// cross-run rate limiter. Droid firmware keys its reaction cooldown on
// the kind marker, so switching kinds between runs makes droids react
// again immediately, and a deliberate stop-and-restart with the same
// kind also advertises at once (the firmware-side cooldown still
// governs whether droids react). Both bypasses are observed firmware
// behavior the engine deliberately leaves reachable; provisional
// knowledge, not a guaranteed contract.
type Beacon struct {
	radio ble.Adapter
	opts  BeaconOptions

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	active  wire.Spec
	seq     byte
}

// NewBeacon creates a beacon session over the given radio.
func NewBeacon(radio ble.Adapter, opts BeaconOptions) *Beacon {
	if opts.MinInterval <= 0 {
		opts.MinInterval = MinBeaconInterval
	}
	return &Beacon{radio: radio, opts: opts}
}

// Start begins advertising spec, re-issuing it every interval. Intervals
// under the floor are rejected rather than silently stretched. The first
// advertisement goes out before Start returns; cancelling ctx stops the
// run like Stop does.
func (b *Beacon) Start(ctx context.Context, spec wire.Spec, interval time.Duration) error {
	if interval < b.opts.MinInterval {
		return fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, interval, b.opts.MinInterval)
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyAdvertising
	}
	if err := b.radio.Enable(); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.active = spec
	b.seq = 1
	b.mu.Unlock()

	if err := b.radio.Advertise(spec.Encode(1)); err != nil {
		b.teardown()
		return fmt.Errorf("droid: start beacon: %w", err)
	}
	slog.Info("[BEACON] advertising", "kind", spec.Kind(), "interval", interval)

	go b.loop(runCtx, spec, interval)
	return nil
}

// loop re-issues the advertisement each tick. Location payloads carry a
// sequence byte so receiving droids can tell repeated beacons from one
// stale broadcast; droid payloads have no sequence slot and repeat
// verbatim.
func (b *Beacon) loop(ctx context.Context, spec wire.Spec, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.teardown()
			return
		case <-ticker.C:
			b.mu.Lock()
			b.seq++
			seq := b.seq
			b.mu.Unlock()
			if err := b.radio.Advertise(spec.Encode(seq)); err != nil {
				slog.Warn("[BEACON] re-advertisement failed", "kind", spec.Kind(), "error", err)
			}
		}
	}
}

// Stop halts advertising immediately. It is a no-op when idle.
func (b *Beacon) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.teardown()
}

func (b *Beacon) teardown() {
	b.mu.Lock()
	wasRunning := b.running
	b.running = false
	b.active = nil
	b.mu.Unlock()
	if wasRunning {
		if err := b.radio.StopAdvertise(); err != nil {
			slog.Warn("[BEACON] stop advertisement failed", "error", err)
		}
		slog.Info("[BEACON] stopped")
	}
}

// Active reports the spec currently on air, if any.
func (b *Beacon) Active() (wire.Spec, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active, b.running
}
