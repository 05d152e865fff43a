// Package droid implements the protocol sessions of the engine: passive
// scanning for droid advertisements, beacon advertising, and the
// authenticated command connection. All radio contact goes through the
// ble package interfaces so every session runs against a fake radio in
// tests.
package droid

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeodc/droidlink/internal/ble"
	"github.com/jeodc/droidlink/internal/droid/wire"
)

// DroidLocalName is the advertised device name every droid broadcasts.
// Sightings with any other name are dropped before decoding.
const DroidLocalName = "DROID"

// ScannerOptions configures a scan session.
type ScannerOptions struct {
	// NameFilter is the exact local name to accept. Default DroidLocalName.
	NameFilter string
	// Enrich, when set, backfills friendly names via a system device-info
	// query. Strictly best-effort.
	Enrich ble.DeviceInfoProvider
	// EnrichTimeout bounds each enrichment query. Default 2s.
	EnrichTimeout time.Duration
	// Buffer is the event channel depth. Default 32. When the consumer
	// falls behind, newer sightings are dropped; the cache still holds
	// the latest per address.
	Buffer int
}

// Scanner drives continuous droid discovery: it filters raw radio events
// by name and magic marker, decodes them, deduplicates by address with
// last-write-wins semantics, and surfaces sightings on a channel until
// stopped. Start and Stop are idempotent and the scanner is restartable.
type Scanner struct {
	radio ble.Adapter
	opts  ScannerOptions

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	events  chan wire.Advertisement
	cache   map[string]wire.Advertisement
}

// NewScanner creates a scan session over the given radio.
func NewScanner(radio ble.Adapter, opts ScannerOptions) *Scanner {
	if opts.NameFilter == "" {
		opts.NameFilter = DroidLocalName
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 2 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 32
	}
	return &Scanner{
		radio: radio,
		opts:  opts,
		cache: make(map[string]wire.Advertisement),
	}
}

// Start begins continuous discovery. It is a no-op when already scanning.
// Cancelling ctx stops the session the same way Stop does.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if err := s.radio.Enable(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan wire.Advertisement, s.opts.Buffer)
	s.running = true
	s.cancel = cancel
	s.events = events
	s.mu.Unlock()

	go func() {
		defer close(events)
		if err := s.radio.Scan(runCtx, func(ev ble.ScanEvent) {
			s.handle(runCtx, events, ev)
		}); err != nil {
			slog.Warn("[SCAN] discovery ended", "error", err)
		}
		s.mu.Lock()
		if s.events == events {
			s.running = false
		}
		s.mu.Unlock()
	}()

	slog.Info("[SCAN] started", "filter", s.opts.NameFilter)
	return nil
}

// Stop halts discovery. It is a no-op when idle.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		slog.Info("[SCAN] stopped")
	}
}

// Events returns the sighting stream for the current run. The channel is
// closed when the session stops; a restart allocates a fresh one.
func (s *Scanner) Events() <-chan wire.Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Snapshot returns the deduplicated sightings seen so far, one per
// address, most recent first by address order.
func (s *Scanner) Snapshot() []wire.Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Advertisement, 0, len(s.cache))
	for _, adv := range s.cache {
		out = append(out, adv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// handle filters, decodes, deduplicates and publishes one radio event.
// Everything that fails the droid signature is dropped silently; radio
// noise is not an error.
func (s *Scanner) handle(ctx context.Context, events chan<- wire.Advertisement, ev ble.ScanEvent) {
	if ctx.Err() != nil {
		return
	}
	if ev.LocalName != s.opts.NameFilter {
		return
	}
	adv, ok := wire.Decode(ev.ManufacturerData)
	if !ok {
		return
	}
	adv.Address = strings.ToUpper(ev.Address)
	adv.Name = ev.LocalName
	adv.RSSI = ev.RSSI

	s.mu.Lock()
	prev, seen := s.cache[adv.Address]
	if seen && prev.Name != s.opts.NameFilter {
		// Keep an earlier enriched name on later sightings.
		adv.Name = prev.Name
	}
	s.cache[adv.Address] = adv
	s.mu.Unlock()

	if !seen && s.opts.Enrich != nil {
		// First sighting of this address: one enrichment attempt, off
		// the radio callback so a slow system query never stalls other
		// droids' sightings. A failure never suppresses the
		// already-published advertisement.
		go s.enrich(ctx, adv.Address)
	}

	select {
	case events <- adv:
	default:
		slog.Debug("[SCAN] consumer behind, sighting dropped", "address", adv.Address)
	}
}

// enrich backfills a friendly name into the cache once the lookup lands.
func (s *Scanner) enrich(ctx context.Context, addr string) {
	name := s.lookupName(ctx, addr)
	if name == "" {
		return
	}
	s.mu.Lock()
	if adv, ok := s.cache[addr]; ok {
		adv.Name = name
		s.cache[addr] = adv
	}
	s.mu.Unlock()
}

func (s *Scanner) lookupName(ctx context.Context, addr string) string {
	if s.opts.Enrich == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.EnrichTimeout)
	defer cancel()
	info, err := s.opts.Enrich.DeviceInfo(ctx, addr)
	if err != nil {
		slog.Debug("[SCAN] enrichment failed", "address", addr, "error", err)
		return ""
	}
	return info.Name
}
