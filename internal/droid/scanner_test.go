package droid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeodc/droidlink/internal/ble"
	"github.com/jeodc/droidlink/internal/droid/wire"
)

func droidEvent(addr string, payload ...byte) ble.ScanEvent {
	if payload == nil {
		payload = []byte{0x83, 0x0A, 0x01, 0x02, 0x01, 0x03}
	}
	return ble.ScanEvent{
		Address:          addr,
		LocalName:        "DROID",
		RSSI:             -60,
		ManufacturerData: payload,
	}
}

func recvAdvertisement(t *testing.T, ch <-chan wire.Advertisement) wire.Advertisement {
	t.Helper()
	select {
	case adv, ok := <-ch:
		require.True(t, ok, "event channel closed early")
		return adv
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for advertisement")
		return wire.Advertisement{}
	}
}

func TestScannerDecodesDroidSighting(t *testing.T) {
	radio := newFakeRadio()
	s := NewScanner(radio, ScannerOptions{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	radio.inject(droidEvent("da:b3:2c:6e:f0:11"))

	adv := recvAdvertisement(t, s.Events())
	assert.Equal(t, "DA:B3:2C:6E:F0:11", adv.Address)
	assert.Equal(t, byte(0x01), adv.Faction)
	assert.Equal(t, byte(0x02), adv.Personality)
	assert.Equal(t, byte(0x01), adv.Affiliation)
	assert.False(t, adv.Paired)
	assert.Equal(t, -60, adv.RSSI)
}

func TestScannerFiltersByLocalName(t *testing.T) {
	radio := newFakeRadio()
	s := NewScanner(radio, ScannerOptions{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// Same payload, wrong name: must never surface, regardless of
	// manufacturer data.
	bad := droidEvent("AA:AA:AA:AA:AA:01")
	bad.LocalName = "DROIDX"
	radio.inject(bad)
	radio.inject(droidEvent("AA:AA:AA:AA:AA:02"))

	adv := recvAdvertisement(t, s.Events())
	assert.Equal(t, "AA:AA:AA:AA:AA:02", adv.Address)
	assert.Empty(t, s.Snapshot()[1:], "filtered sighting must not be cached")
}

func TestScannerFiltersNonDroidPayloads(t *testing.T) {
	radio := newFakeRadio()
	s := NewScanner(radio, ScannerOptions{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	radio.inject(droidEvent("AA:AA:AA:AA:AA:01", 0x4C, 0x00, 0x02, 0x15, 0x00, 0x00))
	radio.inject(droidEvent("AA:AA:AA:AA:AA:02", 0x83, 0x0A, 0x01)) // truncated
	radio.inject(droidEvent("AA:AA:AA:AA:AA:03"))

	adv := recvAdvertisement(t, s.Events())
	assert.Equal(t, "AA:AA:AA:AA:AA:03", adv.Address)
}

func TestScannerDeduplicatesLastWriteWins(t *testing.T) {
	radio := newFakeRadio()
	s := NewScanner(radio, ScannerOptions{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	first := droidEvent("AA:AA:AA:AA:AA:01")
	second := droidEvent("AA:AA:AA:AA:AA:01", 0x83, 0x0A, 0x01, 0x02, 0x82, 0x44)
	second.RSSI = -40
	radio.inject(first)
	radio.inject(second)

	recvAdvertisement(t, s.Events())
	recvAdvertisement(t, s.Events())

	cached := s.Snapshot()
	require.Len(t, cached, 1, "same address must collapse to one entry")
	assert.Equal(t, -40, cached[0].RSSI)
	assert.True(t, cached[0].Paired, "cache must reflect the most recent sighting")
}

func TestScannerEnrichment(t *testing.T) {
	radio := newFakeRadio()
	info := &fakeInfoProvider{names: map[string]string{"AA:AA:AA:AA:AA:01": "Chopper"}}
	s := NewScanner(radio, ScannerOptions{Enrich: info})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// The first sighting publishes immediately; the lookup runs off the
	// delivery path and lands in the cache.
	radio.inject(droidEvent("AA:AA:AA:AA:AA:01"))
	adv := recvAdvertisement(t, s.Events())
	assert.Equal(t, "AA:AA:AA:AA:AA:01", adv.Address)
	assert.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && snap[0].Name == "Chopper"
	}, 2*time.Second, 10*time.Millisecond)

	// A later sighting carries the enriched name without re-querying.
	radio.inject(droidEvent("AA:AA:AA:AA:AA:01"))
	adv = recvAdvertisement(t, s.Events())
	assert.Equal(t, "Chopper", adv.Name)
	assert.Equal(t, 1, info.callCount())
}

func TestScannerSlowEnrichmentDoesNotStallDelivery(t *testing.T) {
	radio := newFakeRadio()
	release := make(chan struct{})
	defer close(release)
	info := &fakeInfoProvider{
		names: map[string]string{"AA:AA:AA:AA:AA:01": "Chopper"},
		block: release,
	}
	s := NewScanner(radio, ScannerOptions{Enrich: info})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// The first droid's lookup hangs; the second droid's sighting must
	// still come through promptly.
	radio.inject(droidEvent("AA:AA:AA:AA:AA:01"))
	radio.inject(droidEvent("BB:BB:BB:BB:BB:02"))

	adv := recvAdvertisement(t, s.Events())
	assert.Equal(t, "AA:AA:AA:AA:AA:01", adv.Address)
	adv = recvAdvertisement(t, s.Events())
	assert.Equal(t, "BB:BB:BB:BB:BB:02", adv.Address)
}

func TestScannerEnrichmentFailureKeepsSighting(t *testing.T) {
	radio := newFakeRadio()
	info := &fakeInfoProvider{err: errors.New("bluetoothctl not installed")}
	s := NewScanner(radio, ScannerOptions{Enrich: info})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	radio.inject(droidEvent("AA:AA:AA:AA:AA:01"))
	adv := recvAdvertisement(t, s.Events())
	assert.Equal(t, "AA:AA:AA:AA:AA:01", adv.Address)
	assert.Equal(t, "DROID", adv.Name, "enrichment failure must not suppress the sighting")
}

func TestScannerStartIdempotent(t *testing.T) {
	radio := newFakeRadio()
	s := NewScanner(radio, ScannerOptions{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	ch := s.Events()
	require.NoError(t, s.Start(context.Background()), "second Start must be a no-op")
	assert.Equal(t, (<-chan wire.Advertisement)(ch), s.Events(), "no-op Start must keep the stream")
}

func TestScannerRestartable(t *testing.T) {
	radio := newFakeRadio()
	s := NewScanner(radio, ScannerOptions{})

	require.NoError(t, s.Start(context.Background()))
	first := s.Events()
	s.Stop()
	s.Stop() // idempotent

	// The old stream drains and closes.
	select {
	case _, ok := <-first:
		assert.False(t, ok, "stopped stream must close")
	case <-time.After(2 * time.Second):
		t.Fatal("stopped stream did not close")
	}

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	radio.inject(droidEvent("AA:AA:AA:AA:AA:07"))
	adv := recvAdvertisement(t, s.Events())
	assert.Equal(t, "AA:AA:AA:AA:AA:07", adv.Address)
}

func TestScannerRadioUnavailable(t *testing.T) {
	radio := newFakeRadio()
	radio.enableErr = errors.New("hci0 down")
	s := NewScanner(radio, ScannerOptions{})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrRadioUnavailable)
}
