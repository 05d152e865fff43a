// Package wire implements the manufacturer-data and GATT command byte
// layouts spoken by Galaxy's Edge droids. The layout is reverse-documented
// community knowledge, not a vendor spec; the constants here match what
// real droid firmware emits and accepts on air, so they must not be
// adjusted without a capture to back it up.
package wire

import "encoding/binary"

// CompanyID is the BLE manufacturer identifier droids advertise under.
// On air it is little-endian, which puts the 0x83 0x0A marker at the
// front of the raw manufacturer-data block.
const CompanyID uint16 = 0x0A83

// Byte offsets within a droid advertisement block.
const (
	offFaction     = 2
	offPersonality = 3
	offAffiliation = 4
	offFlags       = 5

	droidBlockLen = 6
)

// Location beacon layout. The discriminator value occupies the faction
// slot and is never assigned as a faction code.
const (
	locationMarker = 0x0A

	offLocationID = 3
	offInterval   = 4
	offRSSIGate   = 5
	offSequence   = 6

	locationBlockLen = 7
)

// Status flag bits at offFlags. A stock droid paired to its remote with a
// personality chip inserted broadcasts 0x44.
const (
	FlagPaired      byte = 0x04
	FlagChipPresent byte = 0x40
)

// DefaultRSSIGate is the signal floor a location beacon asks droids to
// apply before reacting. 0xA6 is the mid-range gate the park uses.
const DefaultRSSIGate byte = 0xA6

// Affiliation bytes above this threshold follow the paired-droid
// convention 0x80 + 2*code; below it the byte is the code itself.
const affiliationBias = 0x80

// Advertisement is one decoded droid sighting. The protocol fields come
// from Decode; Address, Name and RSSI are filled in by the scan session
// from the surrounding radio event. Instances are never mutated; a later
// sighting of the same address supersedes the earlier one.
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Faction     byte
	Personality byte
	Affiliation byte
	Paired      bool
	ChipPresent bool
	Raw         []byte
}

// Decode parses a raw manufacturer-data block (company identifier
// included) into a droid advertisement. It reports ok=false for anything
// that is not a droid: missing marker, truncated block, or a location
// beacon. Scanning runs over noisy radio data, so rejection is silent
// and Decode never returns an error. Codes without a catalog entry still
// decode; naming them is the catalog's problem.
func Decode(raw []byte) (Advertisement, bool) {
	if len(raw) < droidBlockLen {
		return Advertisement{}, false
	}
	if binary.LittleEndian.Uint16(raw[:2]) != CompanyID {
		return Advertisement{}, false
	}
	if raw[offFaction] == locationMarker {
		// Location beacons share the marker but do not describe a droid.
		return Advertisement{}, false
	}
	adv := Advertisement{
		Faction:     raw[offFaction],
		Personality: raw[offPersonality],
		Affiliation: affiliationCode(raw[offAffiliation]),
		Paired:      raw[offFlags]&FlagPaired != 0,
		ChipPresent: raw[offFlags]&FlagChipPresent != 0,
		Raw:         append([]byte(nil), raw...),
	}
	return adv, true
}

// affiliationCode undoes the 0x80 + 2*code convention used by paired
// droids. Unpaired droids (and some early firmware) put the bare code on
// the wire.
func affiliationCode(b byte) byte {
	if b >= affiliationBias {
		return (b - affiliationBias) / 2
	}
	return b
}

// affiliationByte is the encode-side counterpart of affiliationCode.
func affiliationByte(code byte) byte {
	return affiliationBias + 2*code
}

// Kind discriminates beacon variants. Droid firmware applies its
// same-type reaction cooldown per kind, so the beacon session keys its
// bookkeeping on this.
type Kind int

const (
	KindDroid Kind = iota + 1
	KindLocation
)

func (k Kind) String() string {
	switch k {
	case KindDroid:
		return "droid"
	case KindLocation:
		return "location"
	default:
		return "unknown"
	}
}

// Spec is one beacon payload variant. Exactly two implementations exist:
// DroidBeacon and LocationBeacon. Encoding is total: every value has
// exactly one fixed-length encoding, in-catalog or not, because the
// firmware does not validate codes either.
type Spec interface {
	// Encode produces the raw manufacturer-data block for one
	// advertisement tick. seq is the session's re-advertisement counter;
	// only layouts with a sequence slot carry it.
	Encode(seq byte) []byte
	// Kind reports which firmware cooldown bucket the beacon falls in.
	Kind() Kind
}

// DroidBeacon impersonates the presence of another droid. Receiving
// droids react as if a stranger walked by: chirps keyed by faction
// relations. The encoding mimics a paired droid with a chip inserted,
// which is what a real droid broadcasts while switched on.
type DroidBeacon struct {
	Faction     byte
	Personality byte
	Affiliation byte
}

func (b DroidBeacon) Encode(_ byte) []byte {
	raw := make([]byte, droidBlockLen)
	binary.LittleEndian.PutUint16(raw[:2], CompanyID)
	raw[offFaction] = b.Faction
	raw[offPersonality] = b.Personality
	raw[offAffiliation] = affiliationByte(b.Affiliation)
	raw[offFlags] = FlagPaired | FlagChipPresent
	return raw
}

func (b DroidBeacon) Kind() Kind { return KindDroid }

// LocationBeacon marks a park location. Droids within the RSSI gate play
// the audio group for the location and then hold off for the firmware
// cooldown before reacting to the same beacon kind again.
type LocationBeacon struct {
	LocationID byte
	// Interval is the reaction-interval byte the beacon requests,
	// in units of 5 seconds. 0xFF is the observed cooldown override.
	Interval byte
	// RSSIGate limits how close a droid must be to react.
	// Zero means DefaultRSSIGate.
	RSSIGate byte
}

func (b LocationBeacon) Encode(seq byte) []byte {
	gate := b.RSSIGate
	if gate == 0 {
		gate = DefaultRSSIGate
	}
	raw := make([]byte, locationBlockLen)
	binary.LittleEndian.PutUint16(raw[:2], CompanyID)
	raw[offFaction] = locationMarker
	raw[offLocationID] = b.LocationID
	raw[offInterval] = b.Interval
	raw[offRSSIGate] = gate
	raw[offSequence] = seq
	return raw
}

func (b LocationBeacon) Kind() Kind { return KindLocation }
