package wire

import (
	"fmt"
	"math"
)

// Opcode selects the command family of a Frame.
type Opcode int

const (
	OpAudio Opcode = iota + 1
	OpScript
	OpDrive
	OpHead
	OpBallDrive
	OpBallTurn
	OpAccessory
	OpStopAll
)

func (o Opcode) String() string {
	switch o {
	case OpAudio:
		return "audio"
	case OpScript:
		return "script"
	case OpDrive:
		return "drive"
	case OpHead:
		return "head"
	case OpBallDrive:
		return "ball_drive"
	case OpBallTurn:
		return "ball_turn"
	case OpAccessory:
		return "accessory"
	case OpStopAll:
		return "stop_all"
	default:
		return fmt.Sprintf("opcode(%d)", int(o))
	}
}

// Droid command characteristic packet structure:
//
//	byte 1: 0x1F + total packet length
//	byte 2: 0x42 when the command ID is 0x0F, else 0x00
//	byte 3: command ID
//	byte 4: 0x40 + payload length
//	rest:   payload, max 31 bytes
//
// The builders below emit pre-assembled packets captured from the stock
// remote rather than deriving each header, because several firmware
// revisions are picky about the exact byte values.
var (
	// LogonPacket is the handshake the droid expects right after a GATT
	// connection. The firmware misses single transmissions, so sessions
	// repeat it a few times.
	LogonPacket = []byte{0x22, 0x20, 0x01}

	audioBase = []byte{0x27, 0x42, 0x0F, 0x44, 0x44, 0x00}

	// ballBase prefixes the positional controller commands BB-series
	// droids use for heading drive, turn-in-place and smooth dome
	// rotation.
	ballBase = []byte{0x2B, 0x42, 0x0F, 0x48, 0x44}

	// accessoryPacket triggers attached accessory hardware (blaster,
	// thruster). Droids without an accessory ignore it.
	accessoryPacket = []byte{0x27, 0x42, 0x0F, 0x44, 0x44, 0x00, 0x10, 0x08}
)

const (
	audioGroupSelect = 0x1F
	audioClipPlay    = 0x18

	// MaxAudioGroup is the highest audio group cataloged on stock chips.
	MaxAudioGroup = 11

	// MaxScript is the highest stored motion script ID droids accept.
	MaxScript = 0x0F

	// Motor IDs for OpDrive.
	MotorLeft  = 0
	MotorRight = 1
	MotorDome  = 2

	driveReverse = 0x80

	// Motor speed bytes ramp from this floor; below it the motor stalls.
	driveSpeedFloor = 0x60

	// Speed magnitudes under this are treated as a stop request.
	driveDeadZone = 0.05
)

// ConnectChirp is the acknowledgement sound a droid plays once a session
// reaches Ready (generic group, clip 2), matching the stock remote.
var ConnectChirp = Frame{Op: OpAudio, Group: 0, Clip: 2}

// Frame is one droid command prior to encoding. Only the fields for its
// opcode are read. Frames are validated before any radio contact; the
// droid firmware itself accepts almost anything, so validation is the
// last line of defense against garbage on the command characteristic.
type Frame struct {
	Op Opcode

	// OpAudio: audio group to select and clip within it to play.
	Group byte
	Clip  byte

	// OpScript: stored motion script, 1..MaxScript.
	Script byte

	// OpDrive: motor ID and signed speed in [-1, 1]. Magnitudes inside
	// the dead zone stop the motor. OpHead reads Speed only; positive
	// turns the dome right, negative left.
	Motor byte
	Speed float64

	// OpBallDrive, OpBallTurn: raw direction and throttle bytes for the
	// positional controller. The firmware takes the full byte range.
	Heading  byte
	Throttle byte
}

// Validate rejects frames the packet builders cannot encode sensibly.
func (f Frame) Validate() error {
	switch f.Op {
	case OpAudio:
		if f.Group > MaxAudioGroup {
			return fmt.Errorf("wire: audio group %d out of range 0-%d", f.Group, MaxAudioGroup)
		}
	case OpScript:
		if f.Script == 0 || f.Script > MaxScript {
			return fmt.Errorf("wire: script %d out of range 1-%d", f.Script, MaxScript)
		}
	case OpDrive:
		if f.Motor > MotorDome {
			return fmt.Errorf("wire: motor %d out of range 0-%d", f.Motor, MotorDome)
		}
		if math.Abs(f.Speed) > 1 {
			return fmt.Errorf("wire: speed %.2f out of range [-1, 1]", f.Speed)
		}
	case OpHead:
		if math.Abs(f.Speed) > 1 {
			return fmt.Errorf("wire: head speed %.2f out of range [-1, 1]", f.Speed)
		}
	case OpBallDrive, OpBallTurn, OpAccessory, OpStopAll:
		// Heading and throttle are raw firmware bytes; every value is
		// encodable, and the remaining opcodes carry no fields.
	default:
		return fmt.Errorf("wire: unknown opcode %d", int(f.Op))
	}
	return nil
}

// Packets returns the GATT write sequence for the frame, in order. Multi-
// packet frames need a short delay between writes or the droid drops the
// second packet; the connection session owns that pacing. Call Validate
// first, Packets assumes in-range fields.
func (f Frame) Packets() [][]byte {
	switch f.Op {
	case OpAudio:
		// Select the group, then trigger the clip.
		sel := append(append([]byte(nil), audioBase...), audioGroupSelect, f.Group)
		play := append(append([]byte(nil), audioBase...), audioClipPlay, f.Clip)
		return [][]byte{sel, play}
	case OpScript:
		return [][]byte{{0x25, 0x00, 0x0C, 0x42, f.Script, 0x02}}
	case OpDrive:
		return [][]byte{drivePacket(f.Motor, f.Speed)}
	case OpHead:
		return [][]byte{headPacket(f.Speed)}
	case OpBallDrive:
		pkt := append(append([]byte(nil), ballBase...), 0x05, f.Heading, f.Throttle, 0x01, 0x90, 0x00, 0x00)
		return [][]byte{pkt}
	case OpBallTurn:
		pkt := append(append([]byte(nil), ballBase...), 0x04, f.Heading, f.Throttle, 0x00, 0x05, 0x00, 0x00)
		return [][]byte{pkt}
	case OpAccessory:
		return [][]byte{append([]byte(nil), accessoryPacket...)}
	case OpStopAll:
		// One stop per motor, the same sweep the stock remote performs.
		return [][]byte{
			stopPacket(MotorLeft),
			stopPacket(MotorRight),
			stopPacket(MotorDome),
		}
	default:
		return nil
	}
}

// drivePacket builds the direct motor command
// 27 00 05 44 <dir|motor> <speed> <ramp hi> <ramp lo>.
func drivePacket(motor byte, speed float64) []byte {
	mag := math.Abs(speed)
	if mag < driveDeadZone {
		return stopPacket(motor)
	}
	dm := motor
	if speed < 0 {
		dm |= driveReverse
	}
	sp := byte(driveSpeedFloor + int(mag*float64(0xFF-driveSpeedFloor)))
	// Ramp 0x012C keeps acceleration gentle enough for the dome motor.
	return []byte{0x27, 0x00, 0x05, 0x44, dm, sp, 0x01, 0x2C}
}

// stopPacket zeroes speed and ramp for one motor.
func stopPacket(motor byte) []byte {
	return []byte{0x27, 0x00, 0x05, 0x44, motor, 0x00, 0x00, 0x00}
}

// headPacket builds the smooth dome rotation command
// 2B 42 0F 48 44 02 <dir> <speed> 00 64 00 01, which R-series firmware
// ramps far more cleanly than a direct dome motor drive. Direction 0x00
// is right, 0xFF left; dead-zone speeds stop the dome.
func headPacket(speed float64) []byte {
	mag := math.Abs(speed)
	if mag < driveDeadZone {
		return stopPacket(MotorDome)
	}
	dir := byte(0x00)
	if speed < 0 {
		dir = 0xFF
	}
	return append(append([]byte(nil), ballBase...), 0x02, dir, byte(mag*0xFF), 0x00, 0x64, 0x00, 0x01)
}
