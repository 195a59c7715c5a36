// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"strconv"
)

// Payload is the discriminated parse result of a packet's raw bytes,
// keyed by (code, verb, context). A concrete payload type implements this
// marker interface; RawPayload is the fallback for unknown codes and
// EmptyPayload for known-empty ones.
type Payload interface {
	payloadMarker()
}

// RawPayload is the fallback for a code with no registered schema: the
// hex bytes pass through unparsed.
type RawPayload struct {
	Bytes []byte
}

func (RawPayload) payloadMarker() {}

// EmptyPayload marks a (code, verb) known to carry no meaningful payload.
type EmptyPayload struct{}

func (EmptyPayload) payloadMarker() {}

// ArrayPayload wraps a slice of per-element payloads sharing one code,
// produced when ctx is CtxArrayVariant.
type ArrayPayload struct {
	Elements []Payload
}

func (ArrayPayload) payloadMarker() {}

// ZoneTemperature is one element of a 30C9 zone-temperature array.
type ZoneTemperature struct {
	ZoneIdx string
	TempC   float64
}

func (ZoneTemperature) payloadMarker() {}

// RelayDemand is the 0008 payload: a domain id and a 0-200 (0-100%) demand.
type RelayDemand struct {
	DomainID string
	Demand   float64 // 0.0-1.0
}

func (RelayDemand) payloadMarker() {}

// ZoneSetpoint is one element of a 2309/000A zone-parameter array.
type ZoneSetpoint struct {
	ZoneIdx  string
	SetpoiC  float64
	HasRange bool
	MinC     float64
	MaxC     float64
}

func (ZoneSetpoint) payloadMarker() {}

// ZoneHeatDemand is one element of a 3150 array.
type ZoneHeatDemand struct {
	ZoneIdx string
	Demand  float64 // 0.0-1.0
}

func (ZoneHeatDemand) payloadMarker() {}

// ActuatorBinding is the 000C payload: which zone/domain slot a device
// occupies in its parent, and the device id itself.
type ActuatorBinding struct {
	ZoneIdx  string
	DevClass Slug
	Devices  []ID
}

func (ActuatorBinding) payloadMarker() {}

// BindingOffer/Accept/Confirm element: (oem-domain-idx, code, device id)
// triple carried in a 1FC9 payload (§4.4).
type BindingPhrase struct {
	DomainIdx string
	Code      Code
	Device    ID
}

// BindingPayload is the full 1FC9 array payload.
type BindingPayload struct {
	Phrases []BindingPhrase
	OEM     *uint8 // present for itho/nuaire/orcon vendor schemes
}

func (BindingPayload) payloadMarker() {}

// SyncCycle is the 1F09 payload: remaining time to the next broadcast sync.
type SyncCycle struct {
	RemainingSeconds float64
}

func (SyncCycle) payloadMarker() {}

// WindowState is the 12B0 payload.
type WindowState struct {
	ZoneIdx string
	Open    bool
}

func (WindowState) payloadMarker() {}

// UfhCircuitState is one element of a 22C9 array emitted by a UFH
// controller (§3): the circuit's index and current setpoint. The
// dispatcher maps each reported circuit to the controller's own parent
// zone; the setpoint plays no part in that mapping.
type UfhCircuitState struct {
	CircuitIdx byte
	SetpointC  float64
}

func (UfhCircuitState) payloadMarker() {}

// ZoneActuatorState is the 0009 payload element.
type ZoneActuatorState struct {
	ZoneIdx string
	Failed  bool
}

func (ZoneActuatorState) payloadMarker() {}

// ParsePayload turns a packet's raw bytes into a structured Payload per
// its (code, verb, ctx), per §4.1. Unknown codes yield RawPayload;
// excluded codes are rejected by the caller before reaching here.
func ParsePayload(code Code, verb Verb, ctx Ctx, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return EmptyPayload{}, nil
	}

	switch code {
	case Code30C9:
		return parseZoneTempArray(raw)
	case Code0008:
		return parseRelayDemand(raw)
	case Code2309, Code000A:
		return parseZoneSetpointArray(code, raw)
	case Code3150:
		return parseZoneHeatDemandArray(raw)
	case Code000C:
		return parseActuatorBinding(raw)
	case Code1FC9:
		return parseBindingPayload(raw)
	case Code1F09:
		return parseSyncCycle(raw)
	case Code12B0:
		return parseWindowState(raw)
	case Code0009:
		return parseZoneActuatorStateArray(raw)
	case Code0404:
		return parseScheduleFragment(raw)
	case Code0418:
		return parseFaultLogEntry(raw)
	case Code3220:
		return parseOpenThermMessage(raw)
	case Code22C9:
		return parseUfhCircuitArray(raw)
	default:
		return RawPayload{Bytes: raw}, nil
	}
}

func zoneIdxHex(b byte) string { return fmt.Sprintf("%02X", b) }

// zoneIdxByte is the inverse of zoneIdxHex, used when building an outbound
// request that names a zone idx the caller supplied as a string.
func zoneIdxByte(idx string) (byte, error) {
	v, err := strconv.ParseUint(idx, 16, 8)
	if err != nil {
		return 0, &PacketInvalidError{Reason: fmt.Sprintf("invalid zone idx %q", idx)}
	}
	return byte(v), nil
}

func parseZoneTempArray(raw []byte) (Payload, error) {
	if len(raw)%3 != 0 {
		return nil, &PacketPayloadInvalidError{Code: Code30C9, Reason: "length not a multiple of 3"}
	}
	out := make([]Payload, 0, len(raw)/3)
	for i := 0; i+3 <= len(raw); i += 3 {
		idx := zoneIdxHex(raw[i])
		raw16 := int16(uint16(raw[i+1])<<8 | uint16(raw[i+2]))
		out = append(out, ZoneTemperature{ZoneIdx: idx, TempC: float64(raw16) / 100.0})
	}
	return ArrayPayload{Elements: out}, nil
}

func parseRelayDemand(raw []byte) (Payload, error) {
	if len(raw) < 2 {
		return nil, &PacketPayloadInvalidError{Code: Code0008, Reason: "too short"}
	}
	return RelayDemand{DomainID: zoneIdxHex(raw[0]), Demand: float64(raw[1]) / 200.0}, nil
}

func parseZoneSetpointArray(code Code, raw []byte) (Payload, error) {
	elemSize := 3
	if code == Code000A {
		elemSize = 6
	}
	if len(raw)%elemSize != 0 {
		return nil, &PacketPayloadInvalidError{Code: code, Reason: "length not a multiple of element size"}
	}
	out := make([]Payload, 0, len(raw)/elemSize)
	for i := 0; i+elemSize <= len(raw); i += elemSize {
		idx := zoneIdxHex(raw[i])
		if code == Code2309 {
			raw16 := int16(uint16(raw[i+1])<<8 | uint16(raw[i+2]))
			out = append(out, ZoneSetpoint{ZoneIdx: idx, SetpoiC: float64(raw16) / 100.0})
		} else {
			minC := float64(uint16(raw[i+2])<<8|uint16(raw[i+3])) / 100.0
			maxC := float64(uint16(raw[i+4])<<8|uint16(raw[i+5])) / 100.0
			out = append(out, ZoneSetpoint{ZoneIdx: idx, HasRange: true, MinC: minC, MaxC: maxC})
		}
	}
	return ArrayPayload{Elements: out}, nil
}

func parseZoneHeatDemandArray(raw []byte) (Payload, error) {
	if len(raw)%2 != 0 {
		return nil, &PacketPayloadInvalidError{Code: Code3150, Reason: "length not a multiple of 2"}
	}
	out := make([]Payload, 0, len(raw)/2)
	for i := 0; i+2 <= len(raw); i += 2 {
		out = append(out, ZoneHeatDemand{ZoneIdx: zoneIdxHex(raw[i]), Demand: float64(raw[i+1]) / 200.0})
	}
	return ArrayPayload{Elements: out}, nil
}

func parseActuatorBinding(raw []byte) (Payload, error) {
	if len(raw) < 3 {
		return nil, &PacketPayloadInvalidError{Code: Code000C, Reason: "too short"}
	}
	devClass := SlugGeneric
	switch raw[1] {
	case 0x00:
		devClass = SlugTRV
	case 0x01:
		devClass = SlugBDR
	case 0x02, 0x03:
		devClass = SlugUFC
	case 0x04:
		devClass = SlugDHW
	case 0x0D:
		devClass = SlugOTB
	}
	devs := make([]ID, 0, (len(raw)-2)/3)
	for i := 2; i+3 <= len(raw); i += 3 {
		id := ID{Type: raw[i] & 0x3F, Serial: uint32(raw[i+1])<<8 | uint32(raw[i+2])}
		devs = append(devs, id)
	}
	return ActuatorBinding{ZoneIdx: zoneIdxHex(raw[0]), DevClass: devClass, Devices: devs}, nil
}

func parseSyncCycle(raw []byte) (Payload, error) {
	if len(raw) < 3 {
		return nil, &PacketPayloadInvalidError{Code: Code1F09, Reason: "too short"}
	}
	secs := float64(uint16(raw[1])<<8|uint16(raw[2])) / 10.0
	return SyncCycle{RemainingSeconds: secs}, nil
}

func parseWindowState(raw []byte) (Payload, error) {
	if len(raw) < 2 {
		return nil, &PacketPayloadInvalidError{Code: Code12B0, Reason: "too short"}
	}
	return WindowState{ZoneIdx: zoneIdxHex(raw[0]), Open: raw[1] != 0}, nil
}

func parseUfhCircuitArray(raw []byte) (Payload, error) {
	const elemSize = 6
	if len(raw)%elemSize != 0 {
		return nil, &PacketPayloadInvalidError{Code: Code22C9, Reason: "length not a multiple of 6"}
	}
	out := make([]Payload, 0, len(raw)/elemSize)
	for i := 0; i+elemSize <= len(raw); i += elemSize {
		raw16 := int16(uint16(raw[i+1])<<8 | uint16(raw[i+2]))
		out = append(out, UfhCircuitState{CircuitIdx: raw[i], SetpointC: float64(raw16) / 100.0})
	}
	return ArrayPayload{Elements: out}, nil
}

func parseZoneActuatorStateArray(raw []byte) (Payload, error) {
	if len(raw)%2 != 0 {
		return nil, &PacketPayloadInvalidError{Code: Code0009, Reason: "length not a multiple of 2"}
	}
	out := make([]Payload, 0, len(raw)/2)
	for i := 0; i+2 <= len(raw); i += 2 {
		out = append(out, ZoneActuatorState{ZoneIdx: zoneIdxHex(raw[i]), Failed: raw[i+1]&0x01 != 0})
	}
	return ArrayPayload{Elements: out}, nil
}
