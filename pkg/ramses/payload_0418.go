// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "fmt"

// FaultState is the fault-log entry's active/restored state.
type FaultState int

const (
	FaultActive FaultState = iota
	FaultRestored
	FaultUnknownState
)

// FaultLogEntry is the 0418 payload: one entry in the controller's fault
// log ring buffer. Field layout grounded on
// original_source/src/ramses_rf/system/faultlog.py, which reads the log
// index from the header context (see deriveComplexCtx) and a fixed-width
// record body: state, device-class, domain id and the offending device id.
// Gateway.GetFaultLog walks the ring buffer one index at a time.
type FaultLogEntry struct {
	LogIdx    int
	State     FaultState
	DevClass  Slug
	DomainID  string
	Device    ID
	Timestamp uint32 // not decoded by parseFaultLogEntry: always zero
}

func (FaultLogEntry) payloadMarker() {}

func parseFaultLogEntry(raw []byte) (Payload, error) {
	if len(raw) < 4 {
		return nil, &PacketPayloadInvalidError{Code: Code0418, Reason: "too short"}
	}
	logIdx := int(raw[1])

	var state FaultState
	switch raw[2] & 0x0F {
	case 0x0:
		state = FaultActive
	case 0x1:
		state = FaultRestored
	default:
		state = FaultUnknownState
	}

	devClass := SlugGeneric
	if len(raw) > 3 {
		switch raw[3] {
		case 0x04:
			devClass = SlugDHW
		case 0x0D:
			devClass = SlugOTB
		}
	}

	entry := FaultLogEntry{LogIdx: logIdx, State: state, DevClass: devClass}
	if len(raw) >= 7 {
		entry.DomainID = zoneIdxHex(raw[4])
	}
	if len(raw) >= 19 {
		entry.Device = ID{Type: raw[16] & 0x3F, Serial: uint32(raw[17])<<8 | uint32(raw[18])}
	}
	if logIdx < 0 || logIdx > 63 {
		return nil, &PacketPayloadInvalidError{Code: Code0418, Reason: fmt.Sprintf("log index %d out of range", logIdx)}
	}
	return entry, nil
}
