// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ramses decodes and routes RAMSES-II frames exchanged between a
// serial/USB gateway (evofw3, HGI80) and a network of Honeywell evohome
// heating devices and compatible HVAC ventilation equipment.
package ramses

import (
	"fmt"
	"regexp"
	"strconv"
)

// Domain distinguishes the two protocol families that share RAMSES-II wire
// framing but diverge in role tables and promotion rules.
type Domain int

const (
	DomainUnknown Domain = iota
	DomainHeat
	DomainHVAC
)

func (d Domain) String() string {
	switch d {
	case DomainHeat:
		return "heat"
	case DomainHVAC:
		return "hvac"
	default:
		return "unknown"
	}
}

// ID is a RAMSES-II device identifier: a two-digit decimal type and a
// six-digit decimal serial, canonically rendered "TT:SSSSSS".
type ID struct {
	Type   uint8
	Serial uint32
}

// Reserved sentinel identifiers.
var (
	NullID      = ID{Type: 63, Serial: 262143}
	BroadcastID = ID{Type: 63, Serial: 262142}
	NoneID      = ID{Type: 255, Serial: 0} // rendered "--:------"
)

var idPattern = regexp.MustCompile(`^(\d{2}):(\d{6})$`)

// ParseID parses a canonical "TT:SSSSSS" address, or the non-device
// sentinel "--:------".
func ParseID(s string) (ID, error) {
	if s == "--:------" {
		return NoneID, nil
	}
	m := idPattern.FindStringSubmatch(s)
	if m == nil {
		return ID{}, &PacketInvalidError{Reason: fmt.Sprintf("malformed device id %q", s)}
	}
	t, _ := strconv.Atoi(m[1])
	ser, _ := strconv.Atoi(m[2])
	if ser > 999999 {
		return ID{}, &PacketInvalidError{Reason: fmt.Sprintf("device serial out of range %q", s)}
	}
	return ID{Type: uint8(t), Serial: uint32(ser)}, nil
}

// String renders the canonical form.
func (id ID) String() string {
	if id.IsNone() {
		return "--:------"
	}
	return fmt.Sprintf("%02d:%06d", id.Type, id.Serial)
}

// IsNone reports whether id is the "--:------" non-device sentinel.
func (id ID) IsNone() bool {
	return id == NoneID
}

// IsNull reports whether id is the null address (same bit pattern as
// broadcast+1, used when a third address slot is unset).
func (id ID) IsNull() bool {
	return id == NullID
}

// IsBroadcast reports whether id is the reserved broadcast address
// 63:262142.
func (id ID) IsBroadcast() bool {
	return id == BroadcastID
}

// IsAddressable reports whether id names an individual device (as opposed
// to the none/null/broadcast sentinels).
func (id ID) IsAddressable() bool {
	return !id.IsNone() && !id.IsNull() && !id.IsBroadcast()
}

// classInfo describes the default role and domain carried by a device
// type, per spec.md §3's address-type table.
type classInfo struct {
	Domain Domain
	Slug   Slug
}

// heatTypeTable is the Heat domain's type -> default-slug table (§4.3).
var heatTypeTable = map[uint8]Slug{
	1:  SlugCTL,
	2:  SlugUFC,
	3:  SlugSTA,
	4:  SlugTRV,
	7:  SlugDHW,
	10: SlugOTB,
	12: SlugPRG,
	13: SlugBDR,
	18: SlugHGI,
	22: SlugTHM,
	23: SlugCTL,
	34: SlugSTA,
}

// hvacTypeTable lists device types only ever seen in the HVAC domain; the
// specific slug within the domain is resolved later from verb/code
// evidence (§4.3's HVAC verb/code table), so this only fixes the domain.
var hvacTypeTable = map[uint8]bool{
	29: true,
	30: true,
	32: true,
	37: true,
	39: true,
	42: true,
}

// DomainOf returns the protocol domain implied by a device type, or
// DomainUnknown if the type is not recognised as domain-specific (it will
// be resolved later from traffic, e.g. generic HVC devices).
func DomainOf(devType uint8) Domain {
	if devType == 18 {
		return DomainUnknown // HGI gateways are domain-neutral
	}
	if _, ok := heatTypeTable[devType]; ok {
		return DomainHeat
	}
	if hvacTypeTable[devType] {
		return DomainHVAC
	}
	return DomainUnknown
}

// DefaultSlugOf returns the address-type default role, or SlugGeneric if
// the type carries no fixed role (§4.3 promotion priority, step 2).
func DefaultSlugOf(devType uint8) Slug {
	if devType == 18 {
		return SlugHGI
	}
	if s, ok := heatTypeTable[devType]; ok {
		return s
	}
	return SlugGeneric
}
