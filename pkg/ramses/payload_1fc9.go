// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"encoding/hex"
	"fmt"
)

// VendorScheme selects a 1FC9 offer's destination and OEM code byte
// (§4.4).
type VendorScheme int

const (
	SchemeDefault VendorScheme = iota
	SchemeItho
	SchemeNuaire
	SchemeOrcon
)

// OEMByte returns the vendor-identifying byte embedded in an offer
// payload, or false if the scheme carries none.
func (v VendorScheme) OEMByte() (uint8, bool) {
	switch v {
	case SchemeItho:
		return 0x01, true
	case SchemeNuaire:
		return 0x6C, true
	case SchemeOrcon:
		return 0x67, true
	default:
		return 0, false
	}
}

// OfferDestination returns the address a binding Offer should be sent to
// under this scheme. All schemes broadcast except orcon, which directs
// the offer at the null address instead.
func (v VendorScheme) OfferDestination() ID {
	if v == SchemeOrcon {
		return NullID
	}
	return BroadcastID
}

// parseBindingPayload decodes a 1FC9 payload into its list of
// (domain-idx, code, device) phrases, each 6 bytes: 1 domain-idx byte, 2
// code bytes, 3 device-id bytes; plus an optional trailing OEM byte.
func parseBindingPayload(raw []byte) (Payload, error) {
	n := len(raw)
	oemLen := n % 6
	if oemLen != 0 && oemLen != 1 {
		return nil, &PacketPayloadInvalidError{Code: Code1FC9, Reason: fmt.Sprintf("length %d not a multiple of 6 (+1 OEM byte)", n)}
	}
	phraseBytes := n - oemLen
	phrases := make([]BindingPhrase, 0, phraseBytes/6)
	for i := 0; i+6 <= phraseBytes; i += 6 {
		code := Code(fmt.Sprintf("%02X%02X", raw[i+1], raw[i+2]))
		dev := ID{Type: raw[i+3] & 0x3F, Serial: uint32(raw[i+4])<<8 | uint32(raw[i+5])}
		phrases = append(phrases, BindingPhrase{
			DomainIdx: zoneIdxHex(raw[i]),
			Code:      code,
			Device:    dev,
		})
	}
	out := BindingPayload{Phrases: phrases}
	if oemLen == 1 {
		oem := raw[n-1]
		out.OEM = &oem
	}
	return out, nil
}

// EncodeBindingPayload is the inverse of parseBindingPayload, used by a
// BindContext to build the wire payload for an Offer/Accept/Confirm.
func EncodeBindingPayload(phrases []BindingPhrase, scheme VendorScheme) []byte {
	out := make([]byte, 0, len(phrases)*6+1)
	for _, p := range phrases {
		codeBytes, err := hex.DecodeString(string(p.Code))
		if err != nil || len(codeBytes) != 2 {
			continue
		}
		out = append(out, mustHexByte(p.DomainIdx), codeBytes[0], codeBytes[1],
			p.Device.Type&0x3F, byte(p.Device.Serial>>8), byte(p.Device.Serial))
	}
	if oem, ok := scheme.OEMByte(); ok {
		out = append(out, oem)
	}
	return out
}

func mustHexByte(s string) byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 1 {
		return 0
	}
	return b[0]
}
