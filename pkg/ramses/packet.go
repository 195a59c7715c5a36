// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Packet is an immutable parsed RAMSES-II frame. Two packets with
// identical Header supersede each other in a message index (§3).
type Packet struct {
	DTM     time.Time
	RSSI    int
	Verb    Verb
	Src     ID
	Addr2   ID
	Dst     ID
	Code    Code
	Payload []byte // raw bytes, decoded from the uppercase hex on the wire

	header string
	ctx    Ctx
}

// ParseLine parses one transport line of the shape:
//
//	RSSI VERB --- SRC ADDR2 DST CODE LEN PAYLOAD_HEX
//
// A line beginning with "!" is a gateway-meta flag, not a packet, and is
// rejected with PacketInvalidError so callers can distinguish it cheaply
// (strings.HasPrefix would also work, but routing the check through the
// same error keeps one failure path).
func ParseLine(line string, now time.Time) (Packet, error) {
	raw := strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(raw, "!") {
		return Packet{}, &PacketInvalidError{Reason: "gateway-meta flag, not a packet", Line: raw}
	}

	fields := strings.Fields(raw)
	if len(fields) < 8 {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("expected >=8 fields, got %d", len(fields)), Line: raw}
	}

	rssiStr, verbStr, sep, srcStr, addr2Str, dstStr, codeStr, lenStr := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7]
	payloadStr := strings.Join(fields[8:], "")

	if sep != "---" {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("expected '---' separator, got %q", sep), Line: raw}
	}

	if len(rssiStr) != 3 {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("RSSI must be 3 digits, got %q", rssiStr), Line: raw}
	}
	rssi, err := strconv.Atoi(rssiStr)
	if err != nil || rssi < 0 || rssi > 255 {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("RSSI out of range: %q", rssiStr), Line: raw}
	}

	verb, ok := ValidVerb(verbStr)
	if !ok {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("unknown verb %q", verbStr), Line: raw}
	}

	src, err := ParseID(srcStr)
	if err != nil {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("bad src address: %v", err), Line: raw}
	}
	addr2, err := ParseID(addr2Str)
	if err != nil {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("bad addr2 address: %v", err), Line: raw}
	}
	dst, err := ParseID(dstStr)
	if err != nil {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("bad dst address: %v", err), Line: raw}
	}

	if len(codeStr) != 4 {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("code must be 4 hex digits, got %q", codeStr), Line: raw}
	}
	for _, r := range codeStr {
		if !isUpperHex(r) {
			return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("code not uppercase hex: %q", codeStr), Line: raw}
		}
	}
	code := Code(codeStr)

	length, err := strconv.Atoi(lenStr)
	if err != nil || length < 1 || length > 96 {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("LEN out of range [1,96]: %q", lenStr), Line: raw}
	}
	if length*2 != len(payloadStr) {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("LEN=%d does not match payload hex length %d", length, len(payloadStr)), Line: raw}
	}
	payload, err := hex.DecodeString(payloadStr)
	if err != nil {
		return Packet{}, &PacketInvalidError{Reason: fmt.Sprintf("payload is not valid hex: %v", err), Line: raw}
	}

	if err := ValidateAddrSet(src, dst, code); err != nil {
		return Packet{}, err
	}

	p := Packet{
		DTM:     now,
		RSSI:    rssi,
		Verb:    verb,
		Src:     src,
		Addr2:   addr2,
		Dst:     dst,
		Code:    code,
		Payload: payload,
	}
	p.ctx = deriveCtx(code, verb, src, payload)
	p.header = buildHeader(code, verb, src, p.ctx)
	return p, nil
}

func isUpperHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
}

// NewPacket builds a Packet to be transmitted by this library (a binding
// phase frame, a discovery poll, a faked-device command), computing its
// derived ctx/header the same way ParseLine does for a received frame.
// RSSI is meaningless for an outgoing packet and left zero.
func NewPacket(dtm time.Time, verb Verb, src, addr2, dst ID, code Code, payload []byte) Packet {
	p := Packet{DTM: dtm, Verb: verb, Src: src, Addr2: addr2, Dst: dst, Code: code, Payload: payload}
	p.ctx = deriveCtx(code, verb, src, payload)
	p.header = buildHeader(code, verb, src, p.ctx)
	return p
}

// Format renders the packet back to wire-line form, the inverse of
// ParseLine (modulo timestamp, which is not part of the line).
func (p Packet) Format() string {
	return fmt.Sprintf("%03d %-3s --- %s %s %s %s %03d %s",
		p.RSSI, p.Verb, p.Src, p.Addr2, p.Dst, p.Code, len(p.Payload),
		strings.ToUpper(hex.EncodeToString(p.Payload)))
}

// Header is the derived "CODE|VERB|SRC[|CTX]" correlation key (§4.1, §6).
func (p Packet) Header() string { return p.header }

// Ctx is the packet's derived header context variant.
func (p Packet) Ctx() Ctx { return p.ctx }

// deriveCtx computes the header context per §4.1's three rule classes.
func deriveCtx(code Code, verb Verb, src ID, payload []byte) Ctx {
	kind := codeCtxKind[code] // zero value ctxNone for unknown codes
	switch kind {
	case ctxNone:
		return ctxNoneValue
	case ctxSimple:
		if len(payload) < 1 {
			return ctxNoneValue
		}
		return ctxIdx(fmt.Sprintf("%02X", payload[0]))
	case ctxArray:
		if isArrayPayload(payload) {
			return ctxArrayValue
		}
		if len(payload) >= 1 {
			return ctxIdx(fmt.Sprintf("%02X", payload[0]))
		}
		return ctxNoneValue
	case ctxComplex:
		return deriveComplexCtx(code, payload)
	}
	return ctxNoneValue
}

// isArrayPayload applies heuristic (a) from §4.1: a payload is an array
// fragment if it holds more than one 3-byte-indexed element, i.e. it is
// at least 6 bytes long and a whole number of 3-byte elements. The value
// of the index bytes is not checked.
func isArrayPayload(payload []byte) bool {
	if len(payload) < 6 {
		return false
	}
	return len(payload)%3 == 0
}

// deriveComplexCtx computes the per-code header context for the
// "index-complex" set (§4.1).
func deriveComplexCtx(code Code, payload []byte) Ctx {
	switch code {
	case Code0418:
		if len(payload) < 4 {
			return ctxNoneValue
		}
		// Fault log index is carried in the second payload byte.
		return ctxIdx(fmt.Sprintf("%02X", payload[1]))
	case Code3220:
		if len(payload) < 3 {
			return ctxNoneValue
		}
		// OpenTherm msg-id byte.
		return ctxIdx(fmt.Sprintf("%02X", payload[1]))
	case Code0404:
		if len(payload) < 2 {
			return ctxNoneValue
		}
		// zone idx (byte 0) + fragment total (byte 1). The fragment
		// number (byte 2) is not part of the ctx, so every fragment of
		// one schedule carries the same header.
		return ctxIdx(fmt.Sprintf("%02X%02X", payload[0], payload[1]))
	case Code000C:
		if len(payload) < 1 {
			return ctxNoneValue
		}
		return ctxIdx(fmt.Sprintf("%02X", payload[0]))
	case Code1FC9:
		return ctxArrayValue
	default:
		if len(payload) >= 1 {
			return ctxIdx(fmt.Sprintf("%02X", payload[0]))
		}
		return ctxNoneValue
	}
}

func buildHeader(code Code, verb Verb, src ID, ctx Ctx) string {
	var b strings.Builder
	b.WriteString(string(code))
	b.WriteByte('|')
	b.WriteString(string(verb))
	b.WriteByte('|')
	b.WriteString(src.String())
	switch ctx.Kind() {
	case CtxArrayVariant:
		b.WriteString("|True")
	case CtxIdxVariant:
		b.WriteByte('|')
		b.WriteString(ctx.Idx())
	}
	return b.String()
}
