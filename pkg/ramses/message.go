// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "time"

// expiry windows per §3: default never, 12B0 = 1h. 1F09 expiry is derived
// from the packet itself (its own remaining-time field) rather than a
// fixed constant; see Message.Expired.
var codeExpiry = map[Code]time.Duration{
	Code12B0: time.Hour,
}

// Message is a Packet plus its structured payload and expiry logic (§3).
type Message struct {
	Packet        Packet
	PayloadStruct Payload
}

// NewMessage parses pkt's payload and returns the resulting Message. If
// the code is excluded (§9 Open Questions) the caller should not reach
// here; if parsing fails, a PacketPayloadInvalidError is returned but the
// Message is still produced with a RawPayload fallback, per the "local:
// keep raw hex, log info" policy of §7.
func NewMessage(pkt Packet) (Message, error) {
	payload, err := ParsePayload(pkt.Code, pkt.Verb, pkt.ctx, pkt.Payload)
	if err != nil {
		return Message{Packet: pkt, PayloadStruct: RawPayload{Bytes: pkt.Payload}}, err
	}
	return Message{Packet: pkt, PayloadStruct: payload}, nil
}

// Expired reports whether m is older than its code's retention window, as
// of now.
func (m Message) Expired(now time.Time) bool {
	if sc, ok := m.PayloadStruct.(SyncCycle); ok {
		return now.Sub(m.Packet.DTM) > time.Duration(sc.RemainingSeconds*float64(time.Second))
	}
	window, ok := codeExpiry[m.Packet.Code]
	if !ok {
		return false // default: never expires
	}
	return now.Sub(m.Packet.DTM) > window
}

// Header is a convenience accessor for the underlying packet's header.
func (m Message) Header() string { return m.Packet.Header() }
