// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"testing"
	"time"
)

func TestParseLineRoundTrip(t *testing.T) {
	now := time.Now()
	line := "045  I --- 07:045960 --:------ 07:045960 1260 003 000911"
	pkt, err := ParseLine(line, now)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if pkt.Verb != VerbI || pkt.Code != Code1260 || pkt.RSSI != 45 {
		t.Fatalf("unexpected parse: %+v", pkt)
	}
	if got := pkt.Format(); got != "045 I   --- 07:045960 --:------ 07:045960 1260 003 000911" {
		t.Fatalf("Format round-trip mismatch: %q", got)
	}
	reparsed, err := ParseLine(pkt.Format(), now)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.Header() != pkt.Header() {
		t.Fatalf("header mismatch after round-trip: %q vs %q", reparsed.Header(), pkt.Header())
	}
}

func TestParseLineRejectsBadLength(t *testing.T) {
	_, err := ParseLine("053 RP --- 01:145038 18:002563 --:------ 0008 099 00C8", time.Now())
	if err == nil {
		t.Fatal("expected LEN mismatch to be rejected")
	}
}

func TestParseLineRejectsBadRSSI(t *testing.T) {
	_, err := ParseLine("999 RP --- 01:145038 18:002563 --:------ 0008 002 00C8", time.Now())
	if err == nil {
		t.Fatal("expected out-of-range RSSI to be rejected")
	}
}

func TestParseLineRejectsGatewayMetaFlag(t *testing.T) {
	_, err := ParseLine("! some gateway status line", time.Now())
	if err == nil {
		t.Fatal("expected '!' line to be rejected as not-a-packet")
	}
}

func TestParseLineRejectsSameTypeHeatOnlyAddrSet(t *testing.T) {
	_, err := ParseLine("045  I --- 18:000001 --:------ 18:000002 1F09 003 00066A", time.Now())
	if err == nil {
		t.Fatal("expected address-set violation")
	}
	if _, ok := err.(*PacketAddrSetInvalidError); !ok {
		t.Fatalf("expected PacketAddrSetInvalidError, got %T (%v)", err, err)
	}
}

func TestZoneTemperatureArrayHeader(t *testing.T) {
	// 3 elements: zone 00 -> 20.00C, 01 -> 17.00C, 02 -> 22.00C (S1).
	line := "045  I --- 01:158182 --:------ 01:158182 30C9 009 0007D00106A4020898"
	pkt, err := ParseLine(line, time.Now())
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if pkt.Ctx().Kind() != CtxArrayVariant {
		t.Fatalf("expected array ctx, got %v", pkt.Ctx())
	}
	if pkt.Header() != "30C9|I|01:158182|True" {
		t.Fatalf("unexpected header: %q", pkt.Header())
	}

	msg, err := NewMessage(pkt)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	arr, ok := msg.PayloadStruct.(ArrayPayload)
	if !ok || len(arr.Elements) != 3 {
		t.Fatalf("expected 3-element array payload, got %#v", msg.PayloadStruct)
	}
	want := []ZoneTemperature{{"00", 20.00}, {"01", 17.00}, {"02", 22.00}}
	for i, w := range want {
		got, ok := arr.Elements[i].(ZoneTemperature)
		if !ok || got != w {
			t.Fatalf("element %d: want %+v got %+v", i, w, arr.Elements[i])
		}
	}
}

func TestLenOutOfRangeBoundaries(t *testing.T) {
	mkLine := func(lenField string, payload string) string {
		return "045  I --- 01:000001 --:------ 01:000001 0008 " + lenField + " " + payload
	}
	if _, err := ParseLine(mkLine("000", ""), time.Now()); err == nil {
		t.Fatal("LEN=0 should be rejected")
	}
	if _, err := ParseLine(mkLine("097", hexOfLen(97)), time.Now()); err == nil {
		t.Fatal("LEN=97 should be rejected (max is 96)")
	}
}

func hexOfLen(n int) string {
	b := make([]byte, n)
	out := make([]byte, n*2)
	const hexdigits = "0123456789ABCDEF"
	for i := range b {
		out[2*i] = hexdigits[0]
		out[2*i+1] = hexdigits[0]
	}
	return string(out)
}
