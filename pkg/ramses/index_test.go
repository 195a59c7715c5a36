// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"testing"
	"time"
)

func mustMsg(t *testing.T, line string, dtm time.Time) Message {
	t.Helper()
	pkt, err := ParseLine(line, dtm)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", line, err)
	}
	msg, err := NewMessage(pkt)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

// TestIndexRoundTrip covers §8 invariant 1: inserting p then looking up
// p.Header() returns a message whose header matches.
func TestIndexRoundTrip(t *testing.T) {
	idx := NewMessageIndex()
	now := time.Now()
	msg := mustMsg(t, "053 RP --- 01:145038 18:002563 --:------ 0008 002 00C8", now)

	idx.Insert(msg)
	got, ok := idx.Lookup(msg.Header())
	if !ok {
		t.Fatal("expected lookup to find the inserted message")
	}
	if got.Header() != msg.Header() {
		t.Fatalf("header mismatch: %q vs %q", got.Header(), msg.Header())
	}
}

// TestIndexDeduplication covers §8 scenario S5: two packets with the
// same header arriving 500ms apart keep only the later payload in both
// by_code and by_code_verb_ctx.
func TestIndexDeduplication(t *testing.T) {
	idx := NewMessageIndex()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	early := mustMsg(t, "053  I --- 01:145038 --:------ 01:145038 30C9 003 0007D0", t0)
	late := mustMsg(t, "053  I --- 01:145038 --:------ 01:145038 30C9 003 000898", t0.Add(500*time.Millisecond))

	if early.Header() != late.Header() {
		t.Fatalf("expected identical headers, got %q vs %q", early.Header(), late.Header())
	}

	idx.Insert(early)
	idx.Insert(late)

	byCode, ok := idx.ByCode(Code30C9, t0.Add(time.Second))
	if !ok {
		t.Fatal("expected a retained 30C9 message")
	}
	if byCode.Packet.DTM != late.Packet.DTM {
		t.Fatalf("by_code holds stale message: %+v", byCode)
	}

	got, ok := idx.Lookup(late.Header())
	if !ok || got.Packet.DTM != late.Packet.DTM {
		t.Fatalf("by_code_verb_ctx did not retain the later message: %+v", got)
	}
}

func TestIndexOutOfOrderArrivalKeepsNewer(t *testing.T) {
	idx := NewMessageIndex()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	late := mustMsg(t, "053  I --- 01:145038 --:------ 01:145038 30C9 003 000898", t0.Add(time.Second))
	early := mustMsg(t, "053  I --- 01:145038 --:------ 01:145038 30C9 003 0007D0", t0)

	idx.Insert(late)
	idx.Insert(early) // arrives second but is chronologically older: must not overwrite

	got, _ := idx.Lookup(late.Header())
	if got.Packet.DTM != late.Packet.DTM {
		t.Fatalf("stale out-of-order packet overwrote the newer one: %+v", got)
	}
}

func TestIndexEvictExpired(t *testing.T) {
	idx := NewMessageIndex()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := mustMsg(t, "053  I --- 01:145038 --:------ 01:145038 12B0 002 0000", t0)
	idx.Insert(msg)

	if msg.Expired(t0.Add(30 * time.Minute)) {
		t.Fatal("12B0 message should not be expired at 30 minutes")
	}
	if !msg.Expired(t0.Add(2 * time.Hour)) {
		t.Fatal("12B0 message should expire after its 1h window")
	}

	evicted := idx.EvictExpired(t0.Add(2 * time.Hour))
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, ok := idx.Lookup(msg.Header()); ok {
		t.Fatal("expired message should no longer be retrievable")
	}
}
