// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"testing"
	"time"
)

// TestSnapshotRestoreIsOrderIndependent covers §8 scenario S6: restoring
// a packets-dict produces the same shrunk schema regardless of Go's
// unspecified map iteration order (exercised here by just letting the
// runtime's native randomised map order drive Restore).
func TestSnapshotRestoreIsOrderIndependent(t *testing.T) {
	g1 := newTestGateway()
	now := time.Now()

	lines := []string{
		"045  I --- 01:158182 --:------ 01:158182 30C9 009 0007D00106A4020898",
		"045  I --- 01:158182 --:------ 01:158182 000C 005 000004007B",
	}
	for _, line := range lines {
		pkt, err := ParseLine(line, now)
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", line, err)
		}
		g1.dispatch(pkt)
	}

	schema1, packets := g1.GetState(now, true)
	if len(packets) == 0 {
		t.Fatal("expected GetState to capture at least one packet")
	}

	g2 := newTestGateway()
	g2.Restore(packets, now)
	schema2 := g2.buildSchema()

	if !schema1.Equal(schema2) {
		t.Fatalf("schema mismatch after restore:\n got  %+v\n want %+v", schema2, schema1)
	}

	// Restoring a second time (idempotent re-dispatch of the same lines)
	// must not change the schema.
	g2.Restore(packets, now)
	schema3 := g2.buildSchema()
	if !schema1.Equal(schema3) {
		t.Fatalf("schema changed after idempotent re-restore:\n got  %+v\n want %+v", schema3, schema1)
	}
}

func TestSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	g := newTestGateway()
	now := time.Now()
	pkt, err := ParseLine("045  I --- 01:158182 --:------ 01:158182 30C9 009 0007D00106A4020898", now)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	g.dispatch(pkt)

	schema, packets := g.GetState(now, true)
	data, err := EncodeSnapshot(schema, packets)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	gotSchema, gotPackets, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if !schema.Equal(gotSchema) {
		t.Fatalf("schema mismatch after CBOR round-trip: got %+v want %+v", gotSchema, schema)
	}
	if len(gotPackets) != len(packets) {
		t.Fatalf("packet count mismatch: got %d want %d", len(gotPackets), len(packets))
	}
}
