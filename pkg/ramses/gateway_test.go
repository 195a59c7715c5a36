// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTransport struct {
	mu      sync.Mutex
	written []string
}

func (f *fakeTransport) WriteLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, line)
	return nil
}

// writtenCount is a thread-safe peek at how many lines have been written,
// used by tests that drive a blocking Gateway call from one goroutine and
// feed it synthetic replies from another.
func (f *fakeTransport) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeTransport) ReadLine(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (f *fakeTransport) Close() error { return nil }

func newTestGateway() *Gateway {
	return NewGateway(ID{Type: 18, Serial: 1}, Config{}, &fakeTransport{}, zerolog.Nop())
}

// TestDispatchZoneTemperatureArrayCreatesZones covers §8 scenario S1: a
// controller's broadcast 30C9 array creates/updates every named zone's
// message index with the right temperature.
func TestDispatchZoneTemperatureArrayCreatesZones(t *testing.T) {
	g := newTestGateway()
	now := time.Now()
	pkt, err := ParseLine("045  I --- 01:158182 --:------ 01:158182 30C9 009 0007D00106A4020898", now)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	g.dispatch(pkt)

	ctl := ID{Type: 1, Serial: 158182}
	src, ok := g.Device(ctl)
	if !ok || src.Slug != SlugCTL {
		t.Fatalf("expected the controller to be recognised as CTL, got %+v", src)
	}

	wantTemps := map[string]float64{"00": 20.00, "01": 17.00, "02": 22.00}
	for idx, want := range wantTemps {
		zone, ok := g.Zone(ZoneKey{TCS: ctl, Idx: idx})
		if !ok {
			t.Fatalf("expected zone %s to exist", idx)
		}
		m, ok := zone.Index().ByCode(Code30C9, now.Add(time.Second))
		if !ok {
			t.Fatalf("zone %s: expected a retained 30C9 message", idx)
		}
		zt, ok := m.PayloadStruct.(ArrayPayload)
		if !ok {
			t.Fatalf("zone %s: expected array payload, got %#v", idx, m.PayloadStruct)
		}
		found := false
		for _, el := range zt.Elements {
			if ztv, ok := el.(ZoneTemperature); ok && ztv.ZoneIdx == idx {
				if ztv.TempC != want {
					t.Fatalf("zone %s: want %v got %v", idx, want, ztv.TempC)
				}
				found = true
			}
		}
		if !found {
			t.Fatalf("zone %s: did not find its own element in the stored array", idx)
		}
	}

	sys, ok := g.System(ctl)
	if !ok || len(sys.ZoneIdxs) != 3 {
		t.Fatalf("expected system to track 3 zones, got %+v", sys)
	}
}

// TestDispatchActuatorBindingAssignsParent covers the 000C actuator
// binding path: a TRV named in a controller's 000C reply becomes a
// parented zone actuator and the zone's class is promoted to RAD.
func TestDispatchActuatorBindingAssignsParent(t *testing.T) {
	g := newTestGateway()
	now := time.Now()
	// zone 00, devClass TRV (0x00), device 04:000123.
	pkt, err := ParseLine("045  I --- 01:158182 --:------ 01:158182 000C 005 000004007B", now)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	g.dispatch(pkt)

	trv := ID{Type: 4, Serial: 123}
	dev, ok := g.Device(trv)
	if !ok {
		t.Fatal("expected the TRV device to have been created")
	}
	if dev.Slug != SlugTRV {
		t.Fatalf("expected TRV slug, got %v", dev.Slug)
	}
	if dev.Parent.Kind != ParentZone || dev.Parent.Zone.Idx != "00" {
		t.Fatalf("expected device parented to zone 00, got %+v", dev.Parent)
	}

	ctl := ID{Type: 1, Serial: 158182}
	zone, ok := g.Zone(ZoneKey{TCS: ctl, Idx: "00"})
	if !ok {
		t.Fatal("expected zone 00 to exist")
	}
	if zone.Class != ZoneClassRAD {
		t.Fatalf("expected zone class promoted to RAD, got %v", zone.Class)
	}
	if len(zone.ActuatorIDs) != 1 || zone.ActuatorIDs[0] != trv {
		t.Fatalf("expected zone to list the TRV as an actuator, got %+v", zone.ActuatorIDs)
	}
}

// TestDispatchUfhCircuitEvidenceRegistersController covers the 22C9 path:
// a controller's 000C binding parents a UFH controller into a zone, and
// the controller's own 22C9 array registers it (and its circuits) with
// the Gateway, reachable through the UfhController/UfhCircuit accessors.
func TestDispatchUfhCircuitEvidenceRegistersController(t *testing.T) {
	g := newTestGateway()
	now := time.Now()

	// zone 00, devClass UFC (0x02), device 02:000124.
	bindPkt, err := ParseLine("045  I --- 01:158182 --:------ 01:158182 000C 005 000202007C", now)
	if err != nil {
		t.Fatalf("ParseLine(000C): %v", err)
	}
	g.dispatch(bindPkt)

	ufc := ID{Type: 2, Serial: 124}
	dev, ok := g.Device(ufc)
	if !ok || dev.Slug != SlugUFC {
		t.Fatalf("expected a UFC device to have been created, got %+v", dev)
	}

	// circuit 00, setpoint 20.00C, reported by the controller itself.
	circuitPkt, err := ParseLine("045  I --- 02:000124 --:------ 02:000124 22C9 006 0007D0000000", now)
	if err != nil {
		t.Fatalf("ParseLine(22C9): %v", err)
	}
	g.dispatch(circuitPkt)

	ctl := ID{Type: 1, Serial: 158182}
	sys, ok := g.System(ctl)
	if !ok || len(sys.UfhControllerIDs) != 1 || sys.UfhControllerIDs[0] != ufc {
		t.Fatalf("expected system to track the UFH controller, got %+v", sys)
	}

	uc, ok := g.UfhController(ufc)
	if !ok {
		t.Fatal("expected UfhController(ufc) to find the registered controller")
	}
	if len(uc.CircuitIdxs) != 1 || uc.CircuitIdxs[0] != 0 {
		t.Fatalf("expected controller to list circuit 0, got %+v", uc.CircuitIdxs)
	}

	key := UfhCircuitKey{Controller: ufc, CircuitIdx: 0}
	circuit, ok := g.UfhCircuit(key)
	if !ok {
		t.Fatal("expected UfhCircuit(key) to find the registered circuit")
	}
	if circuit.ZoneKey == nil || circuit.ZoneKey.Idx != "00" {
		t.Fatalf("expected circuit mapped to zone 00, got %+v", circuit.ZoneKey)
	}

	schema := g.buildSchema()
	ss, ok := schema.Systems[ctl.String()]
	if !ok {
		t.Fatalf("expected a schema entry for %s", ctl)
	}
	idxs, ok := ss.Ufh[ufc.String()]
	if !ok || len(idxs) != 1 || idxs[0] != 0 {
		t.Fatalf("expected schema.Ufh[%s] = [0], got %+v", ufc, ss.Ufh)
	}
}

// TestDeviceSetParentRejectsConflict covers §3's at-most-one-parent
// invariant directly.
func TestDeviceSetParentRejectsConflict(t *testing.T) {
	dev := newDevice(ID{Type: 4, Serial: 123}, SlugTRV)
	ctl := ID{Type: 1, Serial: 1}
	zoneA := ZoneKey{TCS: ctl, Idx: "00"}
	zoneB := ZoneKey{TCS: ctl, Idx: "01"}

	if err := dev.SetParent(ParentRef{Kind: ParentZone, Zone: zoneA}, "00"); err != nil {
		t.Fatalf("unexpected error on first parent assignment: %v", err)
	}
	if err := dev.SetParent(ParentRef{Kind: ParentZone, Zone: zoneA}, "00"); err != nil {
		t.Fatalf("idempotent re-assignment should not error: %v", err)
	}
	err := dev.SetParent(ParentRef{Kind: ParentZone, Zone: zoneB}, "01")
	if err == nil {
		t.Fatal("expected reassigning to a different zone to fail")
	}
	if _, ok := err.(*SystemSchemaInconsistentError); !ok {
		t.Fatalf("expected SystemSchemaInconsistentError, got %T", err)
	}
}

// TestAsyncSendCmdResolvesOnReply exercises the registerWaiter-before-
// transmit ordering: a reply dispatched after the send must resolve the
// waiting AsyncSendCmd call.
func TestAsyncSendCmdResolvesOnReply(t *testing.T) {
	g := newTestGateway()
	cmd := Command{Verb: VerbRQ, Src: g.SelfID, Dst: ID{Type: 1, Serial: 158182}, Code: Code0008, Payload: nil}

	replyLine := "045 RP --- 01:158182 --:------ 18:000001 0008 002 00C8"
	done := make(chan struct{})
	var gotErr error
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, gotErr = g.AsyncSendCmd(ctx, cmd, "0008|RP|01:158182", 1, 200*time.Millisecond, true)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	pkt, err := ParseLine(replyLine, time.Now())
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	g.dispatch(pkt)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AsyncSendCmd did not return in time")
	}
	if gotErr != nil {
		t.Fatalf("expected AsyncSendCmd to resolve successfully, got %v", gotErr)
	}
}

// TestSubscribeReceivesDispatchedMessages covers the watch-TUI path: a
// subscriber registered before traffic arrives sees every dispatched
// message, and unsubscribing closes its channel.
func TestSubscribeReceivesDispatchedMessages(t *testing.T) {
	g := newTestGateway()
	ch, unsubscribe := g.Subscribe()

	pkt, err := ParseLine("045  I --- 01:158182 --:------ 01:158182 0008 002 0000", time.Now())
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	g.dispatch(pkt)

	select {
	case msg := <-ch:
		if msg.Packet.Code != Code0008 {
			t.Fatalf("expected the dispatched 0008 packet, got %+v", msg.Packet)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the dispatched message")
	}

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to be closed after unsubscribe")
	}
}
