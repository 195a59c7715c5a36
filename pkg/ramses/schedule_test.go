// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestGatewayWithTransport() (*Gateway, *fakeTransport) {
	ft := &fakeTransport{}
	return NewGateway(ID{Type: 18, Serial: 1}, Config{}, ft, zerolog.Nop()), ft
}

func waitForWrite(t *testing.T, ft *fakeTransport, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ft.writtenCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d written line(s), got %d", n, ft.writtenCount())
}

// TestGetScheduleReassemblesFragments covers §4.7/§5: GetSchedule RQs
// fragment 1 without knowing the total, then walks the remaining
// fragments by the total the controller reports, reassembling the body.
func TestGetScheduleReassemblesFragments(t *testing.T) {
	g, ft := newTestGatewayWithTransport()
	tcs := ID{Type: 1, Serial: 158182}
	now := time.Now()

	type result struct {
		data []byte
		err  error
	}
	resultCh := make(chan result, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go func() {
		data, err := g.GetSchedule(ctx, tcs, "00")
		resultCh <- result{data, err}
	}()

	waitForWrite(t, ft, 1)
	frag1, err := ParseLine("045 RP --- 01:158182 --:------ 18:000001 0404 006 000201AABBCC", now)
	if err != nil {
		t.Fatalf("ParseLine(frag1): %v", err)
	}
	g.dispatch(frag1)

	waitForWrite(t, ft, 2)
	frag2, err := ParseLine("045 RP --- 01:158182 --:------ 18:000001 0404 006 000202DDEEFF", now)
	if err != nil {
		t.Fatalf("ParseLine(frag2): %v", err)
	}
	g.dispatch(frag2)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("GetSchedule: %v", res.err)
		}
		want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
		if !bytes.Equal(res.data, want) {
			t.Fatalf("want %x, got %x", want, res.data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for GetSchedule to return")
	}
}

// TestGetScheduleLockTimesOutWhenZoneAlreadyLocked covers §7's "Schedule
// lock timeout (3 min)" row, scaled down to a test-sized timeout: while
// one zone holds the TCS's schedule lock (the lock GetSchedule takes), a
// second zone cannot obtain it before the timeout runs out. GetSchedule
// itself always waits ScheduleLockTimeout, so obtain is called directly
// with the shorter timeout.
func TestGetScheduleLockTimesOutWhenZoneAlreadyLocked(t *testing.T) {
	g, _ := newTestGatewayWithTransport()
	tcs := ID{Type: 1, Serial: 158182}

	lock := g.scheduleLockFor(tcs)
	if err := lock.obtain(context.Background(), tcs, "00", time.Second); err != nil {
		t.Fatalf("obtain(00): %v", err)
	}
	defer lock.release(tcs, "00")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := lock.obtain(ctx, tcs, "01", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected obtaining the lock for zone 01 to fail while zone 00 holds it")
	}
	if _, ok := err.(*ScheduleFsmError); !ok {
		t.Fatalf("expected a ScheduleFsmError, got %T: %v", err, err)
	}
}

// TestScheduleLockReentrantForSameZone covers §5's "reentrant only for
// the same zone_idx" rule.
func TestScheduleLockReentrantForSameZone(t *testing.T) {
	tcs := ID{Type: 1, Serial: 158182}
	l := &scheduleLock{}
	if err := l.obtain(context.Background(), tcs, "00", time.Second); err != nil {
		t.Fatalf("first obtain: %v", err)
	}
	if err := l.obtain(context.Background(), tcs, "00", time.Second); err != nil {
		t.Fatalf("reentrant obtain: %v", err)
	}
	if err := l.release(tcs, "00"); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if l.zoneIdx != "00" {
		t.Fatalf("expected lock still held after one of two releases, got %q", l.zoneIdx)
	}
	if err := l.release(tcs, "00"); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if l.zoneIdx != "" {
		t.Fatalf("expected lock free after matching releases, got %q", l.zoneIdx)
	}
}

// TestScheduleLockReleaseWithoutHolding covers the misuse path that
// raises ScheduleFsmError (§5, §7).
func TestScheduleLockReleaseWithoutHolding(t *testing.T) {
	tcs := ID{Type: 1, Serial: 158182}
	l := &scheduleLock{}
	err := l.release(tcs, "00")
	if err == nil {
		t.Fatal("expected an error releasing a lock nobody holds")
	}
	if _, ok := err.(*ScheduleFsmError); !ok {
		t.Fatalf("expected a ScheduleFsmError, got %T: %v", err, err)
	}
}

// TestGetFaultLogReturnsEntries covers the ring-buffer walk retrieving
// one entry per requested index (§3, §4.7).
func TestGetFaultLogReturnsEntries(t *testing.T) {
	g, ft := newTestGatewayWithTransport()
	tcs := ID{Type: 1, Serial: 158182}
	now := time.Now()

	type result struct {
		entries []FaultLogEntry
		err     error
	}
	resultCh := make(chan result, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		entries, err := g.GetFaultLog(ctx, tcs, 0, 0)
		resultCh <- result{entries, err}
	}()

	waitForWrite(t, ft, 1)
	entry0, err := ParseLine("045 RP --- 01:158182 --:------ 18:000001 0418 004 00000004", now)
	if err != nil {
		t.Fatalf("ParseLine(entry0): %v", err)
	}
	g.dispatch(entry0)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("GetFaultLog: %v", res.err)
		}
		if len(res.entries) != 1 || res.entries[0].LogIdx != 0 {
			t.Fatalf("expected exactly one entry at logIdx 0, got %+v", res.entries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for GetFaultLog to return")
	}
}

// TestGetFaultLogStopsWhenControllerTimesOut covers the ring-buffer walk
// ending when the controller stops answering past its last entry: the
// retry budget is exhausted without the caller's ctx expiring, so the
// walk ends and returns what it has rather than erroring.
func TestGetFaultLogStopsWhenControllerTimesOut(t *testing.T) {
	g, ft := newTestGatewayWithTransport()
	tcs := ID{Type: 1, Serial: 158182}
	now := time.Now()

	type result struct {
		entries []FaultLogEntry
		err     error
	}
	resultCh := make(chan result, 1)

	go func() {
		entries, err := g.GetFaultLog(context.Background(), tcs, 0, 1)
		resultCh <- result{entries, err}
	}()

	waitForWrite(t, ft, 1)
	entry0, err := ParseLine("045 RP --- 01:158182 --:------ 18:000001 0418 004 00000004", now)
	if err != nil {
		t.Fatalf("ParseLine(entry0): %v", err)
	}
	g.dispatch(entry0)

	// Never reply to the RQ for index 1: AsyncSendCmd exhausts its
	// retries naturally, ending the walk without an error.
	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("GetFaultLog: %v", res.err)
		}
		if len(res.entries) != 1 {
			t.Fatalf("expected exactly 1 entry, got %d: %+v", len(res.entries), res.entries)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for GetFaultLog to return")
	}
}
