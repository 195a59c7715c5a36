// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScheduleLockTimeout bounds how long GetSchedule/GetFaultLog will wait to
// obtain their TCS's schedule lock before giving up (§5 Suspension
// points, §7's "Schedule lock timeout (3 min)" row).
const ScheduleLockTimeout = 3 * time.Minute

// faultLogLockIdx is the pseudo zone_idx GetFaultLog locks under: §5 says
// cancelling get_faultlog releases "its TCS-level lock" alongside
// get_schedule, so the two share one per-TCS lock keyed by a reserved idx
// no real zone can carry.
const faultLogLockIdx = "HW-faultlog"

// scheduleLock is the per-TCS mutex guarding concurrent GetSchedule/
// GetFaultLog calls. Grounded on original_source's
// system/heat.py ScheduleSync._obtain_lock/_release_lock: "a mutex with
// explicit obtain_lock(zone_idx)/release_lock() calls; reentrant only for
// the same zone_idx" (§5). Re-expressed as a depth-counted mutex with a
// polling deadline rather than the original's busy-polled asyncio.Lock
// pair, since Go has no cooperative-yield equivalent to lean on.
type scheduleLock struct {
	mu      sync.Mutex
	zoneIdx string
	depth   int
}

func (l *scheduleLock) obtain(ctx context.Context, tcs ID, zoneIdx string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		l.mu.Lock()
		if l.zoneIdx == "" || l.zoneIdx == zoneIdx {
			l.zoneIdx = zoneIdx
			l.depth++
			l.mu.Unlock()
			return nil
		}
		held := l.zoneIdx
		l.mu.Unlock()

		if !time.Now().Before(deadline) {
			return &ScheduleFsmError{TCS: tcs, Reason: fmt.Sprintf("unable to obtain lock for zone %s (used by %s)", zoneIdx, held)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *scheduleLock) release(tcs ID, zoneIdx string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.zoneIdx != zoneIdx || l.depth == 0 {
		return &ScheduleFsmError{TCS: tcs, Reason: fmt.Sprintf("release of zone %s, but lock is held by %q", zoneIdx, l.zoneIdx)}
	}
	l.depth--
	if l.depth == 0 {
		l.zoneIdx = ""
	}
	return nil
}

func (g *Gateway) scheduleLockFor(tcs ID) *scheduleLock {
	g.scheduleLocksMu.Lock()
	defer g.scheduleLocksMu.Unlock()
	l, ok := g.scheduleLocks[tcs]
	if !ok {
		l = &scheduleLock{}
		g.scheduleLocks[tcs] = l
	}
	return l
}

// GetSchedule retrieves and reassembles zoneIdx's weekly schedule from
// tcs, RQing 0404 fragments one at a time under the TCS's schedule lock
// (§4.7, §5). Cancelling ctx aborts the RQ loop and releases the lock
// before returning, matching §5 Cancellation's "cancelling a get_schedule
// ... releases its TCS-level lock". Grounded on original_source's
// system/schedule.py Schedule._get_schedule/get_fragment.
func (g *Gateway) GetSchedule(ctx context.Context, tcs ID, zoneIdx string) ([]byte, error) {
	lock := g.scheduleLockFor(tcs)
	if err := lock.obtain(ctx, tcs, zoneIdx, ScheduleLockTimeout); err != nil {
		return nil, err
	}
	defer lock.release(tcs, zoneIdx)

	zb, err := zoneIdxByte(zoneIdx)
	if err != nil {
		return nil, err
	}

	first, err := g.requestFirstScheduleFragment(ctx, tcs, zb)
	if err != nil {
		return nil, err
	}
	fragments := []ScheduleFragment{*first}
	for n := first.FragNumber + 1; n <= first.FragTotal; n++ {
		frag, err := g.requestScheduleFragment(ctx, tcs, zb, n, first.FragTotal)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, *frag)
	}
	return ReassembleSchedule(tcs, fragments)
}

// requestFirstScheduleFragment RQs fragment 1 with an unknown fragment
// total (§4.7's initial "frag_set_size = 0"), so the reply's header ctx
// (which embeds the controller-chosen total) can't be predicted; it is
// matched by predicate instead of AsyncSendCmd's exact-header waiter.
func (g *Gateway) requestFirstScheduleFragment(ctx context.Context, tcs ID, zb byte) (*ScheduleFragment, error) {
	cmd := Command{Verb: VerbRQ, Src: g.SelfID, Dst: tcs, Code: Code0404, Payload: []byte{zb, 0x00, 0x01}}
	if err := g.transmit(cmd.Packet(time.Now())); err != nil {
		return nil, &ProtocolSendFailedError{Header: fmt.Sprintf("%s|RQ|%s", Code0404, tcs), Reason: err.Error()}
	}
	match := func(p Packet) bool {
		return p.Code == Code0404 && p.Verb == VerbRP && p.Src == tcs && len(p.Payload) >= 3 && p.Payload[0] == zb
	}
	pkt, err := g.waitForPacket(ctx, match, DefaultWaitForAccept)
	if err != nil {
		return nil, err
	}
	payload, err := parseScheduleFragment(pkt.Payload)
	if err != nil {
		return nil, err
	}
	frag := payload.(ScheduleFragment)
	return &frag, nil
}

func (g *Gateway) requestScheduleFragment(ctx context.Context, tcs ID, zb byte, fragNumber, fragTotal int) (*ScheduleFragment, error) {
	cmd := Command{Verb: VerbRQ, Src: g.SelfID, Dst: tcs, Code: Code0404, Payload: []byte{zb, byte(fragTotal), byte(fragNumber)}}
	respHeader := fmt.Sprintf("%s|%s|%s|%02X%02X", Code0404, VerbRP, tcs, zb, byte(fragTotal))
	reply, err := g.AsyncSendCmd(ctx, cmd, respHeader, DefaultConfirmRetryLimit, DefaultWaitForAccept, true)
	if err != nil {
		return nil, err
	}
	payload, err := parseScheduleFragment(reply.Payload)
	if err != nil {
		return nil, err
	}
	frag := payload.(ScheduleFragment)
	return &frag, nil
}

// GetFaultLog retrieves tcs's fault-log entries at log indices start
// through limit (both inclusive), RQing one entry at a time under the TCS's schedule
// lock. The controller's ring buffer is fixed-size (§3), so a timed-out
// RQ past its last populated slot ends the walk rather than erroring the
// whole call. Grounded on original_source's system/faultlog.py
// FaultLog.get_faultlog/_rq_log_entry.
func (g *Gateway) GetFaultLog(ctx context.Context, tcs ID, start, limit int) ([]FaultLogEntry, error) {
	lock := g.scheduleLockFor(tcs)
	if err := lock.obtain(ctx, tcs, faultLogLockIdx, ScheduleLockTimeout); err != nil {
		return nil, err
	}
	defer lock.release(tcs, faultLogLockIdx)

	entries := make([]FaultLogEntry, 0, limit)
	for idx := start; idx <= limit; idx++ {
		cmd := Command{Verb: VerbRQ, Src: g.SelfID, Dst: tcs, Code: Code0418, Payload: []byte{0x00, byte(idx)}}
		respHeader := fmt.Sprintf("%s|%s|%s|%02X", Code0418, VerbRP, tcs, byte(idx))
		reply, err := g.AsyncSendCmd(ctx, cmd, respHeader, DefaultConfirmRetryLimit, DefaultWaitForAccept, true)
		if err != nil {
			if ctx.Err() != nil {
				return entries, err
			}
			break
		}
		payload, err := parseFaultLogEntry(reply.Payload)
		if err != nil {
			return entries, err
		}
		entries = append(entries, payload.(FaultLogEntry))
	}
	return entries, nil
}
