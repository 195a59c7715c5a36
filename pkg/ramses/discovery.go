// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"math/rand"
	"time"
)

// Discovery scheduler constants (§4.5).
const (
	MinCycleFloor  = 3 * time.Second  // "min cycle": lower bound on interval
	MaxCycleFloor  = 30 * time.Second // "max cycle": lower bound on interval
	ThrottleCycle  = 24 * time.Hour   // cap reached after >5 consecutive failures
)

// QoS is the retry/timeout block a Command carries; a discovery
// registration's default per-attempt timeout is retry-limit * reply
// timeout (§4.5).
type QoS struct {
	RetryLimit   int
	ReplyTimeout time.Duration
}

func (q QoS) defaultTimeout() time.Duration {
	if q.RetryLimit <= 0 || q.ReplyTimeout <= 0 {
		return DefaultWaitForAccept
	}
	return time.Duration(q.RetryLimit) * q.ReplyTimeout
}

// Command is an outbound frame description: verb/dst/code/payload plus
// the QoS governing its retries, and a send priority (§4.6).
type Command struct {
	Verb     Verb
	Src      ID
	Dst      ID
	Code     Code
	Payload  []byte
	QoS      QoS
	Priority int
}

// Packet renders the command as a Packet ready for transmission.
func (c Command) Packet(now time.Time) Packet {
	return NewPacket(now, c.Verb, c.Src, c.Src, c.Dst, c.Code, c.Payload)
}

// DiscoveryRegistration is one entity's periodic command (§4.5).
type DiscoveryRegistration struct {
	Cmd            Command
	ResponseHeader string // header key the scheduler watches for a fresher reply
	Interval       time.Duration
	MinCycle       time.Duration
	Delay          time.Duration
	Timeout        time.Duration

	nextDue                time.Time
	lastMsgAt               time.Time
	failures                int
	deprecated              bool
	consecutiveOTUnsupported int
}

// NewDiscoveryRegistration clamps interval/min-cycle to §4.5's floors and
// applies the 0.05-0.45s initial-delay jitter on top of the caller's
// requested delay.
func NewDiscoveryRegistration(cmd Command, responseHeader string, interval time.Duration, delay time.Duration, now time.Time) *DiscoveryRegistration {
	if interval < MaxCycleFloor {
		interval = MaxCycleFloor
	}
	timeout := cmd.QoS.defaultTimeout()
	jitter := time.Duration(50+rand.Intn(401)) * time.Millisecond
	r := &DiscoveryRegistration{
		Cmd:            cmd,
		ResponseHeader: responseHeader,
		Interval:       interval,
		MinCycle:       MinCycleFloor,
		Delay:          delay + jitter,
		Timeout:        timeout,
	}
	r.nextDue = now.Add(r.Delay)
	return r
}

// RecordTimeout applies §4.5's backoff ladder after a send attempt got no
// reply: 1-2 failures -> min cycle, 3-5 -> max cycle (Interval), >5 -> 24h
// (the registration is "throttled").
func (r *DiscoveryRegistration) RecordTimeout(now time.Time) {
	r.failures++
	switch {
	case r.failures <= 2:
		r.nextDue = now.Add(r.MinCycle)
	case r.failures <= 5:
		r.nextDue = now.Add(r.Interval)
	default:
		r.nextDue = now.Add(ThrottleCycle)
	}
}

// Throttled reports whether backoff has reached the 24h ceiling (§8
// boundary: "Discovery backoff caps at 24h after >5 consecutive
// failures").
func (r *DiscoveryRegistration) Throttled() bool { return r.failures > 5 }

// NoteReply implements tick rule 1 (§4.5): a fresher message for the
// registration's response header has arrived since the last send, so
// next_due advances to received_at+interval and failures resets.
func (r *DiscoveryRegistration) NoteReply(receivedAt time.Time) {
	if !receivedAt.After(r.lastMsgAt) {
		return
	}
	r.lastMsgAt = receivedAt
	r.nextDue = receivedAt.Add(r.Interval)
	r.failures = 0
}

// Due reports whether, per tick rule 2, next_due <= now and the
// registration is not deprecated.
func (r *DiscoveryRegistration) Due(now time.Time) bool {
	return !r.deprecated && !r.nextDue.After(now)
}

// Deprecate permanently skips the registration (no I/O) until Reset.
func (r *DiscoveryRegistration) Deprecate() { r.deprecated = true }

// Reset clears deprecation and failure state, e.g. when a later reply
// shows the endpoint now supports the command (§4.5).
func (r *DiscoveryRegistration) Reset() {
	r.deprecated = false
	r.failures = 0
	r.consecutiveOTUnsupported = 0
}

// Deprecated reports whether this registration is currently skipped.
func (r *DiscoveryRegistration) Deprecated() bool { return r.deprecated }

// ObserveOpenThermReply implements §4.5's OpenTherm deprecation rule: two
// consecutive DATA_INVALID/UNKNOWN_DATAID replies permanently deprecate
// the header; any other reply resets the counter and un-deprecates.
func (r *DiscoveryRegistration) ObserveOpenThermReply(msg OpenThermMessage) {
	if msg.IsUnsupported() {
		r.consecutiveOTUnsupported++
		if r.consecutiveOTUnsupported >= 2 {
			r.Deprecate()
		}
		return
	}
	r.Reset()
}

// Scheduler owns every entity's discovery registrations and drives their
// ticks (§4.5). It performs no I/O itself; Gateway.Tick reads Due() and
// sends via its transport.
type Scheduler struct {
	regs []*DiscoveryRegistration
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler { return &Scheduler{} }

// Register adds a registration to the scheduler.
func (s *Scheduler) Register(r *DiscoveryRegistration) { s.regs = append(s.regs, r) }

// NoteReply forwards a freshly received message's header/timestamp to
// every registration watching it.
func (s *Scheduler) NoteReply(header string, receivedAt time.Time) {
	for _, r := range s.regs {
		if r.ResponseHeader == header {
			r.NoteReply(receivedAt)
		}
	}
}

// Due returns every registration ready to send as of now.
func (s *Scheduler) Due(now time.Time) []*DiscoveryRegistration {
	out := make([]*DiscoveryRegistration, 0)
	for _, r := range s.regs {
		if r.Due(now) {
			out = append(out, r)
		}
	}
	return out
}
