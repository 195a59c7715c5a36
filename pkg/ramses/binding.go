// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "time"

// BindRole is which side of the 1FC9 handshake a context plays (§4.4).
type BindRole int

const (
	BindRoleNone BindRole = iota
	BindRoleSupplicant
	BindRoleRespondent
)

// BindState is a binding context's FSM state. Re-expressed per the Design
// Notes as a pure state enum rather than per-state coroutine futures: the
// Gateway calls OnPacket for each routed packet and Tick for timer
// expiry, and carries out the BindAction each call returns.
type BindState int

const (
	BindIdle BindState = iota
	BindListening
	BindSentOffer
	BindGotOffer
	BindSentAccept
	BindGotConfirm
	BindSentConfirm
	BindBoundAccepted
	BindBound
	BindFailed
)

func (s BindState) String() string {
	switch s {
	case BindListening:
		return "Listening"
	case BindSentOffer:
		return "SentOffer"
	case BindGotOffer:
		return "GotOffer"
	case BindSentAccept:
		return "SentAccept"
	case BindGotConfirm:
		return "GotConfirm"
	case BindSentConfirm:
		return "SentConfirm"
	case BindBoundAccepted:
		return "BoundAccepted"
	case BindBound:
		return "Bound"
	case BindFailed:
		return "Failed"
	default:
		return "Idle"
	}
}

// BindPhase classifies an observed 1FC9/10E0 frame, the single source of
// truth the FSM uses to decide how to advance (§4.4).
type BindPhase int

const (
	PhaseNone BindPhase = iota
	PhaseTender
	PhaseAccept
	PhaseAffirm
	PhaseRatify
)

// ClassifyPhase applies §4.4's phase rules to an observed packet.
func ClassifyPhase(p Packet) BindPhase {
	switch {
	case p.Code == Code1FC9 && p.Verb == VerbI && (p.Dst == p.Src || p.Dst.IsNull() || p.Dst.IsNone() || p.Dst.IsBroadcast()):
		return PhaseTender
	case p.Code == Code1FC9 && p.Verb == VerbW && p.Dst != p.Src:
		return PhaseAccept
	case p.Code == Code1FC9 && p.Verb == VerbI && p.Dst != p.Src && !p.Dst.IsNull() && !p.Dst.IsNone() && !p.Dst.IsBroadcast():
		return PhaseAffirm
	case p.Code == Code10E0 && p.Verb == VerbI:
		return PhaseRatify
	default:
		return PhaseNone
	}
}

// Binding timing and retry defaults (§4.4), all overridable per context
// (e.g. tests raising wait-for-offer to 300s).
const (
	DefaultWaitForOffer         = 3 * time.Second
	DefaultWaitForAccept        = 3 * time.Second
	DefaultWaitForConfirm       = 3 * time.Second
	DefaultWaitForAddenda       = 3 * time.Second
	DefaultConfirmRetryLimit    = 3
	DefaultOfferAcceptRetryLimit = 3
	DefaultBoundAcceptedTimeout = 3 * time.Second
)

// BindAction is what the caller (Gateway) must do in response to a
// BindContext transition: transmit a packet and/or note that the context
// reached a terminal state.
type BindAction struct {
	Send *Packet
	Done bool  // state is now Bound or Failed
	Err  error // non-nil only when Done && state == Failed
}

// BindContext is a device's binding-handshake participant state (§4.4).
// Each device has at most one active context (§4.4 Concurrency).
type BindContext struct {
	Device ID
	Role   BindRole
	State  BindState
	Scheme VendorScheme
	Peer   ID

	ownPhrases  []BindingPhrase
	peerPhrases []BindingPhrase

	deadline       time.Time
	retries        int
	confirmRetries int

	WaitForOffer          time.Duration
	WaitForAccept         time.Duration
	WaitForConfirm        time.Duration
	WaitForAddenda        time.Duration
	ConfirmRetryLimit     int
	OfferAcceptRetryLimit int
	BoundAcceptedTimeout  time.Duration
}

// NewBindContext returns an idle context for dev with §4.4's default
// timing parameters.
func NewBindContext(dev ID) *BindContext {
	return &BindContext{
		Device:                dev,
		State:                 BindIdle,
		WaitForOffer:          DefaultWaitForOffer,
		WaitForAccept:         DefaultWaitForAccept,
		WaitForConfirm:        DefaultWaitForConfirm,
		WaitForAddenda:        DefaultWaitForAddenda,
		ConfirmRetryLimit:     DefaultConfirmRetryLimit,
		OfferAcceptRetryLimit: DefaultOfferAcceptRetryLimit,
		BoundAcceptedTimeout:  DefaultBoundAcceptedTimeout,
	}
}

// IsBinding implements §8 property 4: is_binding iff state is not one of
// the idle/terminal states.
func (b *BindContext) IsBinding() bool {
	switch b.State {
	case BindIdle, BindBound, BindBoundAccepted, BindFailed:
		return false
	default:
		return true
	}
}

// InitiateBinding starts the Supplicant path: Idle -> SentOffer. A new
// binding may only be initiated from a terminal state (§3 Lifecycles).
func (b *BindContext) InitiateBinding(phrases []BindingPhrase, scheme VendorScheme, now time.Time) (BindAction, error) {
	if b.IsBinding() {
		return BindAction{}, &BindingFsmError{Device: b.Device, Reason: "binding already in progress"}
	}
	b.Role = BindRoleSupplicant
	b.Scheme = scheme
	b.ownPhrases = phrases
	b.State = BindSentOffer
	b.retries = 0
	b.deadline = now.Add(b.WaitForAccept)
	pkt := b.buildOffer(now)
	return BindAction{Send: &pkt}, nil
}

// Listen starts the Respondent path: Idle -> Listening.
func (b *BindContext) Listen(now time.Time) error {
	if b.IsBinding() {
		return &BindingFsmError{Device: b.Device, Reason: "binding already in progress"}
	}
	b.Role = BindRoleRespondent
	b.State = BindListening
	b.deadline = now.Add(b.WaitForOffer)
	return nil
}

func (b *BindContext) buildOffer(now time.Time) Packet {
	payload := EncodeBindingPayload(b.ownPhrases, b.Scheme)
	dst := b.Scheme.OfferDestination()
	return NewPacket(now, VerbI, b.Device, b.Device, dst, Code1FC9, payload)
}

func (b *BindContext) buildAccept(now time.Time) Packet {
	payload := EncodeBindingPayload(b.ownPhrases, b.Scheme)
	return NewPacket(now, VerbW, b.Device, b.Device, b.Peer, Code1FC9, payload)
}

func (b *BindContext) buildConfirm(now time.Time) Packet {
	payload := EncodeBindingPayload(b.ownPhrases, b.Scheme)
	return NewPacket(now, VerbI, b.Device, b.Device, b.Peer, Code1FC9, payload)
}

// OnPacket advances the FSM with an observed packet already known to
// concern this context's handshake (the caller is responsible for
// routing only packets naming this device, broadcast offers while
// Listening, or this device's own echoed transmissions).
func (b *BindContext) OnPacket(p Packet, now time.Time) BindAction {
	phase := ClassifyPhase(p)
	if phase == PhaseNone {
		return BindAction{}
	}

	switch b.State {
	case BindSentOffer:
		if phase == PhaseAccept && p.Dst == b.Device {
			b.Peer = p.Src
			b.peerPhrases = extractPhrases(p)
			b.State = BindSentConfirm
			b.confirmRetries = 0
			b.deadline = now.Add(b.WaitForConfirm)
			pkt := b.buildConfirm(now)
			return BindAction{Send: &pkt}
		}

	case BindListening:
		if phase == PhaseTender {
			b.Peer = p.Src
			b.peerPhrases = extractPhrases(p)
			b.State = BindSentAccept
			b.deadline = now.Add(b.WaitForConfirm)
			pkt := b.buildAccept(now)
			return BindAction{Send: &pkt}
		}

	case BindSentAccept:
		if phase == PhaseAffirm && p.Src == b.Peer && p.Dst == b.Device {
			b.State = BindGotConfirm
			b.deadline = now.Add(b.WaitForAddenda)
			return BindAction{}
		}

	case BindGotConfirm:
		if phase == PhaseRatify && p.Src == b.Peer {
			b.State = BindBoundAccepted
			b.deadline = now.Add(b.BoundAcceptedTimeout)
			return BindAction{}
		}

	case BindSentConfirm:
		if phase == PhaseAffirm && p.Src == b.Device && p.Dst == b.Peer {
			b.State = BindBound
			return BindAction{Done: true}
		}
	}
	return BindAction{}
}

// extractPhrases pulls the []BindingPhrase out of an already-parsed 1FC9
// Message's payload; the caller passes the raw Packet here so OnPacket
// re-parses it (cheap: 1FC9 payloads are a handful of bytes).
func extractPhrases(p Packet) []BindingPhrase {
	payload, err := parseBindingPayload(p.Payload)
	if err != nil {
		return nil
	}
	bp, ok := payload.(BindingPayload)
	if !ok {
		return nil
	}
	return bp.Phrases
}

// Tick advances timers: retransmission on a still-pending wait, the
// optional-addenda timeout, and the BoundAccepted -> Bound auto-timeout.
// The caller invokes this periodically (e.g. from the discovery
// scheduler's tick) for every device with an active binding context.
func (b *BindContext) Tick(now time.Time) BindAction {
	if b.deadline.IsZero() || now.Before(b.deadline) {
		return BindAction{}
	}

	switch b.State {
	case BindListening:
		b.State = BindFailed
		return BindAction{Done: true, Err: &BindingFlowFailedError{Device: b.Device, Phase: "Listening", Reason: "no offer received"}}

	case BindSentOffer:
		if b.retries < b.OfferAcceptRetryLimit {
			b.retries++
			b.deadline = now.Add(b.WaitForAccept)
			pkt := b.buildOffer(now)
			return BindAction{Send: &pkt}
		}
		b.State = BindFailed
		return BindAction{Done: true, Err: &BindingFlowFailedError{Device: b.Device, Phase: "SentOffer", Reason: "no accept received"}}

	case BindSentAccept:
		if b.retries < b.OfferAcceptRetryLimit {
			b.retries++
			b.deadline = now.Add(b.WaitForConfirm)
			pkt := b.buildAccept(now)
			return BindAction{Send: &pkt}
		}
		b.State = BindFailed
		return BindAction{Done: true, Err: &BindingFlowFailedError{Device: b.Device, Phase: "SentAccept", Reason: "no confirm received"}}

	case BindSentConfirm:
		if b.confirmRetries < b.ConfirmRetryLimit {
			b.confirmRetries++
			b.deadline = now.Add(b.WaitForConfirm)
			pkt := b.buildConfirm(now)
			return BindAction{Send: &pkt}
		}
		b.State = BindFailed
		return BindAction{Done: true, Err: &BindingFlowFailedError{Device: b.Device, Phase: "SentConfirm", Reason: "no confirm echo observed"}}

	case BindGotConfirm:
		// Addenda is optional (§4.4): time out straight into BoundAccepted.
		b.State = BindBoundAccepted
		b.deadline = now.Add(b.BoundAcceptedTimeout)
		return BindAction{}

	case BindBoundAccepted:
		b.State = BindBound
		b.deadline = time.Time{}
		return BindAction{Done: true}
	}
	return BindAction{}
}
