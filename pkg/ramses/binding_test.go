// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"testing"
	"time"
)

// TestBindingHandshakeRoundTrip covers §8 scenario S2: a Supplicant and a
// Respondent drive each other through Offer -> Accept -> Confirm -> Ratify
// and both end Bound.
func TestBindingHandshakeRoundTrip(t *testing.T) {
	devA := ID{Type: 13, Serial: 1}
	devB := ID{Type: 1, Serial: 2}
	now := time.Now()

	sup := NewBindContext(devA)
	resp := NewBindContext(devB)

	offerPhrases := []BindingPhrase{{DomainIdx: "00", Code: Code2309, Device: devA}}
	action, err := sup.InitiateBinding(offerPhrases, SchemeDefault, now)
	if err != nil {
		t.Fatalf("InitiateBinding: %v", err)
	}
	if sup.State != BindSentOffer || action.Send == nil {
		t.Fatalf("expected SentOffer with an outbound offer, got state=%v action=%+v", sup.State, action)
	}

	if err := resp.Listen(now); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if resp.State != BindListening {
		t.Fatalf("expected Listening, got %v", resp.State)
	}

	acceptAction := resp.OnPacket(*action.Send, now.Add(time.Millisecond))
	if resp.State != BindSentAccept || acceptAction.Send == nil {
		t.Fatalf("expected SentAccept with an outbound accept, got state=%v", resp.State)
	}
	if resp.Peer != devA {
		t.Fatalf("expected respondent to learn peer %v, got %v", devA, resp.Peer)
	}

	confirmAction := sup.OnPacket(*acceptAction.Send, now.Add(2*time.Millisecond))
	if sup.State != BindSentConfirm || confirmAction.Send == nil {
		t.Fatalf("expected SentConfirm with an outbound confirm, got state=%v", sup.State)
	}
	if sup.Peer != devB {
		t.Fatalf("expected supplicant to learn peer %v, got %v", devB, sup.Peer)
	}

	// The respondent overhears the confirm addressed to it.
	noAction := resp.OnPacket(*confirmAction.Send, now.Add(3*time.Millisecond))
	if resp.State != BindGotConfirm || noAction.Send != nil {
		t.Fatalf("expected GotConfirm with no send, got state=%v action=%+v", resp.State, noAction)
	}

	// The supplicant overhears its own confirm echoed back on the bus.
	supDone := sup.OnPacket(*confirmAction.Send, now.Add(3*time.Millisecond))
	if sup.State != BindBound || !supDone.Done {
		t.Fatalf("expected supplicant Bound, got state=%v action=%+v", sup.State, supDone)
	}

	ratify := NewPacket(now.Add(4*time.Millisecond), VerbI, devA, devA, devB, Code10E0, []byte{0x00})
	respRatified := resp.OnPacket(ratify, now.Add(4*time.Millisecond))
	if resp.State != BindBoundAccepted || respRatified.Send != nil {
		t.Fatalf("expected BoundAccepted after ratify, got state=%v", resp.State)
	}

	final := resp.Tick(now.Add(4*time.Millisecond).Add(resp.BoundAcceptedTimeout).Add(time.Millisecond))
	if resp.State != BindBound || !final.Done {
		t.Fatalf("expected respondent Bound after BoundAccepted timeout, got state=%v action=%+v", resp.State, final)
	}
}

// TestBindingSupplicantRetriesThenFails covers §8 scenario S3: a
// Supplicant that never receives an Accept retransmits up to the retry
// limit, then fails.
func TestBindingSupplicantRetriesThenFails(t *testing.T) {
	dev := ID{Type: 13, Serial: 99}
	now := time.Now()
	sup := NewBindContext(dev)
	sup.OfferAcceptRetryLimit = 2

	action, err := sup.InitiateBinding([]BindingPhrase{{DomainIdx: "00", Code: Code2309, Device: dev}}, SchemeDefault, now)
	if err != nil {
		t.Fatalf("InitiateBinding: %v", err)
	}
	deadline := now.Add(sup.WaitForAccept)

	for i := 0; i < sup.OfferAcceptRetryLimit; i++ {
		next := sup.Tick(deadline.Add(time.Millisecond))
		if sup.State != BindSentOffer || next.Send == nil {
			t.Fatalf("retry %d: expected a retransmitted offer, got state=%v", i, next)
		}
		deadline = deadline.Add(sup.WaitForAccept)
	}

	final := sup.Tick(deadline.Add(time.Millisecond))
	if sup.State != BindFailed || !final.Done || final.Err == nil {
		t.Fatalf("expected Failed with an error after exhausting retries, got state=%v action=%+v", sup.State, final)
	}
	if _, ok := final.Err.(*BindingFlowFailedError); !ok {
		t.Fatalf("expected BindingFlowFailedError, got %T", final.Err)
	}
	_ = action
}

// TestBindingRespondentTimesOutWithNoOffer covers the Listening ->
// Failed timeout path directly (no Offer ever arrives).
func TestBindingRespondentTimesOutWithNoOffer(t *testing.T) {
	dev := ID{Type: 1, Serial: 3}
	now := time.Now()
	resp := NewBindContext(dev)
	if err := resp.Listen(now); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	action := resp.Tick(now.Add(resp.WaitForOffer).Add(time.Millisecond))
	if resp.State != BindFailed || !action.Done || action.Err == nil {
		t.Fatalf("expected Failed on offer timeout, got state=%v action=%+v", resp.State, action)
	}
}

// TestBindContextRejectsConcurrentInitiate covers §4.4's one-active-
// context-per-device concurrency rule.
func TestBindContextRejectsConcurrentInitiate(t *testing.T) {
	dev := ID{Type: 13, Serial: 1}
	now := time.Now()
	b := NewBindContext(dev)
	if _, err := b.InitiateBinding(nil, SchemeDefault, now); err != nil {
		t.Fatalf("first InitiateBinding: %v", err)
	}
	if _, err := b.InitiateBinding(nil, SchemeDefault, now); err == nil {
		t.Fatal("expected second InitiateBinding while already binding to fail")
	}
}

func TestOrconOfferTargetsNullAddress(t *testing.T) {
	dev := ID{Type: 13, Serial: 1}
	now := time.Now()
	b := NewBindContext(dev)
	action, err := b.InitiateBinding([]BindingPhrase{{DomainIdx: "00", Code: Code2309, Device: dev}}, SchemeOrcon, now)
	if err != nil {
		t.Fatalf("InitiateBinding: %v", err)
	}
	if action.Send.Dst != NullID {
		t.Fatalf("expected orcon offer to target the null address, got %v", action.Send.Dst)
	}
}
