// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "time"

// MessageIndex is a per-entity, deduplicated message store keyed by
// (code, verb, ctx), per §4.2. Every Entity owns one.
//
// byCode holds the latest I-or-RP message per code (fast attribute
// access); byCodeVerbCtx retains one message per distinct (verb, ctx)
// pair so every fault-log index, every zone idx, etc. survives
// independently.
type MessageIndex struct {
	byCode        map[Code]Message
	byCodeVerbCtx map[Code]map[Verb]map[string]Message
	byHeader      map[string]Message // same messages as byCodeVerbCtx, keyed for O(1) Lookup
}

// NewMessageIndex returns an empty index.
func NewMessageIndex() *MessageIndex {
	return &MessageIndex{
		byCode:        make(map[Code]Message),
		byCodeVerbCtx: make(map[Code]map[Verb]map[string]Message),
		byHeader:      make(map[string]Message),
	}
}

// Insert is idempotent: re-inserting a message with the same header
// overwrites the prior one, and is a no-op if the incoming message is
// older than the stored one (timestamp-monotonic within a context; an
// equal timestamp overwrites).
func (idx *MessageIndex) Insert(m Message) {
	code, verb, ctx := m.Packet.Code, m.Packet.Verb, m.Packet.Ctx()

	verbs, ok := idx.byCodeVerbCtx[code]
	if !ok {
		verbs = make(map[Verb]map[string]Message)
		idx.byCodeVerbCtx[code] = verbs
	}
	ctxs, ok := verbs[verb]
	if !ok {
		ctxs = make(map[string]Message)
		verbs[verb] = ctxs
	}
	key := ctx.String()
	if existing, ok := ctxs[key]; ok && existing.Packet.DTM.After(m.Packet.DTM) {
		return // stale, out-of-order arrival: keep the newer one
	}
	ctxs[key] = m
	idx.byHeader[m.Header()] = m

	if verb == VerbI || verb == VerbRP {
		if existing, ok := idx.byCode[code]; !ok || !existing.Packet.DTM.After(m.Packet.DTM) {
			idx.byCode[code] = m
		}
	}
}

// Lookup returns the message whose derived header matches, if any.
func (idx *MessageIndex) Lookup(header string) (Message, bool) {
	m, ok := idx.byHeader[header]
	return m, ok
}

// ByCode returns the latest I-or-RP message for a code, if one exists and
// has not expired as of now.
func (idx *MessageIndex) ByCode(code Code, now time.Time) (Message, bool) {
	m, ok := idx.byCode[code]
	if !ok || m.Expired(now) {
		return Message{}, false
	}
	return m, true
}

// IterAll yields every retained message across all (code, verb, ctx)
// triples, in unspecified order.
func (idx *MessageIndex) IterAll() []Message {
	out := make([]Message, 0)
	for _, verbs := range idx.byCodeVerbCtx {
		for _, ctxs := range verbs {
			for _, m := range ctxs {
				out = append(out, m)
			}
		}
	}
	return out
}

// EvictExpired removes every message older than its retention window as
// of now, from every internal map.
func (idx *MessageIndex) EvictExpired(now time.Time) int {
	evicted := 0
	for code, verbs := range idx.byCodeVerbCtx {
		for verb, ctxs := range verbs {
			for key, m := range ctxs {
				if m.Expired(now) {
					delete(ctxs, key)
					delete(idx.byHeader, m.Header())
					evicted++
				}
			}
			if len(ctxs) == 0 {
				delete(verbs, verb)
			}
		}
		if len(verbs) == 0 {
			delete(idx.byCodeVerbCtx, code)
		}
	}
	for code, m := range idx.byCode {
		if m.Expired(now) {
			delete(idx.byCode, code)
		}
	}
	return evicted
}
