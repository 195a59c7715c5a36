// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "time"

// eavesdropSlack is the single documented constant resolving spec.md §9's
// open question on the 1F09-bounded 30C9 eavesdropping window: a 30C9
// array cycle is considered complete within the most recently observed
// 1F09 sync-cycle length plus this much slack.
const eavesdropSlack = 5 * time.Second

// defaultSyncCycle is used when no 1F09 message has yet been seen for a
// TCS, so eavesdropping still has a window to compare timestamps against.
const defaultSyncCycle = 60 * time.Second

// hvacVerbCodeTable maps (verb, code) evidence to the HVAC role it
// implies (§4.3 promotion priority, step 4). Entries are checked in the
// order declared here is irrelevant: each (verb, code) pair names exactly
// one slug.
var hvacVerbCodeTable = map[verbCode]Slug{
	{VerbI, Code1298}:  SlugCO2,
	{VerbI, Code12A0}:  SlugHUM,
	{VerbI, Code31E0}:  SlugHUM,
	{VerbI, Code22F1}:  SlugREM,
	{VerbI, Code22F3}:  SlugREM,
	{VerbRP, Code31DA}: SlugFAN,
	{VerbI, Code31D9}:  SlugFAN,
}

type verbCode struct {
	Verb Verb
	Code Code
}

// promoteSlug resolves the best role for dev given a fresh (verb, code)
// observation, in the priority order of §4.3:
//  1. explicit schema class (handled by the caller before promotion is
//     even considered: a schema-declared device is never promotable)
//  2. type 18 -> HGI
//  3. heat address-type table
//  4. HVAC verb/code table
//  5. default: generic HVC
//
// Cross-domain promotion (Heat<->HVAC) is forbidden; promoteSlug never
// returns a slug whose domain differs from dev's already-known domain,
// if any.
func promoteSlug(dev *Device, v Verb, c Code) (Slug, bool) {
	if !IsPromotable(dev.Slug) {
		return dev.Slug, false
	}

	currentDomain := SlugDomain(dev.Slug)

	if dev.ID.Type == 18 {
		return applyDomainGuard(dev.Slug, SlugHGI, currentDomain)
	}
	if s := DefaultSlugOf(dev.ID.Type); s != SlugGeneric {
		return applyDomainGuard(dev.Slug, s, currentDomain)
	}
	if s, ok := hvacVerbCodeTable[verbCode{v, c}]; ok {
		return applyDomainGuard(dev.Slug, s, currentDomain)
	}
	return applyDomainGuard(dev.Slug, SlugHVC, currentDomain)
}

// applyDomainGuard forbids a promotion that would cross domains, per
// §4.3: "Cross-domain promotion (Heat<->HVAC) is forbidden."
func applyDomainGuard(from, to Slug, fromDomain Domain) (Slug, bool) {
	toDomain := SlugDomain(to)
	if fromDomain != DomainUnknown && toDomain != DomainUnknown && fromDomain != toDomain {
		return from, false
	}
	if to == from {
		return from, false
	}
	return to, true
}

// eavesdropCycleWindow returns how long to consider a 30C9 array cycle
// "in progress" given the TCS's most recently observed 1F09 remaining
// time, per §4.3's "bounded by the 1F09 cycle length plus 5s slack" rule.
func eavesdropCycleWindow(sys *System) time.Duration {
	if sys == nil {
		return defaultSyncCycle + eavesdropSlack
	}
	if m, ok := sys.index.ByCode(Code1F09, time.Now()); ok {
		if sc, ok := m.PayloadStruct.(SyncCycle); ok {
			return time.Duration(sc.RemainingSeconds*float64(time.Second)) + eavesdropSlack
		}
	}
	return defaultSyncCycle + eavesdropSlack
}

// eavesdropSample is one temperature observation pending correlation: a
// zone-side 30C9 reading, or a sensor-side single-device reading of the
// same code emitted in the same cycle window.
type eavesdropSample struct {
	seenAt time.Time
	tempC  float64
}

// eavesdropMatchZoneSensors intersects a 30C9 array's zone->temperature
// map against a map of candidate sensor device ids -> their own
// contemporaneous temperature reading, binding any unique match as that
// zone's sensor (§4.3). Candidates outside the cycle window (relative to
// the array's timestamp) are ignored by the caller before this is
// invoked; this function only performs the set intersection and
// uniqueness check.
func eavesdropMatchZoneSensors(zoneTemps map[string]float64, sensorTemps map[ID]float64) map[string]ID {
	byTemp := make(map[float64][]string, len(zoneTemps))
	for idx, t := range zoneTemps {
		byTemp[t] = append(byTemp[t], idx)
	}
	matches := make(map[string]ID)
	for dev, t := range sensorTemps {
		zones, ok := byTemp[t]
		if !ok || len(zones) != 1 {
			continue // ambiguous or no match: not a unique binding
		}
		matches[zones[0]] = dev
	}
	return matches
}
