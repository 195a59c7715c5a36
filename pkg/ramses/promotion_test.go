// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "testing"

func TestZoneClassPromotionMonotone(t *testing.T) {
	if !CanPromoteClass(ZoneClassUnknown, ZoneClassRAD) {
		t.Fatal("unknown -> RAD should be allowed")
	}
	if !CanPromoteClass(ZoneClassELE, ZoneClassVAL) {
		t.Fatal("ELE -> VAL should be allowed")
	}
	if CanPromoteClass(ZoneClassRAD, ZoneClassUnknown) {
		t.Fatal("known -> unknown must never be allowed")
	}
	if CanPromoteClass(ZoneClassVAL, ZoneClassELE) {
		t.Fatal("VAL -> ELE would be a downgrade")
	}
	if CanPromoteClass(ZoneClassRAD, ZoneClassUFH) {
		t.Fatal("RAD -> UFH is not on the permitted-promotion graph")
	}
}

func TestZonePromoteClassRejectsDowngrade(t *testing.T) {
	z := newZone(ZoneKey{TCS: ID{Type: 1, Serial: 1}, Idx: "00"})
	if err := z.PromoteClass(ZoneClassRAD); err != nil {
		t.Fatalf("unexpected error promoting unknown -> RAD: %v", err)
	}
	if err := z.PromoteClass(ZoneClassELE); err == nil {
		t.Fatal("expected SystemSchemaInconsistentError demoting RAD -> ELE")
	}
	if _, ok := z.PromoteClass(ZoneClassELE).(*SystemSchemaInconsistentError); !ok {
		t.Fatalf("expected SystemSchemaInconsistentError, got different type")
	}
}

// TestPromoteGenericDeviceToCo2NoDowngrade covers §8 scenario S4: a
// generic device is promoted to CO2 from an I|1298 observation, and a
// later 31DA observation (fan-domain verb/code) does not regress it.
func TestPromoteGenericDeviceToCo2NoDowngrade(t *testing.T) {
	dev := newDevice(ID{Type: 32, Serial: 155617}, SlugHVC)

	slug, changed := promoteSlug(dev, VerbI, Code1298)
	if !changed || slug != SlugCO2 {
		t.Fatalf("expected promotion to CO2, got %v changed=%v", slug, changed)
	}
	dev.Slug = slug

	// CO2 is no longer promotable, so a later 31DA observation must not
	// move it.
	if IsPromotable(dev.Slug) {
		t.Fatal("CO2 should no longer be promotable")
	}
	_, changed = promoteSlug(dev, VerbI, Code31DA)
	if changed {
		t.Fatal("a resolved role must not be promoted again")
	}
	if dev.Slug != SlugCO2 {
		t.Fatalf("device class regressed: %v", dev.Slug)
	}
}

func TestPromoteForbidsCrossDomain(t *testing.T) {
	dev := newDevice(ID{Type: 0, Serial: 1}, SlugHeat) // already known Heat-domain
	_, changed := promoteSlug(dev, VerbI, Code1298)     // HVAC evidence
	if changed {
		t.Fatal("promotion must not cross from Heat to HVAC domain")
	}
}

func TestPromoteType18AlwaysHGI(t *testing.T) {
	dev := newDevice(ID{Type: 18, Serial: 2563}, SlugGeneric)
	slug, changed := promoteSlug(dev, VerbRQ, Code3EF0)
	if !changed || slug != SlugHGI {
		t.Fatalf("expected HGI promotion, got %v changed=%v", slug, changed)
	}
}

func TestEavesdropMatchUniqueOnly(t *testing.T) {
	zoneTemps := map[string]float64{"00": 20.0, "01": 17.0, "02": 20.0}
	sensorTemps := map[ID]float64{
		{Type: 34, Serial: 1}: 17.0, // unique match -> zone 01
		{Type: 34, Serial: 2}: 20.0, // ambiguous (zones 00 and 02 share it)
	}
	matches := eavesdropMatchZoneSensors(zoneTemps, sensorTemps)
	if len(matches) != 1 {
		t.Fatalf("expected exactly one unique match, got %v", matches)
	}
	if matches["01"] != (ID{Type: 34, Serial: 1}) {
		t.Fatalf("expected zone 01 matched to sensor 34:000001, got %v", matches)
	}
}
