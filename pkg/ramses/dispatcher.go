// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"time"
)

// slugEmitRules restricts which resolved (non-promotable) slugs may
// originate a given code, grounded on the address-type/verb-code tables
// of §4.3. A code absent from this table is left unrestricted: spec.md
// §4.3 step 3 only promises "a small whitelist of historical exceptions"
// on top of a real permission table, but does not enumerate the full
// table; this repo restricts exactly the codes its payload parser (C)
// understands and leaves the rest permissive, a scope decision recorded
// in DESIGN.md.
var slugEmitRules = map[Code][]Slug{
	Code0008: {SlugCTL},
	Code000A: {SlugCTL},
	Code000C: {SlugCTL},
	Code1F09: {SlugCTL},
	Code2309: {SlugCTL},
	Code2E04: {SlugCTL},
	Code10A0: {SlugCTL},
	Code1260: {SlugDHW},
	Code3150: {SlugCTL, SlugTRV, SlugBDR},
	Code12B0: {SlugTRV},
	Code0009:  {SlugTRV, SlugBDR},
	Code3220: {SlugOTB},
	Code3EF0: {SlugBDR, SlugOTB},
	Code3EF1: {SlugBDR, SlugOTB},
}

// validateRole enforces §4.3 step 3: a resolved role not in the code's
// allow-list (and not covered by a historical exception) may not emit
// that (verb, code). Still-promotable slugs (generic/HEA/HVC) and dst-side
// checks are left unrestricted, since a device's receive-side role isn't
// narrowed by the same evidence that narrows its emit-side role.
func validateRole(slug Slug, v Verb, c Code) error {
	if IsRoleException(slug, v, c) {
		return nil
	}
	allowed, restricted := slugEmitRules[c]
	if !restricted || IsPromotable(slug) {
		return nil
	}
	for _, s := range allowed {
		if s == slug {
			return nil
		}
	}
	return &PacketInvalidError{Reason: fmt.Sprintf("role %s not permitted to emit %s|%s", slug, v, c)}
}

// zoneIdxIsDomain reports whether a 000C actuator-binding zoneIdx names a
// domain slot (system appliance control or DHW valves) rather than an
// ordinary zone index (§3).
func zoneIdxIsDomain(idx string) bool {
	switch idx {
	case "FF", "F9", "FA", "FC":
		return true
	default:
		return false
	}
}

// dispatch implements component I (§4.3): create-or-lookup src/dst
// devices under the filter lists, validate role permissions, promote a
// still-generic source, then hand the message to every entity that
// should observe it.
func (g *Gateway) dispatch(pkt Packet) {
	if IsExcludedCode(pkt.Code) {
		return // dev-only fixed-payload code: not parsed or dispatched
	}
	msg, perr := NewMessage(pkt)
	if perr != nil {
		g.Logger.Info().Err(perr).Str("header", pkt.Header()).Msg("payload parse fallback to raw hex")
	}

	src, ok := g.getOrCreateDevice(pkt.Src)
	if !ok {
		return // filtered: not on known_list, or on block_list
	}

	var dst *Device
	if pkt.Dst.IsAddressable() {
		dst, ok = g.getOrCreateDevice(pkt.Dst)
		if !ok {
			dst = nil
		}
	}

	if err := validateRole(src.Slug, pkt.Verb, pkt.Code); err != nil {
		g.Logger.Warn().Err(err).Msg("dropping packet: role violation")
		return
	}

	if IsPromotable(src.Slug) {
		if newSlug, changed := promoteSlug(src, pkt.Verb, pkt.Code); changed {
			g.Logger.Debug().Str("device", src.ID.String()).Str("from", string(src.Slug)).Str("to", string(newSlug)).Msg("promoting device role")
			src.Slug = newSlug
		}
	}

	g.scheduler.NoteReply(pkt.Header(), pkt.DTM)
	g.resolvePending(pkt)
	g.resolvePacketWaiters(pkt)

	src.handleMsg(g, msg)
	if dst != nil && dst.ID != src.ID {
		dst.handleMsg(g, msg)
	}
	if ClassifyPhase(pkt) == PhaseTender {
		// An offer names no listener, so every Listening context sees it.
		for _, d := range g.devices {
			if d != src && d != dst && d.Binding != nil && d.Binding.State == BindListening {
				g.observeBindingTraffic(d, msg)
			}
		}
	}
	g.routeToGraph(src, dst, msg)
	if g.Config.EnableEavesdrop {
		g.eavesdropZoneSensor(src, msg)
	}
	g.publish(msg)
}

// getOrCreateDevice implements §4.3 steps 1-2: lazily creates a Device on
// first evidence, subject to the known/block list filters.
func (g *Gateway) getOrCreateDevice(id ID) (*Device, bool) {
	if d, ok := g.devices[id]; ok {
		return d, true
	}
	if g.Config.EnforceKnownList {
		if _, known := g.KnownList[id]; !known && id != g.SelfID {
			g.unwanted[id] = true
			return nil, false
		}
	}
	if g.BlockList[id] {
		return nil, false
	}

	slug := SlugGeneric
	if sch, ok := g.KnownList[id]; ok && sch.Class != "" {
		slug = sch.Class // explicit schema class wins unconditionally (§4.3)
	} else if id.Type == 18 {
		slug = SlugHGI
	} else if s := DefaultSlugOf(id.Type); s != SlugGeneric {
		slug = s
	} else {
		switch DomainOf(id.Type) {
		case DomainHeat:
			slug = SlugHeat
		case DomainHVAC:
			slug = SlugHVC
		}
	}

	d := newDevice(id, slug)
	g.devices[id] = d

	if slug == SlugHGI && id != g.SelfID {
		// §7: "another HGI observed" is a one-shot local warning, never
		// fatal; creation only happens once per id, so this naturally
		// fires exactly once per foreign gateway.
		g.Logger.Warn().Err(&ForeignGatewayError{Device: id}).Msg("foreign gateway observed")
	}

	return d, true
}

// routeToGraph wires §3's entity topology from dispatched evidence: it
// ensures a System exists for any controller, assigns zone/domain parents
// from 000C bindings, and tracks 30C9 broadcast cycles for eavesdropping.
func (g *Gateway) routeToGraph(src, dst *Device, m Message) {
	if src.Slug == SlugCTL || src.Slug == SlugPRG {
		sys := g.ensureSystem(src.ID)
		if src.CtlID == nil {
			src.CtlID = &src.ID
			src.TcsID = &src.ID
		}
		sys.handleMsg(g, m)
	}

	switch m.Packet.Code {
	case Code000C:
		if src.Slug == SlugCTL {
			g.applyActuatorBinding(src.ID, m)
		}
	case Code30C9:
		if src.Slug == SlugCTL {
			g.captureZoneTempCycle(src.ID, m)
		}
	case Code22C9:
		if src.Slug == SlugUFC {
			g.applyUfhCircuitEvidence(src, m)
		}
	}
}

// applyUfhCircuitEvidence registers the UfhCircuits a UFH controller
// reports in a 22C9 array (§3), mapping each to whatever zone the
// controller device is itself currently bound under (the common
// one-controller-per-zone topology).
func (g *Gateway) applyUfhCircuitEvidence(ctrl *Device, m Message) {
	arr, ok := m.PayloadStruct.(ArrayPayload)
	if !ok || ctrl.TcsID == nil {
		return
	}
	uc, ok := g.ufhControllers[ctrl.ID]
	if !ok {
		uc = newUfhController(ctrl.ID, *ctrl.TcsID)
		g.ufhControllers[ctrl.ID] = uc
		sys := g.ensureSystem(*ctrl.TcsID)
		sys.UfhControllerIDs = append(sys.UfhControllerIDs, ctrl.ID)
	}
	var zoneKey *ZoneKey
	if ctrl.Parent.Kind == ParentZone {
		zk := ctrl.Parent.Zone
		zoneKey = &zk
	}
	for _, el := range arr.Elements {
		cs, ok := el.(UfhCircuitState)
		if !ok {
			continue
		}
		key := UfhCircuitKey{Controller: ctrl.ID, CircuitIdx: cs.CircuitIdx}
		circuit, ok := g.ufhCircuits[key]
		if !ok {
			circuit = newUfhCircuit(key)
			g.ufhCircuits[key] = circuit
			uc.CircuitIdxs = append(uc.CircuitIdxs, cs.CircuitIdx)
		}
		if zoneKey != nil {
			circuit.ZoneKey = zoneKey
		}
	}
}

// applyActuatorBinding processes a 000C payload from a controller,
// assigning the named devices' parent slot per §3: ordinary zone indices
// bind a Zone's actuators, domain slots bind the System's
// appliance-control slot ("FC" or "FF") or the DhwZone's valves ("F9",
// "FA").
func (g *Gateway) applyActuatorBinding(tcs ID, m Message) {
	binding, ok := m.PayloadStruct.(ActuatorBinding)
	if !ok {
		return
	}

	if zoneIdxIsDomain(binding.ZoneIdx) {
		g.applyDomainBinding(tcs, binding)
		return
	}

	key := ZoneKey{TCS: tcs, Idx: binding.ZoneIdx}
	zone := g.ensureZone(key)
	for _, devID := range binding.Devices {
		dev, ok := g.devices[devID]
		if !ok {
			dev, _ = g.getOrCreateDevice(devID)
		}
		if dev.Slug == SlugGeneric || dev.Slug == SlugHeat {
			dev.Slug = binding.DevClass
		}
		if err := zone.AddActuator(dev.ID, dev.Slug); err != nil {
			g.Logger.Warn().Err(err).Msg("actuator binding rejected")
			continue
		}
		if err := dev.SetParent(ParentRef{Kind: ParentZone, Zone: key}, binding.ZoneIdx); err != nil {
			g.Logger.Warn().Err(err).Msg("zone actuator parent conflict")
		}
		dev.CtlID = &tcs
		dev.TcsID = &tcs
	}
	if !g.systems[tcs].HasZone(binding.ZoneIdx) {
		g.systems[tcs].ZoneIdxs = append(g.systems[tcs].ZoneIdxs, binding.ZoneIdx)
	}
}

func (g *Gateway) applyDomainBinding(tcs ID, binding ActuatorBinding) {
	sys := g.ensureSystem(tcs)
	for _, devID := range binding.Devices {
		dev, ok := g.devices[devID]
		if !ok {
			dev, _ = g.getOrCreateDevice(devID)
		}
		if dev.Slug == SlugGeneric || dev.Slug == SlugHeat {
			dev.Slug = binding.DevClass
		}
		switch binding.ZoneIdx {
		case "FF", "FC":
			sys.ApplianceControlID = &dev.ID
			if err := dev.SetParent(ParentRef{Kind: ParentSystem, TCS: tcs}, binding.ZoneIdx); err != nil {
				g.Logger.Warn().Err(err).Msg("appliance control parent conflict")
			}
		case "F9", "FA":
			dhw := g.ensureDhwZone(tcs)
			if binding.ZoneIdx == "FA" {
				dhw.HotWaterValveID = &dev.ID
			} else {
				dhw.HeatingValveID = &dev.ID
			}
			if err := dev.SetParent(ParentRef{Kind: ParentDhwZone, TCS: tcs}, binding.ZoneIdx); err != nil {
				g.Logger.Warn().Err(err).Msg("dhw valve parent conflict")
			}
		}
		dev.CtlID = &tcs
		dev.TcsID = &tcs
	}
}

// captureZoneTempCycle routes a controller's broadcast 30C9 array to each
// named zone's message index (§4.2) and stashes the cycle as an
// eavesdropping correlation window (§4.3).
func (g *Gateway) captureZoneTempCycle(tcs ID, m Message) {
	arr, ok := m.PayloadStruct.(ArrayPayload)
	if !ok {
		return
	}
	temps := make(map[string]float64, len(arr.Elements))
	for _, el := range arr.Elements {
		zt, ok := el.(ZoneTemperature)
		if !ok {
			continue
		}
		temps[zt.ZoneIdx] = zt.TempC
		zone := g.ensureZone(ZoneKey{TCS: tcs, Idx: zt.ZoneIdx})
		zone.handleMsg(g, m)
	}
	g.eavesdropWindows[tcs] = &eavesdropWindow{capturedAt: m.Packet.DTM, zoneTemps: temps}
}

// eavesdropZoneSensor implements §4.3's eavesdropping of a zone's sensor
// from a single-device 30C9 reading observed within an open cycle window.
func (g *Gateway) eavesdropZoneSensor(src *Device, m Message) {
	if m.Packet.Code != Code30C9 || m.Packet.Ctx().Kind() != CtxIdxVariant {
		return
	}
	zt, ok := m.PayloadStruct.(ArrayPayload)
	var temp float64
	if ok && len(zt.Elements) == 1 {
		if single, ok := zt.Elements[0].(ZoneTemperature); ok {
			temp = single.TempC
		} else {
			return
		}
	} else {
		return
	}

	for tcs, win := range g.eavesdropWindows {
		sys := g.systems[tcs]
		if m.Packet.DTM.Sub(win.capturedAt) > eavesdropCycleWindow(sys) {
			continue
		}
		matches := eavesdropMatchZoneSensors(win.zoneTemps, map[ID]float64{src.ID: temp})
		for zoneIdx, devID := range matches {
			if devID != src.ID {
				continue
			}
			zone := g.ensureZone(ZoneKey{TCS: tcs, Idx: zoneIdx})
			if zone.SensorID == nil {
				zone.SensorID = &src.ID
				_ = src.SetParent(ParentRef{Kind: ParentZone, Zone: zone.Key}, zoneIdx)
			}
		}
	}
}

// eavesdropWindow is one TCS's most recently captured 30C9 broadcast
// cycle, pending correlation with single-device sensor reports.
type eavesdropWindow struct {
	capturedAt time.Time
	zoneTemps  map[string]float64
}

// ensureSystem returns the System rooted at ctl, creating it if absent.
func (g *Gateway) ensureSystem(ctl ID) *System {
	if s, ok := g.systems[ctl]; ok {
		return s
	}
	s := newSystem(ctl)
	g.systems[ctl] = s
	return s
}

// ensureZone returns the Zone at key, creating it (and registering it
// with its TCS) if absent.
func (g *Gateway) ensureZone(key ZoneKey) *Zone {
	if z, ok := g.zones[key]; ok {
		return z
	}
	z := newZone(key)
	g.zones[key] = z
	sys := g.ensureSystem(key.TCS)
	if !sys.HasZone(key.Idx) {
		sys.ZoneIdxs = append(sys.ZoneIdxs, key.Idx)
	}
	return z
}

// ensureDhwZone returns tcs's DhwZone, creating it if absent.
func (g *Gateway) ensureDhwZone(tcs ID) *DhwZone {
	if d, ok := g.dhwZones[tcs]; ok {
		return d
	}
	d := newDhwZone(tcs)
	g.dhwZones[tcs] = d
	sys := g.ensureSystem(tcs)
	sys.DhwZoneID = &tcs
	return d
}

// observeBindingTraffic feeds a dispatched message into dev's active
// binding context, if any (§4.3 step 5: "binding-participants also
// receive the message").
func (g *Gateway) observeBindingTraffic(dev *Device, m Message) {
	if dev.Binding == nil || !dev.Binding.IsBinding() {
		return
	}
	action := dev.Binding.OnPacket(m.Packet, m.Packet.DTM)
	g.applyBindAction(action)
}

func (g *Gateway) applyBindAction(action BindAction) {
	if action.Send != nil {
		if err := g.transmit(*action.Send); err != nil {
			g.Logger.Warn().Err(err).Msg("binding frame send failed")
		}
	}
	if action.Done && action.Err != nil {
		g.Logger.Warn().Err(action.Err).Msg("binding flow failed")
	}
}

// observeDiscoveryReply lets a discovery registration's OpenTherm
// deprecation rule observe a 3220 reply as it is dispatched to its owning
// device (§4.5).
func (g *Gateway) observeDiscoveryReply(dev *Device, m Message) {
	if m.Packet.Code != Code3220 {
		return
	}
	ot, ok := m.PayloadStruct.(OpenThermMessage)
	if !ok {
		return
	}
	for _, r := range g.scheduler.regs {
		if r.Cmd.Dst == dev.ID && r.Cmd.Code == Code3220 {
			r.ObserveOpenThermReply(ot)
		}
	}
}
