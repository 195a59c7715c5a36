// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ZoneSchema is the stable HA-style shape of one zone (§6); rendering the
// dict into status/params/schema views is an external presentation-layer
// concern, but this shape is what that layer consumes.
type ZoneSchema struct {
	Class     string   `cbor:"class"`
	Sensor    string   `cbor:"sensor,omitempty"`
	Actuators []string `cbor:"actuators,omitempty"`
}

// DhwSchema is the stable shape of a TCS's DHW subsystem.
type DhwSchema struct {
	Sensor        string `cbor:"sensor,omitempty"`
	HotWaterValve string `cbor:"dhw_valve,omitempty"`
	HeatingValve  string `cbor:"htg_valve,omitempty"`
}

// SystemSchema is the stable shape of one TCS.
type SystemSchema struct {
	ApplianceControl string                `cbor:"appliance_control,omitempty"`
	Zones            map[string]ZoneSchema `cbor:"zones,omitempty"`
	Dhw              *DhwSchema            `cbor:"stored_hotwater,omitempty"`
	Ufh              map[string][]int      `cbor:"underfloor_heating,omitempty"`
}

// Schema is the whole-gateway schema dict (§6).
type Schema struct {
	MainTCS string                  `cbor:"main_tcs,omitempty"`
	Systems map[string]SystemSchema `cbor:"systems,omitempty"`
	Orphans []string                `cbor:"orphans,omitempty"`
}

// shrink normalises a schema for §8 scenario S6's comparison: an empty
// Systems map or Orphans list becomes nil and the orphans are sorted.
// Each system is copied as it is; no zero-valued field inside a system
// is removed.
func (s Schema) shrink() Schema {
	out := Schema{MainTCS: s.MainTCS}
	if len(s.Systems) > 0 {
		out.Systems = make(map[string]SystemSchema, len(s.Systems))
		for id, sys := range s.Systems {
			out.Systems[id] = sys
		}
	}
	if len(s.Orphans) > 0 {
		out.Orphans = append([]string(nil), s.Orphans...)
		sort.Strings(out.Orphans)
	}
	return out
}

// Equal compares two schemas after shrink: main_tcs, the orphans, and
// for each system its appliance_control and each zone's class and
// sensor. Zone actuators, stored_hotwater and underfloor_heating are not
// compared.
func (s Schema) Equal(other Schema) bool {
	a, b := s.shrink(), other.shrink()
	if a.MainTCS != b.MainTCS || len(a.Systems) != len(b.Systems) || len(a.Orphans) != len(b.Orphans) {
		return false
	}
	for i := range a.Orphans {
		if a.Orphans[i] != b.Orphans[i] {
			return false
		}
	}
	for id, sa := range a.Systems {
		sb, ok := b.Systems[id]
		if !ok || sa.ApplianceControl != sb.ApplianceControl || len(sa.Zones) != len(sb.Zones) {
			return false
		}
		for zidx, za := range sa.Zones {
			zb, ok := sb.Zones[zidx]
			if !ok || za.Class != zb.Class || za.Sensor != zb.Sensor {
				return false
			}
		}
	}
	return true
}

// GetState implements the Gateway facade's state-freeze operation (§4.6):
// it walks every entity's message index, keeping messages that satisfy
// the retention policy, and returns the derived schema alongside a
// packets-dict suitable for Restore.
func (g *Gateway) GetState(now time.Time, includeExpired bool) (Schema, map[string]string) {
	schema := g.buildSchema()
	packets := make(map[string]string)

	visit := func(idx *MessageIndex) {
		for _, m := range idx.IterAll() {
			if !includeExpired && m.Expired(now) {
				continue
			}
			key, val := packetRepr(m.Packet)
			packets[key] = val
		}
	}
	for _, d := range g.devices {
		visit(d.index)
	}
	for _, s := range g.systems {
		visit(s.index)
	}
	for _, z := range g.zones {
		visit(z.index)
	}
	for _, d := range g.dhwZones {
		visit(d.index)
	}
	for _, u := range g.ufhControllers {
		visit(u.index)
	}
	for _, u := range g.ufhCircuits {
		visit(u.index)
	}
	return schema, packets
}

// packetRepr splits a packet into the (header-ish key, payload hex)
// pair spec.md §6 calls "{repr(packet_without_payload): repr(packet_
// payload)}"; re-parsing key+" "+len+" "+value reproduces the line.
func packetRepr(p Packet) (string, string) {
	key := fmt.Sprintf("%03d %-3s --- %s %s %s %s", p.RSSI, p.Verb, p.Src, p.Addr2, p.Dst, p.Code)
	return key, hex.EncodeToString(p.Payload)
}

// Restore re-parses a packets-dict produced by GetState and dispatches
// every line, in the map's (unspecified, possibly shuffled) iteration
// order. §8 property 5 requires the resulting schema be independent of
// that order.
func (g *Gateway) Restore(packets map[string]string, now time.Time) {
	for key, payloadHex := range packets {
		payload, err := hex.DecodeString(payloadHex)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("%s %03d %s", key, len(payload), payloadHex)
		pkt, err := ParseLine(line, now)
		if err != nil {
			g.Logger.Info().Err(err).Msg("skipping unparseable snapshot line")
			continue
		}
		g.dispatch(pkt)
	}
}

func (g *Gateway) buildSchema() Schema {
	s := Schema{Systems: make(map[string]SystemSchema, len(g.systems))}
	if g.MainTCS != nil {
		s.MainTCS = g.MainTCS.String()
	}
	for ctl, sys := range g.systems {
		ss := SystemSchema{Zones: make(map[string]ZoneSchema, len(sys.ZoneIdxs))}
		if sys.ApplianceControlID != nil {
			ss.ApplianceControl = sys.ApplianceControlID.String()
		}
		for _, idx := range sys.ZoneIdxs {
			z, ok := g.zones[ZoneKey{TCS: ctl, Idx: idx}]
			if !ok {
				continue
			}
			zs := ZoneSchema{Class: z.Class.String()}
			if z.SensorID != nil {
				zs.Sensor = z.SensorID.String()
			}
			for _, a := range z.ActuatorIDs {
				zs.Actuators = append(zs.Actuators, a.String())
			}
			ss.Zones[idx] = zs
		}
		if dhw, ok := g.dhwZones[ctl]; ok {
			ds := &DhwSchema{}
			if dhw.SensorID != nil {
				ds.Sensor = dhw.SensorID.String()
			}
			if dhw.HotWaterValveID != nil {
				ds.HotWaterValve = dhw.HotWaterValveID.String()
			}
			if dhw.HeatingValveID != nil {
				ds.HeatingValve = dhw.HeatingValveID.String()
			}
			ss.Dhw = ds
		}
		for _, ufhID := range sys.UfhControllerIDs {
			uc, ok := g.ufhControllers[ufhID]
			if !ok {
				continue
			}
			if ss.Ufh == nil {
				ss.Ufh = make(map[string][]int, len(sys.UfhControllerIDs))
			}
			idxs := make([]int, len(uc.CircuitIdxs))
			for i, ci := range uc.CircuitIdxs {
				idxs[i] = int(ci)
			}
			ss.Ufh[ufhID.String()] = idxs
		}
		s.Systems[ctl.String()] = ss
	}
	for id, d := range g.devices {
		if d.Parent.Kind == ParentNone && !id.IsBroadcast() && d.ID != g.SelfID {
			s.Orphans = append(s.Orphans, id.String())
		}
	}
	return s
}

// EncodeSnapshot serialises a (schema, packets) pair to CBOR, the compact
// keyed-document codec the teacher's wire layer uses for exactly this
// shape of data (DESIGN.md).
func EncodeSnapshot(schema Schema, packets map[string]string) ([]byte, error) {
	type snapshot struct {
		Schema  Schema            `cbor:"schema"`
		Packets map[string]string `cbor:"packets"`
	}
	return cbor.Marshal(snapshot{Schema: schema, Packets: packets})
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (Schema, map[string]string, error) {
	type snapshot struct {
		Schema  Schema            `cbor:"schema"`
		Packets map[string]string `cbor:"packets"`
	}
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Schema{}, nil, err
	}
	return s.Schema, s.Packets, nil
}
