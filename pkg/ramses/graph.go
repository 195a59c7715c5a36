// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "fmt"

// ParentKind tags which concrete entity a Device's parent reference
// names (§3: a Device's parent is a System, Zone, DhwZone, or
// UfhController). Per the Design Notes' "arena + integer handles" fix,
// the reference is carried as a typed key rather than a pointer, so the
// graph never forms an ownership cycle: every lookup goes back through
// the owning Gateway's maps.
type ParentKind int

const (
	ParentNone ParentKind = iota
	ParentSystem
	ParentZone
	ParentDhwZone
	ParentUfhController
)

// ParentRef names a Device's parent entity by key. Only the field
// matching Kind is meaningful.
type ParentRef struct {
	Kind ParentKind
	TCS  ID      // ParentSystem, ParentDhwZone: the owning TCS's controller id
	Zone ZoneKey // ParentZone
	Ufh  ID      // ParentUfhController: the controller device's id
}

func (r ParentRef) String() string {
	switch r.Kind {
	case ParentSystem:
		return fmt.Sprintf("tcs(%s)", r.TCS)
	case ParentZone:
		return fmt.Sprintf("zone(%s,%s)", r.Zone.TCS, r.Zone.Idx)
	case ParentDhwZone:
		return fmt.Sprintf("dhw(%s)", r.TCS)
	case ParentUfhController:
		return fmt.Sprintf("ufh(%s)", r.Ufh)
	default:
		return "none"
	}
}

// Faking records the Gateway.FakeDevice contract (§4.6): a faked device
// emits packets on its own behalf and also receives packets naming it as
// dst even when it would otherwise be filtered.
type Faking struct {
	Impersonated bool
	Scheme       VendorScheme
}

// Device is a node in the entity graph identified by a RAMSES-II address
// (§3). Role is held as a plain field rather than via the Python source's
// class-swap trick (Design Notes): promotion reassigns Slug in place.
type Device struct {
	ID      ID
	Slug    Slug
	Parent  ParentRef
	ChildID string // slot occupied in the parent: zone idx, domain id, "FF", "gw"
	CtlID   *ID    // the controller this device belongs to, if known
	TcsID   *ID    // the TCS (by controller id) this device belongs to, if known

	Faked   *Faking
	Binding *BindContext

	index *MessageIndex
}

func newDevice(id ID, slug Slug) *Device {
	return &Device{ID: id, Slug: slug, index: NewMessageIndex()}
}

// Index implements Entity.
func (d *Device) Index() *MessageIndex { return d.index }

func (d *Device) handleMsg(g *Gateway, m Message) {
	d.index.Insert(m)
	g.observeBindingTraffic(d, m)
	g.observeDiscoveryReply(d, m)
}

// SetParent assigns d's parent, enforcing §3's at-most-one-parent
// invariant: a second, different assignment is a schema error.
func (d *Device) SetParent(ref ParentRef, childID string) error {
	if d.Parent.Kind == ParentNone {
		d.Parent = ref
		d.ChildID = childID
		return nil
	}
	if d.Parent == ref && d.ChildID == childID {
		return nil // idempotent re-assignment
	}
	return &SystemSchemaInconsistentError{
		Entity: d.ID.String(),
		Reason: fmt.Sprintf("parent already %s, cannot reassign to %s", d.Parent, ref),
	}
}

// System is a TCS (Temperature Control System) rooted at a controller
// device (§3).
type System struct {
	CtlID             ID
	DhwZoneID         *ID // present once a DhwZone is attached (keyed by CtlID, one per TCS)
	ZoneIdxs          []string
	UfhControllerIDs  []ID
	ApplianceControlID *ID // the FC-domain slot: BDR or OTB

	index *MessageIndex
}

func newSystem(ctl ID) *System {
	return &System{CtlID: ctl, index: NewMessageIndex()}
}

func (s *System) Index() *MessageIndex { return s.index }

func (s *System) handleMsg(g *Gateway, m Message) {
	s.index.Insert(m)
}

// HasZone reports whether idx is already a known zone of this TCS.
func (s *System) HasZone(idx string) bool {
	for _, z := range s.ZoneIdxs {
		if z == idx {
			return true
		}
	}
	return false
}

// Zone is a heated area, identified by (tcs, idx) (§3).
type Zone struct {
	Key        ZoneKey
	Class      ZoneClass
	SensorID   *ID
	ActuatorIDs []ID

	index *MessageIndex
}

func newZone(key ZoneKey) *Zone {
	return &Zone{Key: key, Class: ZoneClassUnknown, index: NewMessageIndex()}
}

func (z *Zone) Index() *MessageIndex { return z.index }

func (z *Zone) handleMsg(g *Gateway, m Message) {
	z.index.Insert(m)
}

// PromoteClass attempts to move the zone to a more specific class,
// enforcing the monotone-promotion invariant (§3, §8 property 3).
func (z *Zone) PromoteClass(to ZoneClass) error {
	if !CanPromoteClass(z.Class, to) {
		return &SystemSchemaInconsistentError{
			Entity: fmt.Sprintf("zone %s/%s", z.Key.TCS, z.Key.Idx),
			Reason: fmt.Sprintf("cannot promote class %s to %s", z.Class, to),
		}
	}
	z.Class = to
	return nil
}

// AddActuator appends id to the zone's actuator set, validating the
// actuator's slug is compatible with the zone's (possibly still unknown)
// class.
func (z *Zone) AddActuator(id ID, slug Slug) error {
	if !actuatorSlugAllowed(z.Class, slug) {
		return &SystemSchemaInconsistentError{
			Entity: fmt.Sprintf("zone %s/%s", z.Key.TCS, z.Key.Idx),
			Reason: fmt.Sprintf("actuator slug %s not allowed for class %s", slug, z.Class),
		}
	}
	for _, a := range z.ActuatorIDs {
		if a == id {
			return nil
		}
	}
	z.ActuatorIDs = append(z.ActuatorIDs, id)
	if class, ok := actuatorClassFor(slug); ok {
		_ = z.PromoteClass(class) // best-effort; caller already validated slug-vs-class above
	}
	return nil
}

// DhwZone is the domestic hot-water subsystem, unique per TCS (§3).
type DhwZone struct {
	TcsID           ID
	SensorID        *ID
	HotWaterValveID *ID // domain FA
	HeatingValveID  *ID // domain F9

	index *MessageIndex
}

func newDhwZone(tcs ID) *DhwZone {
	return &DhwZone{TcsID: tcs, index: NewMessageIndex()}
}

func (d *DhwZone) Index() *MessageIndex { return d.index }

func (d *DhwZone) handleMsg(g *Gateway, m Message) {
	d.index.Insert(m)
}

// SetSensor assigns the DHW sensor slot, rejecting a second distinct
// sensor per §3's duplicate-DHW-sensor invariant.
func (d *DhwZone) SetSensor(id ID) error {
	if d.SensorID != nil && *d.SensorID != id {
		return &SystemSchemaInconsistentError{
			Entity: fmt.Sprintf("dhw(%s)", d.TcsID),
			Reason: fmt.Sprintf("sensor already %s, cannot reassign to %s", *d.SensorID, id),
		}
	}
	d.SensorID = &id
	return nil
}

// UfhController is a device (type 02) that owns a set of UfhCircuits,
// itself a child of a TCS (§3).
type UfhController struct {
	ID          ID
	TcsID       ID
	CircuitIdxs []byte

	index *MessageIndex
}

func newUfhController(id, tcs ID) *UfhController {
	return &UfhController{ID: id, TcsID: tcs, index: NewMessageIndex()}
}

func (u *UfhController) Index() *MessageIndex { return u.index }

func (u *UfhController) handleMsg(g *Gateway, m Message) {
	u.index.Insert(m)
}

// UfhCircuitKey identifies a circuit within its owning controller.
type UfhCircuitKey struct {
	Controller ID
	CircuitIdx byte
}

// UfhCircuit is one heated loop under a UfhController, mapped to a zone
// on the owning TCS (§3).
type UfhCircuit struct {
	Key     UfhCircuitKey
	ZoneKey *ZoneKey

	index *MessageIndex
}

func newUfhCircuit(key UfhCircuitKey) *UfhCircuit {
	return &UfhCircuit{Key: key, index: NewMessageIndex()}
}

func (u *UfhCircuit) Index() *MessageIndex { return u.index }

func (u *UfhCircuit) handleMsg(g *Gateway, m Message) {
	u.index.Insert(m)
}
