// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "fmt"

// Verb is the packet direction/kind.
type Verb string

const (
	VerbI  Verb = "I"
	VerbRQ Verb = "RQ"
	VerbRP Verb = "RP"
	VerbW  Verb = "W"
)

// ValidVerb reports whether s is one of the four recognised verb tokens.
func ValidVerb(s string) (Verb, bool) {
	switch Verb(s) {
	case VerbI, VerbRQ, VerbRP, VerbW:
		return Verb(s), true
	}
	return "", false
}

// Code is a 16-bit RAMSES command identifier, written as four uppercase
// hex digits.
type Code string

func (c Code) String() string { return string(c) }

// Well-known codes referenced by name throughout the core. Unknown codes
// are handled generically (raw-hex fallback payload, ctx=None).
const (
	Code0001 Code = "0001"
	Code0002 Code = "0002" // HVAC outdoor sensor
	Code0008 Code = "0008" // relay demand
	Code0009 Code = "0009" // zone actuator state
	Code000A Code = "000A" // zone params
	Code000C Code = "000C" // zone/domain actuator binding
	Code0016 Code = "0016" // RF signal check
	Code0100 Code = "0100" // language
	Code01D0 Code = "01D0"
	Code01E9 Code = "01E9"
	Code0404 Code = "0404" // schedule fragment
	Code0418 Code = "0418" // fault log
	Code10A0 Code = "10A0" // DHW params
	Code10E0 Code = "10E0" // device info / binding addenda
	Code1060 Code = "1060" // device battery
	Code1090 Code = "1090"
	Code10E1 Code = "10E1"
	Code1100 Code = "1100" // TPI params
	Code1260 Code = "1260" // DHW temperature
	Code1280 Code = "1280" // HVAC outdoor humidity
	Code1290 Code = "1290" // HVAC outdoor temperature
	Code1298 Code = "1298" // HVAC CO2
	Code12A0 Code = "12A0" // HVAC indoor humidity
	Code12B0 Code = "12B0" // window state
	Code12C0 Code = "12C0"
	Code1F09 Code = "1F09" // sync cycle
	Code1FC9 Code = "1FC9" // binding
	Code1FCA Code = "1FCA"
	Code1FD4 Code = "1FD4"
	Code2249 Code = "2249"
	Code22C9 Code = "22C9" // UFH circuit binding
	Code22F1 Code = "22F1" // HVAC fan rate (remote)
	Code22F3 Code = "22F3" // HVAC boost timer
	Code2309 Code = "2309" // zone setpoint
	Code2349 Code = "2349" // zone mode
	Code2389 Code = "2389"
	Code2E04 Code = "2E04" // system mode
	Code3120 Code = "3120"
	Code3150 Code = "3150" // zone/heat demand
	Code31D9 Code = "31D9" // HVAC fan state
	Code31DA Code = "31DA" // HVAC ventilator state
	Code31E0 Code = "31E0" // HVAC presence/VOC
	Code3200 Code = "3200" // OTB boiler flow temp
	Code3210 Code = "3210"
	Code3220 Code = "3220" // OpenTherm message
	Code3221 Code = "3221"
	Code3222 Code = "3222"
	Code3B00 Code = "3B00" // actuator sync
	Code3EF0 Code = "3EF0" // actuator state
	Code3EF1 Code = "3EF1" // actuator cycle info
	Code30C9 Code = "30C9" // zone temperature
)

// Dev-only codes with documented "always fixed" payloads; excluded from
// the core per spec.md §9 Open Questions.
var excludedCodes = map[Code]bool{
	"0150": true,
	"1098": true,
	"10B0": true,
	"1FD0": true,
	"2400": true,
	"2410": true,
	"2420": true,
}

// IsExcludedCode reports whether code is a dev-only fixed-payload code
// that the core does not parse or dispatch.
func IsExcludedCode(c Code) bool {
	return excludedCodes[c]
}

// ctxKind classifies how a code's header context is derived (§4.1).
type ctxKind int

const (
	ctxNone ctxKind = iota
	ctxSimple
	ctxComplex
	ctxArray
)

var codeCtxKind = map[Code]ctxKind{
	Code0001: ctxNone,
	Code0008: ctxNone,
	Code0009: ctxArray,
	Code000A: ctxArray,
	Code000C: ctxComplex,
	Code0016: ctxNone,
	Code0404: ctxComplex,
	Code0418: ctxComplex,
	Code10A0: ctxNone,
	Code10E0: ctxNone,
	Code1100: ctxNone,
	Code1260: ctxArray,
	Code1280: ctxNone,
	Code1290: ctxArray,
	Code1298: ctxNone,
	Code12A0: ctxNone,
	Code12B0: ctxSimple,
	Code1F09: ctxNone,
	Code1FC9: ctxComplex,
	Code22C9: ctxArray,
	Code22F1: ctxNone,
	Code22F3: ctxNone,
	Code2309: ctxArray,
	Code2349: ctxSimple,
	Code2E04: ctxNone,
	Code3150: ctxArray,
	Code31D9: ctxNone,
	Code31DA: ctxNone,
	Code31E0: ctxNone,
	Code3200: ctxNone,
	Code3220: ctxComplex,
	Code3B00: ctxSimple,
	Code3EF0: ctxSimple,
	Code3EF1: ctxSimple,
	Code30C9: ctxArray,
}

// Ctx is the derived header context for a packet. Exactly one variant is
// populated, matching spec.md §9's requirement for three distinct
// variants instead of the Python source's overloaded "True"/False/None.
type Ctx struct {
	kind ctxVariant
	idx  string
}

type ctxVariant int

const (
	CtxNoneVariant ctxVariant = iota
	CtxArrayVariant
	CtxIdxVariant
)

// Kind reports which of None/Array/Idx this context is.
func (c Ctx) Kind() ctxVariant { return c.kind }

// Idx returns the index bytes for a CtxIdxVariant context.
func (c Ctx) Idx() string { return c.idx }

func (c Ctx) String() string {
	switch c.kind {
	case CtxArrayVariant:
		return "True"
	case CtxIdxVariant:
		return c.idx
	default:
		return ""
	}
}

var (
	ctxNoneValue  = Ctx{kind: CtxNoneVariant}
	ctxArrayValue = Ctx{kind: CtxArrayVariant}
)

func ctxIdx(idx string) Ctx { return Ctx{kind: CtxIdxVariant, idx: idx} }

// Slug is a short role tag, e.g. CTL, TRV, OTB, BDR, FAN, CO2.
type Slug string

const (
	SlugGeneric Slug = "DEV" // fully generic, promotable to any role
	SlugHeat    Slug = "HEA" // known Heat-domain, role tbd
	SlugHVC     Slug = "HVC" // known HVAC-domain, role tbd

	SlugCTL Slug = "CTL"
	SlugUFC Slug = "UFC"
	SlugSTA Slug = "STA"
	SlugTRV Slug = "TRV"
	SlugDHW Slug = "DHW"
	SlugOTB Slug = "OTB"
	SlugPRG Slug = "PRG"
	SlugBDR Slug = "BDR"
	SlugHGI Slug = "HGI"
	SlugTHM Slug = "THM"

	SlugFAN Slug = "FAN"
	SlugCO2 Slug = "CO2"
	SlugHUM Slug = "HUM"
	SlugREM Slug = "REM"
	SlugRFG Slug = "RFG"
)

// promotableSlugs are generic placeholders eligible to be narrowed by
// promotion (§4.3 step 4).
var promotableSlugs = map[Slug]bool{
	SlugGeneric: true,
	SlugHeat:    true,
	SlugHVC:     true,
}

// IsPromotable reports whether a device currently tagged s is still
// eligible for role promotion.
func IsPromotable(s Slug) bool {
	return promotableSlugs[s]
}

// SlugDomain reports which protocol domain a resolved slug belongs to.
// Generic/unresolved slugs return DomainUnknown.
func SlugDomain(s Slug) Domain {
	switch s {
	case SlugCTL, SlugUFC, SlugSTA, SlugTRV, SlugDHW, SlugOTB, SlugPRG, SlugBDR, SlugTHM, SlugHeat:
		return DomainHeat
	case SlugFAN, SlugCO2, SlugHUM, SlugREM, SlugRFG, SlugHVC:
		return DomainHVAC
	default:
		return DomainUnknown
	}
}

// roleRule whitelists a historical exception to the normal role-validity
// check (§4.3 step 3), e.g. a BDR issuing RQ|3EF0 even though BDR is not
// normally a requester.
type roleRule struct {
	Slug Slug
	Verb Verb
	Code Code
}

var roleExceptions = map[roleRule]bool{
	{SlugBDR, VerbRQ, Code3EF0}: true,
}

// IsRoleException reports whether (slug, verb, code) is a historical
// exception to the ordinary role-validity rules.
func IsRoleException(s Slug, v Verb, c Code) bool {
	return roleExceptions[roleRule{s, v, c}]
}

// heatOnlyCodes are codes known to be exchanged only between Heat-domain
// devices; two same-type Heat devices (e.g. two 18:) exchanging one of
// these is an address-set violation (§4.1).
var heatOnlyCodes = map[Code]bool{
	Code1F09: true,
	Code2E04: true,
	Code3150: true,
	Code3EF0: true,
	Code3EF1: true,
}

// ValidateAddrSet enforces spec.md §4.1's address-set rule: two devices of
// the same type cannot exchange a Heat-domain-only code (this would imply,
// e.g., two controllers arguing over sync). HVAC-domain and ambiguous
// codes pass through unchecked.
func ValidateAddrSet(src, dst ID, code Code) error {
	if !heatOnlyCodes[code] {
		return nil
	}
	if src.IsAddressable() && dst.IsAddressable() && src.Type == dst.Type {
		return &PacketAddrSetInvalidError{
			Src: src, Dst: dst, Code: code,
			Reason: fmt.Sprintf("two type-%02d devices cannot exchange heat-only code %s", src.Type, code),
		}
	}
	return nil
}
