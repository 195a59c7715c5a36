// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "fmt"

// Exit taxonomy (spec.md §6). These are library-level errors: surfaced to
// a caller or to the Dispatcher's log, never a process-exit signal.

// PacketInvalidError means a raw line could not be parsed into a Packet.
type PacketInvalidError struct {
	Reason string
	Line   string
}

func (e *PacketInvalidError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("packet invalid: %s (line=%q)", e.Reason, e.Line)
	}
	return fmt.Sprintf("packet invalid: %s", e.Reason)
}

// PacketPayloadInvalidError means a payload failed schema validation for
// its (code, verb, context).
type PacketPayloadInvalidError struct {
	Code   Code
	Verb   Verb
	Reason string
}

func (e *PacketPayloadInvalidError) Error() string {
	return fmt.Sprintf("payload invalid for %s|%s: %s", e.Code, e.Verb, e.Reason)
}

// PacketAddrSetInvalidError means src/dst/addr2 violate a known
// heat-domain-only address-set rule.
type PacketAddrSetInvalidError struct {
	Src, Dst ID
	Code     Code
	Reason   string
}

func (e *PacketAddrSetInvalidError) Error() string {
	return fmt.Sprintf("address set invalid for %s (src=%s dst=%s): %s", e.Code, e.Src, e.Dst, e.Reason)
}

// ProtocolSendFailedError surfaces from async_send_cmd when the transport
// failed, or no correlated reply arrived within the retry budget.
type ProtocolSendFailedError struct {
	Header string
	Reason string
}

func (e *ProtocolSendFailedError) Error() string {
	return fmt.Sprintf("send failed for %s: %s", e.Header, e.Reason)
}

// BindingFsmError is raised on an illegal FSM operation, e.g. initiating a
// binding while one is already in flight.
type BindingFsmError struct {
	Device ID
	Reason string
}

func (e *BindingFsmError) Error() string {
	return fmt.Sprintf("binding FSM error for %s: %s", e.Device, e.Reason)
}

// BindingFlowFailedError surfaces when a binding handshake times out or
// exhausts its retry budget; the context's state is already Failed.
type BindingFlowFailedError struct {
	Device ID
	Phase  string
	Reason string
}

func (e *BindingFlowFailedError) Error() string {
	return fmt.Sprintf("binding flow failed for %s at %s: %s", e.Device, e.Phase, e.Reason)
}

// ScheduleFsmError surfaces illegal schedule-lock use (e.g. re-entering for
// a different zone index).
type ScheduleFsmError struct {
	TCS    ID
	Reason string
}

func (e *ScheduleFsmError) Error() string {
	return fmt.Sprintf("schedule FSM error for %s: %s", e.TCS, e.Reason)
}

// ScheduleFlowError surfaces schedule fragment reassembly failures (e.g.
// missing fragments).
type ScheduleFlowError struct {
	TCS    ID
	Reason string
}

func (e *ScheduleFlowError) Error() string {
	return fmt.Sprintf("schedule flow error for %s: %s", e.TCS, e.Reason)
}

// SystemSchemaInconsistentError is fatal to the current operation (not the
// process): a second, different parent assignment, a class downgrade, or a
// duplicate DHW sensor.
type SystemSchemaInconsistentError struct {
	Entity string
	Reason string
}

func (e *SystemSchemaInconsistentError) Error() string {
	return fmt.Sprintf("schema inconsistent for %s: %s", e.Entity, e.Reason)
}

// DeviceNotFakedError surfaces when a faking-only setter is called on a
// device that was never registered via Gateway.FakeDevice.
type DeviceNotFakedError struct {
	Device ID
}

func (e *DeviceNotFakedError) Error() string {
	return fmt.Sprintf("device %s is not faked", e.Device)
}

// ForeignGatewayError is a one-shot, non-fatal observation: another HGI
// gateway was seen transmitting on the same network.
type ForeignGatewayError struct {
	Device ID
}

func (e *ForeignGatewayError) Error() string {
	return fmt.Sprintf("foreign gateway observed: %s", e.Device)
}
