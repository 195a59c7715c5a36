// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "fmt"

// ScheduleFragment is the 0404 payload: one fragment of a zone's weekly
// schedule, identified by its position in a 1-based fragment sequence.
// Grounded on original_source/src/ramses_rf/system/schedule.py's context
// shape: zone idx, fragment total and fragment number ahead of opaque
// schedule bytes (the header ctx carries only the zone idx and total; see
// deriveComplexCtx). ReassembleSchedule concatenates the bytes; decoding
// them into a weekly plan is not done in the core.
type ScheduleFragment struct {
	ZoneIdx    string
	FragNumber int
	FragTotal  int
	FragBytes  []byte
}

func (ScheduleFragment) payloadMarker() {}

func parseScheduleFragment(raw []byte) (Payload, error) {
	if len(raw) < 3 {
		return nil, &PacketPayloadInvalidError{Code: Code0404, Reason: "too short"}
	}
	zoneIdx := zoneIdxHex(raw[0])
	fragTotal := int(raw[1])
	fragNumber := int(raw[2])
	if fragTotal < 1 || fragNumber < 1 || fragNumber > fragTotal {
		return nil, &PacketPayloadInvalidError{
			Code:   Code0404,
			Reason: fmt.Sprintf("fragment %d/%d out of range", fragNumber, fragTotal),
		}
	}
	body := raw[3:]
	return ScheduleFragment{ZoneIdx: zoneIdx, FragNumber: fragNumber, FragTotal: fragTotal, FragBytes: body}, nil
}

// ReassembleSchedule concatenates a complete set of fragments in order.
// Per spec.md §8, reassembly requires every frag_number in [1,total] to be
// present; any gap fails the operation with ScheduleFlowError.
func ReassembleSchedule(tcs ID, fragments []ScheduleFragment) ([]byte, error) {
	if len(fragments) == 0 {
		return nil, &ScheduleFlowError{TCS: tcs, Reason: "no fragments"}
	}
	total := fragments[0].FragTotal
	byNumber := make(map[int]ScheduleFragment, len(fragments))
	for _, f := range fragments {
		if f.FragTotal != total {
			return nil, &ScheduleFlowError{TCS: tcs, Reason: "inconsistent fragment total across set"}
		}
		byNumber[f.FragNumber] = f
	}
	out := make([]byte, 0, len(fragments)*20)
	for n := 1; n <= total; n++ {
		f, ok := byNumber[n]
		if !ok {
			return nil, &ScheduleFlowError{TCS: tcs, Reason: fmt.Sprintf("missing fragment %d/%d", n, total)}
		}
		out = append(out, f.FragBytes...)
	}
	return out, nil
}
