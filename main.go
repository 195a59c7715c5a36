// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// ramses - RAMSES-II protocol analyser and gateway controller
//
// A CLI tool for decoding, routing, and controlling Honeywell evohome/
// RAMSES-II heating and HVAC traffic over a serial or WebSocket-bridged
// gateway.

package main

import (
	"fmt"
	"os"

	"github.com/ramses-project/ramses-core/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
