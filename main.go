// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// plantctl - Power-plant demo rig bus tool
//
// Runs the bus master, simulated slaves, a WebSocket hub and a passive
// frame analyzer for the rig's serial bus.

package main

import (
	"os"

	"github.com/Thermoquad/plantctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
