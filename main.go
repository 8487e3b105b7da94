// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs
//
// Lanterna - EvLink event framing and file transfer toolkit.
//
// A host-side agent and client CLI for the EvLink protocol: event framing,
// buffered file transfer, link testing, monitoring and LAN discovery.

package main

import (
	"os"

	"github.com/Emberwell/lanterna/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
