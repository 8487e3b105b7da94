// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

// Package evlink provides a reference Go implementation of the EvLink event protocol.
//
// EvLink is a self-delimiting binary framing protocol for exchanging named,
// binary-safe events between controllers and embedded script-runner devices.
// This package provides frame encoding/decoding, an incremental stream decoder
// that tolerates arbitrary transport fragmentation, and a name-keyed dispatch
// router.
//
// Frame layout on the wire:
//
//	[SOH] [header, 7 bytes stuffed] [STX] [name, stuffed] [US] [data, stuffed] [EOT]
//
// Any occurrence of a reserved byte inside header, name or data is sent as
// ESC followed by the value XOR 0x20, and reversed on decode.
package evlink

// Protocol framing bytes
const (
	FrameStart = 0x01 // SOH - start of frame
	EventStart = 0x02 // STX - end of header, start of event name
	FieldSep   = 0x1F // US - separator between name and data
	FrameEnd   = 0x04 // EOT - end of frame
	Escape     = 0x1B // ESC - byte stuffing prefix
	EscapeXor  = 0x20 // XOR mask applied to stuffed bytes
)

// HeaderSize is the fixed logical header length in bytes, pre-stuffing.
const HeaderSize = 7

// Decoder limits. A frame whose name or data section exceeds these is
// treated as corrupt and dropped; the decoder resynchronizes on the next
// start-of-frame byte.
const (
	MaxNameSize = 128
	MaxDataSize = 1 << 20
)

// Header byte offsets
const (
	headerSenderID      = 0
	headerReceiverID    = 1
	headerSenderGroup   = 2
	headerReceiverGroup = 3
	headerFlags         = 4
	headerMessageIDHi   = 5
	headerMessageIDLo   = 6
)

// Default header identities used by Encoder until overridden.
const (
	DefaultSenderID   = 1
	DefaultReceiverID = 0
)

// Decoder states (internal)
const (
	stateIdle       = iota // scanning for SOH
	stateHeader            // collecting 7 unstuffed header bytes
	stateEventStart        // expecting STX after the header
	stateName              // collecting event name until US
	stateData              // collecting event data until EOT
)
