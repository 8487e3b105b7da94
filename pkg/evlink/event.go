// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import "time"

// Header carries the fixed 7-byte frame header. Receivers currently use it
// for diagnostics only; the message id is the one field with defined
// semantics (incremented by the sender on every frame, wraps at 16 bits).
type Header struct {
	SenderID      uint8
	ReceiverID    uint8
	SenderGroup   uint8
	ReceiverGroup uint8
	Flags         uint8
	MessageID     uint16
}

// Event is one complete decoded frame: a name and an opaque payload.
// Partial frames never surface as events.
type Event struct {
	Name      string
	Data      []byte
	Header    Header
	Timestamp time.Time
}

func parseHeader(raw [HeaderSize]byte) Header {
	return Header{
		SenderID:      raw[headerSenderID],
		ReceiverID:    raw[headerReceiverID],
		SenderGroup:   raw[headerSenderGroup],
		ReceiverGroup: raw[headerReceiverGroup],
		Flags:         raw[headerFlags],
		MessageID:     uint16(raw[headerMessageIDHi])<<8 | uint16(raw[headerMessageIDLo]),
	}
}
