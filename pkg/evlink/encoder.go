// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import "fmt"

// Encoder builds wire frames from (name, data) pairs.
// The only state it keeps is the auto-incrementing message id, so a single
// Encoder should be used per logical sender.
type Encoder struct {
	SenderID      uint8
	ReceiverID    uint8
	SenderGroup   uint8
	ReceiverGroup uint8
	Flags         uint8

	nextMessageID uint16
}

// NewEncoder creates an encoder with the default header identities.
func NewEncoder() *Encoder {
	return &Encoder{
		SenderID:   DefaultSenderID,
		ReceiverID: DefaultReceiverID,
	}
}

// NextMessageID returns the message id the next Encode call will use.
func (e *Encoder) NextMessageID() uint16 {
	return e.nextMessageID
}

// Encode builds a complete wire frame for the event. It never fails:
// arbitrarily large inputs simply produce larger frames, and chunking to the
// transport MTU is the transport's concern.
func (e *Encoder) Encode(name string, data []byte) []byte {
	// Worst case every content byte is stuffed, plus 4 framing bytes.
	frame := make([]byte, 0, 4+2*(HeaderSize+len(name)+len(data)))

	frame = append(frame, FrameStart)

	var header [HeaderSize]byte
	header[headerSenderID] = e.SenderID
	header[headerReceiverID] = e.ReceiverID
	header[headerSenderGroup] = e.SenderGroup
	header[headerReceiverGroup] = e.ReceiverGroup
	header[headerFlags] = e.Flags
	header[headerMessageIDHi] = byte(e.nextMessageID >> 8)
	header[headerMessageIDLo] = byte(e.nextMessageID)
	e.nextMessageID++

	for _, b := range header {
		frame = appendStuffed(frame, b)
	}

	frame = append(frame, EventStart)
	for i := 0; i < len(name); i++ {
		frame = appendStuffed(frame, name[i])
	}

	frame = append(frame, FieldSep)
	for _, b := range data {
		frame = appendStuffed(frame, b)
	}

	frame = append(frame, FrameEnd)
	return frame
}

// isReserved reports whether b collides with a framing byte and must be stuffed.
func isReserved(b byte) bool {
	switch b {
	case FrameStart, EventStart, FieldSep, FrameEnd, Escape:
		return true
	}
	return false
}

// appendStuffed appends b to dst, escaping it if it is a reserved value.
func appendStuffed(dst []byte, b byte) []byte {
	if isReserved(b) {
		return append(dst, Escape, b^EscapeXor)
	}
	return append(dst, b)
}

// StuffBytes applies byte stuffing to a raw byte run.
func StuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		result = appendStuffed(result, b)
	}
	return result
}

// UnstuffBytes removes byte stuffing from escaped data.
// This is the inverse of StuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscapeXor)
			escapeNext = false
		} else if b == Escape {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
