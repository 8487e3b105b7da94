// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import (
	"fmt"
	"time"
)

// Decoder implements the EvLink incremental frame decoder state machine.
//
// Bytes may be fed in arbitrary fragments; parse state (including a pending
// escape) carries across Feed calls, so transport delivery granularity never
// affects decoding. Corrupt frames are dropped and the decoder resynchronizes
// on the next start-of-frame byte.
type Decoder struct {
	state      int
	escapeNext bool

	header    [HeaderSize]byte
	headerLen int
	name      []byte
	data      []byte

	stats Statistics
}

// NewDecoder creates a new frame decoder in the idle state.
func NewDecoder() *Decoder {
	d := &Decoder{
		name: make([]byte, 0, MaxNameSize),
	}
	d.stats.Reset()
	return d
}

// Reset returns the decoder to idle, discarding any in-progress frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escapeNext = false
	d.headerLen = 0
	d.name = d.name[:0]
	d.data = nil
}

// restart begins collecting a new frame after a start-of-frame byte.
func (d *Decoder) restart() {
	d.Reset()
	d.state = stateHeader
}

// Statistics returns the decoder's running counters.
func (d *Decoder) Statistics() *Statistics {
	return &d.stats
}

// Feed consumes a chunk of transport bytes and returns every event completed
// by it, in order. Framing corruption is recovered internally and recorded in
// the decoder statistics; it is never surfaced as an error to the caller.
func (d *Decoder) Feed(p []byte) []*Event {
	var events []*Event
	for _, b := range p {
		ev, err := d.DecodeByte(b)
		if err != nil {
			d.stats.FramingErrors++
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed event, or nil if the frame is incomplete.
// Errors are diagnostic: the decoder has already dropped the bad frame and
// rearmed itself, so callers may log the error and keep feeding bytes.
func (d *Decoder) DecodeByte(b byte) (*Event, error) {
	d.stats.Bytes++

	// A pending escape consumes the next byte as a literal, whatever its value.
	if d.escapeNext {
		d.escapeNext = false
		return d.consume(b ^ EscapeXor)
	}

	switch b {
	case Escape:
		if d.state == stateIdle {
			return nil, nil
		}
		d.escapeNext = true
		return nil, nil

	case FrameStart:
		if d.state == stateIdle {
			d.restart()
			return nil, nil
		}
		// New frame while one is in progress: drop the old one and resync.
		st := d.state
		d.restart()
		return nil, fmt.Errorf("frame start in state %d: previous frame dropped", st)

	case FrameEnd:
		switch d.state {
		case stateIdle:
			return nil, nil
		case stateData:
			ev := &Event{
				Name:      string(d.name),
				Data:      d.data,
				Header:    parseHeader(d.header),
				Timestamp: time.Now(),
			}
			d.Reset()
			d.stats.frameDecoded()
			return ev, nil
		default:
			st := d.state
			d.Reset()
			return nil, fmt.Errorf("unexpected frame end in state %d", st)
		}

	case EventStart:
		switch d.state {
		case stateIdle:
			return nil, nil
		case stateEventStart:
			d.state = stateName
			return nil, nil
		case stateName, stateData:
			// Unescaped STX past the header: restart the frame body,
			// keeping the header already collected.
			d.name = d.name[:0]
			d.data = nil
			d.state = stateName
			return nil, fmt.Errorf("unexpected event start: frame body restarted")
		default:
			d.Reset()
			return nil, fmt.Errorf("event start before header complete")
		}

	case FieldSep:
		switch d.state {
		case stateIdle:
			return nil, nil
		case stateName:
			d.state = stateData
			return nil, nil
		default:
			st := d.state
			d.Reset()
			return nil, fmt.Errorf("unexpected field separator in state %d", st)
		}
	}

	return d.consume(b)
}

// consume accepts one unstuffed content byte in the current state.
func (d *Decoder) consume(v byte) (*Event, error) {
	switch d.state {
	case stateIdle:
		// Garbage between frames is silently discarded.
		return nil, nil

	case stateHeader:
		d.header[d.headerLen] = v
		d.headerLen++
		if d.headerLen == HeaderSize {
			d.state = stateEventStart
		}
		return nil, nil

	case stateEventStart:
		d.Reset()
		return nil, fmt.Errorf("expected event start marker, got 0x%02X", v)

	case stateName:
		if len(d.name) >= MaxNameSize {
			d.Reset()
			return nil, fmt.Errorf("event name exceeds %d bytes", MaxNameSize)
		}
		d.name = append(d.name, v)
		return nil, nil

	case stateData:
		if len(d.data) >= MaxDataSize {
			d.Reset()
			return nil, fmt.Errorf("event data exceeds %d bytes", MaxDataSize)
		}
		d.data = append(d.data, v)
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
