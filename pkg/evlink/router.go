// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import (
	"fmt"
	"io"
)

// HandlerFunc handles the payload of one named event.
type HandlerFunc func(data []byte)

// UnhandledFunc handles events no specific handler was registered for.
type UnhandledFunc func(name string, data []byte)

// Router maps event names to handlers and frames outgoing replies.
//
// A Router is owned by a single dispatch goroutine; the one task draining the
// transport feeds the Decoder and calls Dispatch, so no locking is done here.
type Router struct {
	enc       *Encoder
	sink      io.Writer
	handlers  map[string]HandlerFunc
	unhandled UnhandledFunc

	// Counters for diagnostics
	Dispatched uint64
	Unrouted   uint64
}

// NewRouter creates a router that frames outgoing events with enc and writes
// them to sink. A nil encoder gets the package defaults.
func NewRouter(sink io.Writer, enc *Encoder) *Router {
	if enc == nil {
		enc = NewEncoder()
	}
	return &Router{
		enc:      enc,
		sink:     sink,
		handlers: make(map[string]HandlerFunc),
	}
}

// Encoder returns the encoder used for outgoing frames.
func (r *Router) Encoder() *Encoder {
	return r.enc
}

// On registers the handler for an event name. Re-registering a name replaces
// the previous handler.
func (r *Router) On(name string, h HandlerFunc) {
	if h == nil {
		delete(r.handlers, name)
		return
	}
	r.handlers[name] = h
}

// OnUnhandled sets the fallback invoked for events without a handler.
func (r *Router) OnUnhandled(h UnhandledFunc) {
	r.unhandled = h
}

// Dispatch routes a decoded event to its handler, or to the unhandled
// fallback. Dispatch itself never fails; handlers report their own failures
// through reply events.
func (r *Router) Dispatch(ev *Event) {
	if h, ok := r.handlers[ev.Name]; ok {
		r.Dispatched++
		h(ev.Data)
		return
	}
	r.Unrouted++
	if r.unhandled != nil {
		r.unhandled(ev.Name, ev.Data)
	}
}

// Send encodes the event and writes the frame to the transport sink.
func (r *Router) Send(name string, data []byte) error {
	if r.sink == nil {
		return fmt.Errorf("evlink: no transport sink configured")
	}
	frame := r.enc.Encode(name, data)
	n, err := r.sink.Write(frame)
	if err != nil {
		return fmt.Errorf("evlink: send %q: %w", name, err)
	}
	if n != len(frame) {
		return fmt.Errorf("evlink: send %q: short write %d/%d", name, n, len(frame))
	}
	return nil
}
