// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import (
	"bytes"
	"fmt"
	"testing"
)

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter(&bytes.Buffer{}, nil)

	var got []byte
	r.On("ping", func(data []byte) {
		got = append([]byte{}, data...)
	})

	r.Dispatch(&Event{Name: "ping", Data: []byte("abc")})
	if !bytes.Equal(got, []byte("abc")) {
		t.Errorf("handler got % X, want 'abc'", got)
	}
	if r.Dispatched != 1 {
		t.Errorf("expected 1 dispatched, got %d", r.Dispatched)
	}
}

func TestRouter_ReRegisterReplaces(t *testing.T) {
	r := NewRouter(&bytes.Buffer{}, nil)

	first, second := 0, 0
	r.On("ev", func([]byte) { first++ })
	r.On("ev", func([]byte) { second++ })

	r.Dispatch(&Event{Name: "ev"})
	if first != 0 || second != 1 {
		t.Errorf("re-registration should replace: first=%d second=%d", first, second)
	}
}

func TestRouter_UnhandledFallback(t *testing.T) {
	r := NewRouter(&bytes.Buffer{}, nil)

	var name string
	var data []byte
	r.OnUnhandled(func(n string, d []byte) {
		name = n
		data = d
	})

	r.Dispatch(&Event{Name: "mystery", Data: []byte{1, 2}})
	if name != "mystery" || !bytes.Equal(data, []byte{1, 2}) {
		t.Errorf("fallback got (%q, % X)", name, data)
	}
	if r.Unrouted != 1 {
		t.Errorf("expected 1 unrouted, got %d", r.Unrouted)
	}
}

func TestRouter_NoHandlerNoFallback(t *testing.T) {
	r := NewRouter(&bytes.Buffer{}, nil)
	// Must not panic.
	r.Dispatch(&Event{Name: "nobody_home"})
}

func TestRouter_SendProducesDecodableFrame(t *testing.T) {
	var sink bytes.Buffer
	r := NewRouter(&sink, nil)

	if err := r.Send("file_append_ack", []byte(`{"bytes":4}`)); err != nil {
		t.Fatalf("send error: %v", err)
	}

	dec := NewDecoder()
	events := dec.Feed(sink.Bytes())
	if len(events) != 1 {
		t.Fatalf("expected 1 event on the wire, got %d", len(events))
	}
	if events[0].Name != "file_append_ack" {
		t.Errorf("wire event name %q", events[0].Name)
	}
	if string(events[0].Data) != `{"bytes":4}` {
		t.Errorf("wire event data %q", events[0].Data)
	}
}

func TestRouter_SendNoSink(t *testing.T) {
	r := NewRouter(nil, nil)
	if err := r.Send("x", nil); err == nil {
		t.Error("expected error when no sink is configured")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, fmt.Errorf("transport down")
}

func TestRouter_SendWriteError(t *testing.T) {
	r := NewRouter(failingWriter{}, nil)
	if err := r.Send("x", nil); err == nil {
		t.Error("expected transport error to propagate")
	}
}
