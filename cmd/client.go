// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Emberwell/lanterna/pkg/evlink"
)

// client drives request/reply exchanges over an open connection. A reader
// goroutine feeds the decoder; replies arrive on the events channel in frame
// order.
type client struct {
	conn   Connection
	enc    *evlink.Encoder
	events chan *evlink.Event
	errs   chan error
}

func newClient(conn Connection) *client {
	c := &client{
		conn:   conn,
		enc:    evlink.NewEncoder(),
		events: make(chan *evlink.Event, 16),
		errs:   make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *client) readLoop() {
	decoder := evlink.NewDecoder()
	buf := make([]byte, 512)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.errs <- err
			return
		}
		for _, ev := range decoder.Feed(buf[:n]) {
			c.events <- ev
		}
	}
}

// send frames and writes one event. A nil payload sends an empty data field;
// a non-[]byte payload is JSON-encoded.
func (c *client) send(name string, payload interface{}) error {
	var data []byte
	switch p := payload.(type) {
	case nil:
	case []byte:
		data = p
	default:
		var err error
		data, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal %s: %v", name, err)
		}
	}

	frame := c.enc.Encode(name, data)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send %s: %v", name, err)
	}
	return nil
}

// next returns the next event of any name, or times out.
func (c *client) next(timeout time.Duration) (*evlink.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case err := <-c.errs:
		return nil, fmt.Errorf("read: %v", err)
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout after %s", timeout)
	}
}

// wait discards events until one with the given name arrives.
func (c *client) wait(name string, timeout time.Duration) (*evlink.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timeout waiting for %s", name)
		}
		ev, err := c.next(remaining)
		if err != nil {
			return nil, err
		}
		if ev.Name == name {
			return ev, nil
		}
	}
}

// waitStatus waits for the named reply and decodes its JSON body into v,
// failing on status "error".
func (c *client) waitStatus(name string, timeout time.Duration, v interface{}) error {
	ev, err := c.wait(name, timeout)
	if err != nil {
		return err
	}
	return decodeStatus(name, ev.Data, v)
}

// decodeStatus unmarshals a JSON reply into v, surfacing status "error"
// replies as errors. v may be nil when only the status matters.
func decodeStatus(name string, data []byte, v interface{}) error {
	var status struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("%s: bad reply: %v", name, err)
	}
	if status.Status == "error" {
		return fmt.Errorf("%s: %s", name, status.Message)
	}

	if v != nil {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%s: bad reply: %v", name, err)
		}
	}
	return nil
}
