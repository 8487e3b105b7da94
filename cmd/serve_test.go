// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Emberwell/lanterna/internal/config"
)

func newTestAgent(t *testing.T) *agent {
	t.Helper()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Storage.Root = t.TempDir()

	return newAgent(cfg, prometheus.NewRegistry())
}

// deadConn fails every read, like a serial port whose cable was pulled.
type deadConn struct{ err error }

func (c *deadConn) Read(p []byte) (int, error)  { return 0, c.err }
func (c *deadConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *deadConn) Close() error                { return nil }

// blockingConn never delivers data until unblocked.
type blockingConn struct{ unblock chan struct{} }

func (c *blockingConn) Read(p []byte) (int, error) {
	<-c.unblock
	return 0, io.EOF
}
func (c *blockingConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *blockingConn) Close() error                { return nil }

func TestServeSerialExitsWhenLinkDrops(t *testing.T) {
	a := newTestAgent(t)

	done := make(chan error, 1)
	go func() {
		done <- a.serveSerial(context.Background(), &deadConn{err: io.EOF}, "ttyTEST")
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after the link dropped")
		}
		if !errors.Is(err, io.EOF) {
			t.Fatalf("err = %v, want wrapped io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serveSerial kept running after the link dropped")
	}
}

func TestServeSerialStopsOnCancel(t *testing.T) {
	a := newTestAgent(t)
	ctx, cancel := context.WithCancel(context.Background())

	conn := &blockingConn{unblock: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- a.serveSerial(ctx, conn, "ttyTEST") }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err = %v, want nil on shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serveSerial did not return after cancel")
	}
	close(conn.unblock)
}
