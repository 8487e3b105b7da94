// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
link:
  sender_id: 7
  receiver_id: 2
  sender_group: 1

serve:
  listen: ":9000"
  serial_port: "/dev/ttyUSB0"
  baud_rate: 921600

storage:
  root: "/var/lib/lanterna"
  filesystem: "littlefs"
  quota_bytes: 1441792
  buffer_size: 2048
  max_buffer_size: 16384

discovery:
  enabled: true
  instance: "workbench"
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Link.SenderID != 7 {
		t.Errorf("sender_id = %d, want 7", cfg.Link.SenderID)
	}
	if cfg.Link.ReceiverID != 2 {
		t.Errorf("receiver_id = %d, want 2", cfg.Link.ReceiverID)
	}
	if cfg.Serve.Listen != ":9000" {
		t.Errorf("listen = %q, want %q", cfg.Serve.Listen, ":9000")
	}
	if cfg.Serve.SerialPort != "/dev/ttyUSB0" {
		t.Errorf("serial_port = %q", cfg.Serve.SerialPort)
	}
	if cfg.Serve.BaudRate != 921600 {
		t.Errorf("baud_rate = %d, want 921600", cfg.Serve.BaudRate)
	}
	if cfg.Storage.Root != "/var/lib/lanterna" {
		t.Errorf("root = %q", cfg.Storage.Root)
	}
	if cfg.Storage.QuotaBytes != 1441792 {
		t.Errorf("quota_bytes = %d", cfg.Storage.QuotaBytes)
	}
	if cfg.Storage.BufferSize != 2048 {
		t.Errorf("buffer_size = %d", cfg.Storage.BufferSize)
	}
	if !cfg.Discovery.Enabled {
		t.Error("discovery.enabled = false, want true")
	}
	if cfg.Discovery.Instance != "workbench" {
		t.Errorf("instance = %q", cfg.Discovery.Instance)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("link: [not, a, mapping]")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Link.SenderID != 1 {
		t.Errorf("sender_id default = %d, want 1", cfg.Link.SenderID)
	}
	if cfg.Link.ReceiverID != 0 {
		t.Errorf("receiver_id default = %d, want 0", cfg.Link.ReceiverID)
	}
	if cfg.Serve.Listen != ":8266" {
		t.Errorf("listen default = %q, want :8266", cfg.Serve.Listen)
	}
	if cfg.Serve.BaudRate != 115200 {
		t.Errorf("baud_rate default = %d, want 115200", cfg.Serve.BaudRate)
	}
	if cfg.Storage.Root != "./data" {
		t.Errorf("root default = %q, want ./data", cfg.Storage.Root)
	}
	if cfg.Storage.Filesystem != "littlefs" {
		t.Errorf("filesystem default = %q, want littlefs", cfg.Storage.Filesystem)
	}
	if cfg.Storage.QuotaBytes != 1441792 {
		t.Errorf("quota_bytes default = %d, want 1441792", cfg.Storage.QuotaBytes)
	}
	if cfg.Storage.BufferSize != 4096 {
		t.Errorf("buffer_size default = %d, want 4096", cfg.Storage.BufferSize)
	}
	if cfg.Storage.MaxBufferSize != 32768 {
		t.Errorf("max_buffer_size default = %d, want 32768", cfg.Storage.MaxBufferSize)
	}
	if cfg.Discovery.Instance == "" {
		t.Error("discovery.instance default is empty")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "no transport",
			mutate: func(c *Config) { c.Serve.Listen = ""; c.Serve.SerialPort = "" },
			want:   "serve.listen or serve.serial_port",
		},
		{
			name:   "negative baud",
			mutate: func(c *Config) { c.Serve.BaudRate = -1 },
			want:   "serve.baud_rate",
		},
		{
			name:   "empty root",
			mutate: func(c *Config) { c.Storage.Root = "" },
			want:   "storage.root",
		},
		{
			name:   "negative quota",
			mutate: func(c *Config) { c.Storage.QuotaBytes = -1 },
			want:   "storage.quota_bytes",
		},
		{
			name:   "zero buffer",
			mutate: func(c *Config) { c.Storage.BufferSize = 0 },
			want:   "storage.buffer_size",
		},
		{
			name:   "max below fixed",
			mutate: func(c *Config) { c.Storage.MaxBufferSize = 1024 },
			want:   "storage.max_buffer_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_ResolvesRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lanterna.yaml")
	body := "storage:\n  root: \"data\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Root != filepath.Join(dir, "data") {
		t.Errorf("root = %q, want %q", cfg.Storage.Root, filepath.Join(dir, "data"))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
