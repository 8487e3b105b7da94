// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

// Package config handles the lanterna agent configuration file.
//
// The configuration is a YAML file with the following top-level sections:
//   - link: framing identity (device/group IDs stamped into frame headers)
//   - serve: agent transports (HTTP listen address, serial port settings)
//   - storage: file-transfer storage root, quota and buffer sizing
//   - discovery: LAN service announcement
//
// Example:
//
//	link:
//	  sender_id: 1
//	  receiver_id: 0
//	serve:
//	  listen: ":8266"
//	  serial_port: "/dev/ttyUSB0"
//	  baud_rate: 115200
//	storage:
//	  root: "./data"
//	  filesystem: "littlefs"
//	  quota_bytes: 1441792
//	  buffer_size: 4096
//	  max_buffer_size: 32768
//	discovery:
//	  enabled: true
//	  instance: "workbench-esp32"
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the lanterna agent.
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Serve     ServeConfig     `yaml:"serve"`
	Storage   StorageConfig   `yaml:"storage"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// LinkConfig holds the frame header identity used for outgoing events.
type LinkConfig struct {
	// SenderID is stamped into the sender field of every outgoing frame.
	// Default: 1.
	SenderID uint8 `yaml:"sender_id"`

	// ReceiverID addresses outgoing frames. 0 is the broadcast address.
	ReceiverID uint8 `yaml:"receiver_id"`

	SenderGroup   uint8 `yaml:"sender_group"`
	ReceiverGroup uint8 `yaml:"receiver_group"`
}

// ServeConfig holds the agent's transport settings.
type ServeConfig struct {
	// Listen is the HTTP listen address for the WebSocket endpoint.
	// Default: ":8266".
	Listen string `yaml:"listen"`

	// SerialPort selects a serial transport instead of HTTP when set.
	SerialPort string `yaml:"serial_port"`

	// BaudRate applies to the serial transport. Default: 115200.
	BaudRate int `yaml:"baud_rate"`
}

// StorageConfig holds file-transfer storage settings.
type StorageConfig struct {
	// Root is the directory served as the transfer filesystem.
	// Relative paths are resolved against the config file's directory.
	// Default: "./data".
	Root string `yaml:"root"`

	// Filesystem is the label reported in file_init/file_info replies.
	// Default: "littlefs".
	Filesystem string `yaml:"filesystem"`

	// QuotaBytes caps the reported filesystem size. Default: 1441792
	// (the 1.375 MiB partition the firmware ships with).
	QuotaBytes int64 `yaml:"quota_bytes"`

	// BufferSize is the fixed write buffer size. Default: 4096.
	BufferSize int `yaml:"buffer_size"`

	// MaxBufferSize caps per-session dynamic buffers. Default: 32768.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// HeapBudget limits total dynamic buffer memory. 0 means unlimited.
	HeapBudget int `yaml:"heap_budget"`
}

// DiscoveryConfig controls mDNS service announcement.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Instance is the announced service instance name.
	// Default: the hostname.
	Instance string `yaml:"instance"`
}

// Load reads and parses a YAML config file.
// Relative paths in the config are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if absDir, err := filepath.Abs(dir); err == nil {
		dir = absDir
	}
	cfg.ResolveRelativePaths(dir)

	return cfg, nil
}

// Parse parses a YAML config from raw bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return &cfg, nil
}

// ResolveRelativePaths resolves relative file paths in the config
// against the given context directory (typically the config file's directory).
func (c *Config) ResolveRelativePaths(contextDir string) {
	if c.Storage.Root != "" && !filepath.IsAbs(c.Storage.Root) {
		c.Storage.Root = filepath.Join(contextDir, c.Storage.Root)
	}
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Link.SenderID == 0 {
		c.Link.SenderID = 1
	}
	if c.Serve.Listen == "" {
		c.Serve.Listen = ":8266"
	}
	if c.Serve.BaudRate == 0 {
		c.Serve.BaudRate = 115200
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "./data"
	}
	if c.Storage.Filesystem == "" {
		c.Storage.Filesystem = "littlefs"
	}
	if c.Storage.QuotaBytes == 0 {
		c.Storage.QuotaBytes = 1441792
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 4096
	}
	if c.Storage.MaxBufferSize == 0 {
		c.Storage.MaxBufferSize = 32768
	}
	if c.Discovery.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Discovery.Instance = host
		} else {
			c.Discovery.Instance = "lanterna"
		}
	}
}

// Validate checks the configuration for errors.
// Call ApplyDefaults before Validate if you want defaults to be set.
func (c *Config) Validate() error {
	if c.Serve.Listen == "" && c.Serve.SerialPort == "" {
		return fmt.Errorf("config: serve.listen or serve.serial_port is required")
	}
	if c.Serve.BaudRate < 0 {
		return fmt.Errorf("config: serve.baud_rate must be positive, got %d", c.Serve.BaudRate)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("config: storage.root is required")
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("config: storage.quota_bytes must not be negative, got %d", c.Storage.QuotaBytes)
	}
	if c.Storage.BufferSize <= 0 {
		return fmt.Errorf("config: storage.buffer_size must be positive, got %d", c.Storage.BufferSize)
	}
	if c.Storage.MaxBufferSize < c.Storage.BufferSize {
		return fmt.Errorf("config: storage.max_buffer_size (%d) must be at least storage.buffer_size (%d)",
			c.Storage.MaxBufferSize, c.Storage.BufferSize)
	}
	if c.Storage.HeapBudget < 0 {
		return fmt.Errorf("config: storage.heap_budget must not be negative, got %d", c.Storage.HeapBudget)
	}
	return nil
}
