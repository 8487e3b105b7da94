// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import (
	"encoding/json"
	"fmt"
)

// Event payloads carrying structured commands are JSON documents keyed by
// string field names. These helpers decode a payload once into a generic
// document and extract typed fields, for tooling that inspects events
// without knowing every schema.

// Document is a decoded JSON event payload.
type Document map[string]interface{}

// ParseDocument decodes a JSON payload into a Document.
func ParseDocument(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return doc, nil
}

// GetString extracts a string field from a document.
func (d Document) GetString(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt extracts an integer field. JSON numbers arrive as float64; values
// with a fractional part are rejected.
func (d Document) GetInt(key string) (int64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// GetUint extracts a non-negative integer field.
func (d Document) GetUint(key string) (uint64, bool) {
	i, ok := d.GetInt(key)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

// GetFloat extracts a numeric field.
func (d Document) GetFloat(key string) (float64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// GetBool extracts a boolean field.
func (d Document) GetBool(key string) (bool, bool) {
	v, ok := d[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
