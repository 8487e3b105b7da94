// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// eventDescriptions maps well-known event names to short descriptions.
var eventDescriptions = map[string]string{
	"file_init":            "filesystem init request",
	"file_init_response":   "filesystem totals",
	"file_create":          "open write session",
	"file_create_response": "write session opened",
	"file_append":          "append bytes",
	"file_append_ack":      "flush acknowledgement",
	"file_flush":           "flush request",
	"file_flush_response":  "flush error reply",
	"file_seek":            "seek request",
	"file_seek_response":   "seek result",
	"file_close":           "close session",
	"file_close_response":  "transfer summary",
	"file_read":            "read chunk request",
	"file_read_response":   "read error",
	"file_read_metadata":   "read chunk metadata",
	"file_read_data":       "read chunk bytes",
	"file_delete":          "delete file",
	"file_delete_response": "delete result",
	"file_list":            "list directory",
	"file_list_response":   "directory entries",
	"file_info":            "status request",
	"file_info_response":   "status report",
}

// DescribeEvent returns a short human-readable description of an event name,
// or the name itself if it is not a known event.
func DescribeEvent(name string) string {
	if desc, ok := eventDescriptions[name]; ok {
		return desc
	}
	return name
}

// FormatEvent renders a decoded event for log-style output:
// a header line with timestamp, name and sizes, and a payload line.
func FormatEvent(ev *Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s (%s)\n",
		ev.Timestamp.Format("15:04:05.000"), ev.Name, DescribeEvent(ev.Name))
	fmt.Fprintf(&b, "  From: %d  To: %d  Flags: 0x%02X  MsgID: %d  Data: %d bytes\n",
		ev.Header.SenderID, ev.Header.ReceiverID, ev.Header.Flags,
		ev.Header.MessageID, len(ev.Data))

	if len(ev.Data) > 0 {
		b.WriteString("  " + formatPayload(ev.Data) + "\n")
	}

	return b.String()
}

// formatPayload renders a payload as a JSON field summary when it parses as
// a document, as text when printable, otherwise as a truncated hex dump.
func formatPayload(data []byte) string {
	if doc, err := ParseDocument(data); err == nil {
		return summarizeDocument(doc)
	}
	if isPrintable(data) {
		return string(data)
	}
	return hexPreview(data, 32)
}

// summarizeDocument renders a document as "key=value" pairs in sorted key
// order, so repeated events line up in the log.
func summarizeDocument(doc Document) string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=", k)
		if s, ok := doc.GetString(k); ok {
			fmt.Fprintf(&b, "%q", s)
		} else if n, ok := doc.GetInt(k); ok {
			fmt.Fprintf(&b, "%d", n)
		} else if f, ok := doc.GetFloat(k); ok {
			fmt.Fprintf(&b, "%g", f)
		} else if v, ok := doc.GetBool(k); ok {
			fmt.Fprintf(&b, "%t", v)
		} else {
			fmt.Fprintf(&b, "%v", doc[k])
		}
	}
	b.WriteByte('}')
	return b.String()
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b > unicode.MaxASCII {
			return false
		}
		r := rune(b)
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return len(data) > 0
}

// hexPreview returns up to max bytes of data as space-separated hex.
func hexPreview(data []byte, max int) string {
	var b strings.Builder
	n := len(data)
	if n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", data[i])
	}
	if len(data) > max {
		fmt.Fprintf(&b, " .. (%d more)", len(data)-max)
	}
	return b.String()
}
