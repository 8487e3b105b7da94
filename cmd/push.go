// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path"
	"time"

	"github.com/Emberwell/lanterna/pkg/evlink"
	"github.com/Emberwell/lanterna/pkg/transfer"
	"github.com/spf13/cobra"
)

var (
	pushRemoteName string
	pushChunkSize  int
	pushBufferSize int
	pushTimeout    int
)

var pushCmd = &cobra.Command{
	Use:   "push <local-file>",
	Short: "Upload a file to the remote filesystem",
	Long: `Upload a local file over the EvLink file transfer protocol.

The transfer opens a session with file_create, streams the file contents in
chunks via file_append, and verifies every flush acknowledgement against a
locally computed CRC before closing the session. A mismatch aborts the
transfer.

Examples:
  # Upload firmware.lua to the device over serial
  lanterna push firmware.lua --port /dev/ttyUSB0

  # Upload under a different remote name via WebSocket
  lanterna push build/app.lua --remote /app.lua --url ws://device.local/ws

Exit codes:
  0 - Transfer complete, all checksums verified
  1 - Transfer failed or checksum mismatch
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().StringVar(&pushRemoteName, "remote", "", "Remote filename (default: basename of local file)")
	pushCmd.Flags().IntVar(&pushChunkSize, "chunk-size", 1024, "Bytes per file_append event")
	pushCmd.Flags().IntVar(&pushBufferSize, "buffer-size", 4096, "Requested remote write buffer size")
	pushCmd.Flags().IntVar(&pushTimeout, "timeout", 10, "Timeout in seconds per reply")
}

func runPush(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %v", localPath, err)
	}

	remote := pushRemoteName
	if remote == "" {
		remote = "/" + path.Base(localPath)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Lanterna - File Upload\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Local: %s (%d bytes)\n", localPath, len(content))
	fmt.Printf("Remote: %s\n\n", remote)

	c := newClient(conn)
	timeout := time.Duration(pushTimeout) * time.Second

	// Open the session
	createReq := map[string]interface{}{
		"filename":    remote,
		"size":        len(content),
		"buffer_size": pushBufferSize,
	}
	if err := c.send(transfer.EventFileCreate, createReq); err != nil {
		return err
	}

	var created struct {
		Filename   string `json:"filename"`
		BufferSize int    `json:"buffer_size"`
	}
	if err := c.waitStatus(transfer.EventFileCreateResponse, timeout, &created); err != nil {
		return err
	}
	fmt.Printf("Session open: %s (%d byte remote buffer)\n", created.Filename, created.BufferSize)

	// Stream the content. Acks arrive when the remote buffer flushes; each
	// carries the CRC of exactly the bytes it flushed, so the running total
	// maps an ack back onto a slice of the local file.
	start := time.Now()
	sent := 0
	acked := int64(0)
	ackCount := 0

	verifyAck := func(ev *evlink.Event) error {
		var ack struct {
			Status string `json:"status"`
			Bytes  int    `json:"bytes"`
			CRC    uint32 `json:"crc"`
			Total  int64  `json:"total"`
		}
		if err := json.Unmarshal(ev.Data, &ack); err != nil {
			return fmt.Errorf("bad ack: %v", err)
		}
		if ack.Status != "ack" {
			var status struct {
				Message string `json:"message"`
			}
			json.Unmarshal(ev.Data, &status)
			return fmt.Errorf("remote error: %s", status.Message)
		}
		chunkStart := ack.Total - int64(ack.Bytes)
		if chunkStart < 0 || ack.Total > int64(len(content)) {
			return fmt.Errorf("ack out of range: %d bytes at total %d", ack.Bytes, ack.Total)
		}
		want := crc32.ChecksumIEEE(content[chunkStart:ack.Total])
		if ack.CRC != want {
			return fmt.Errorf("checksum mismatch at %d..%d: remote %08X, local %08X",
				chunkStart, ack.Total, ack.CRC, want)
		}
		acked = ack.Total
		ackCount++
		return nil
	}

	for sent < len(content) {
		end := sent + pushChunkSize
		if end > len(content) {
			end = len(content)
		}
		if err := c.send(transfer.EventFileAppend, content[sent:end]); err != nil {
			return err
		}
		sent = end

		// Drain acks without blocking on chunks that fit in the remote buffer.
	drain:
		for {
			select {
			case ev := <-c.events:
				if ev.Name == transfer.EventFileAppendAck {
					if err := verifyAck(ev); err != nil {
						return err
					}
				}
			case err := <-c.errs:
				return fmt.Errorf("read: %v", err)
			default:
				break drain
			}
		}
	}

	// Close flushes the tail; its summary settles the final byte count.
	if err := c.send(transfer.EventFileClose, nil); err != nil {
		return err
	}

	var summary struct {
		BytesWritten   int64   `json:"bytes_written"`
		ExpectedSize   int64   `json:"expected_size"`
		SizeDifference int64   `json:"size_difference"`
		ElapsedMs      int64   `json:"elapsed_ms"`
		FlushCount     int     `json:"flush_count"`
		SpeedKbps      float64 `json:"speed_kbps"`
	}
	for {
		ev, err := c.next(timeout)
		if err != nil {
			return err
		}
		if ev.Name == transfer.EventFileAppendAck {
			if err := verifyAck(ev); err != nil {
				return err
			}
			continue
		}
		if ev.Name == transfer.EventFileCloseResponse {
			if err := decodeStatus(transfer.EventFileCloseResponse, ev.Data, &summary); err != nil {
				return err
			}
			break
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("\nUpload complete\n")
	fmt.Printf("  Bytes written: %d/%d\n", summary.BytesWritten, summary.ExpectedSize)
	fmt.Printf("  Flushes: %d (%d verified acks, %d bytes)\n", summary.FlushCount, ackCount, acked)
	fmt.Printf("  Remote time: %d ms (%.1f KB/s)\n", summary.ElapsedMs, summary.SpeedKbps)
	fmt.Printf("  Round trip: %s\n", elapsed.Round(time.Millisecond))

	if summary.SizeDifference != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: size difference %d bytes\n", summary.SizeDifference)
		os.Exit(1)
	}
	return nil
}
