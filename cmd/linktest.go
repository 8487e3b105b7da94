// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Emberwell/lanterna/pkg/evlink"
	"github.com/spf13/cobra"
)

var (
	linkTestTimeout int
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test connection by waiting for a valid EvLink frame",
	Long: `Wait for a valid EvLink frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any
complete, well-formed EvLink frame. Garbage bytes between frames are
ignored while the decoder resynchronizes.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing connectivity to a device or the lanterna agent.`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Lanterna - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", linkTestTimeout)
	fmt.Printf("Waiting for valid EvLink frame...\n\n")

	decoder := evlink.NewDecoder()
	buf := make([]byte, 128)

	// Channel for frame reception
	eventChan := make(chan *evlink.Event, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		invalidBytes := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				event, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					// Ignore decode errors, just count invalid bytes
					invalidBytes++
					continue
				}
				if event != nil {
					// Got a valid frame!
					if invalidBytes > 0 {
						fmt.Printf("(skipped %d invalid bytes before sync)\n", invalidBytes)
					}
					eventChan <- event
					return
				}
			}
		}
	}()

	// Wait for frame or timeout
	select {
	case event := <-eventChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Event: %s\n", event.Name)
		fmt.Printf("  Sender: %d (group %d)\n", event.Header.SenderID, event.Header.SenderGroup)
		fmt.Printf("  Receiver: %d (group %d)\n", event.Header.ReceiverID, event.Header.ReceiverGroup)
		fmt.Printf("  Message ID: %d\n", event.Header.MessageID)
		fmt.Printf("  Data: %d bytes\n", len(event.Data))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(linkTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", linkTestTimeout)
		os.Exit(1)
	}

	return nil
}
