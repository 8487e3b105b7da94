// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"fmt"
	"log"

	"github.com/Emberwell/lanterna/pkg/evlink"
	"github.com/spf13/cobra"
)

var eventLogCmd = &cobra.Command{
	Use:   "event_log",
	Short: "Display decoded events in human-readable format",
	Long: `Continuously decode and display EvLink events as they arrive.

Each event is shown with timestamp, name, header addressing and decoded
payload data. JSON payloads are pretty-printed; binary payloads are shown
as a hex preview.

Supports both serial and WebSocket connections.`,
	RunE: runEventLog,
}

func init() {
	rootCmd.AddCommand(eventLogCmd)
}

func runEventLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Lanterna - Event Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := evlink.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if err == ErrConnectionClosed {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			event, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if event != nil {
				fmt.Print(evlink.FormatEvent(event))
			}
		}
	}
}
