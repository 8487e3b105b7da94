// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brutella/dnssd"
	"github.com/spf13/cobra"
)

var discoverTimeout int

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover lanterna agents on the LAN",
	Long: `Browse the LAN for _evlink._tcp services via mDNS.

Every lanterna agent (and any device firmware announcing the service)
is listed with its address, port and TXT metadata.

Examples:
  lanterna discover
  lanterna discover --timeout 10

Exit codes:
  0 - At least one agent found
  1 - No agents found within the timeout`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 5, "Seconds to browse before giving up")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	fmt.Printf("Lanterna - LAN Discovery\n")
	fmt.Printf("Browsing _evlink._tcp for %d seconds...\n\n", discoverTimeout)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(discoverTimeout)*time.Second)
	defer cancel()

	found := 0
	addFn := func(e dnssd.BrowseEntry) {
		found++
		fmt.Printf("Agent found: %s\n", e.Name)
		for _, ip := range e.IPs {
			fmt.Printf("  Address: %s:%d\n", ip, e.Port)
		}
		if len(e.Text) > 0 {
			fmt.Printf("  TXT:\n")
			for k, v := range e.Text {
				fmt.Printf("    %s=%s\n", k, v)
			}
		}
		if path, ok := e.Text["path"]; ok {
			host := e.Host
			if host == "" && len(e.IPs) > 0 {
				host = e.IPs[0].String()
			}
			fmt.Printf("  Connect: lanterna fs info --url ws://%s:%d%s\n", host, e.Port, path)
		}
		fmt.Println()
	}
	rmvFn := func(e dnssd.BrowseEntry) {}

	err := dnssd.LookupType(ctx, "_evlink._tcp.local.", addFn, rmvFn)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mDNS browse: %v", err)
	}

	fmt.Printf("--- Discovery summary ---\n")
	fmt.Printf("Agents found: %d\n", found)
	if found == 0 {
		fmt.Printf("No agents discovered. Is an agent running on this network?\n")
		os.Exit(1)
	}
	return nil
}
