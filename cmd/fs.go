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

	"github.com/Emberwell/lanterna/pkg/transfer"
	"github.com/spf13/cobra"
)

var (
	fsTimeout   int
	fsChunkSize int
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Inspect and manage the remote filesystem",
	Long: `Remote filesystem operations over the EvLink file transfer protocol.

Subcommands:
  list    - List a remote directory
  get     - Download a remote file
  delete  - Delete a remote file
  info    - Show filesystem usage and any active transfer session`,
}

var fsListCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List a remote directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFsList,
}

var fsGetCmd = &cobra.Command{
	Use:   "get <remote-file> [local-file]",
	Short: "Download a remote file",
	Long: `Download a remote file chunk by chunk.

Each chunk is requested with file_read and verified against the CRC in the
accompanying file_read_metadata event before being written locally.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFsGet,
}

var fsDeleteCmd = &cobra.Command{
	Use:   "delete <remote-file>",
	Short: "Delete a remote file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFsDelete,
}

var fsInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show filesystem usage and any active transfer session",
	RunE:  runFsInfo,
}

func init() {
	rootCmd.AddCommand(fsCmd)
	fsCmd.AddCommand(fsListCmd, fsGetCmd, fsDeleteCmd, fsInfoCmd)
	fsCmd.PersistentFlags().IntVar(&fsTimeout, "timeout", 10, "Timeout in seconds per reply")
	fsGetCmd.Flags().IntVar(&fsChunkSize, "chunk-size", 4096, "Bytes per file_read request")
}

func fsConnect() (*client, error) {
	conn, _, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	return newClient(conn), nil
}

func runFsList(cmd *cobra.Command, args []string) error {
	dir := "/"
	if len(args) == 1 {
		dir = args[0]
	}

	c, err := fsConnect()
	if err != nil {
		return err
	}
	defer c.conn.Close()

	timeout := time.Duration(fsTimeout) * time.Second
	if err := c.send(transfer.EventFileList, map[string]string{"path": dir}); err != nil {
		return err
	}

	var reply struct {
		Path  string `json:"path"`
		Files []struct {
			Name  string `json:"name"`
			Size  int64  `json:"size"`
			IsDir bool   `json:"is_dir"`
			MIME  string `json:"mime,omitempty"`
		} `json:"files"`
	}
	if err := c.waitStatus(transfer.EventFileListResponse, timeout, &reply); err != nil {
		return err
	}

	fmt.Printf("%s:\n", reply.Path)
	if len(reply.Files) == 0 {
		fmt.Println("  (empty)")
		return nil
	}
	for _, f := range reply.Files {
		if f.IsDir {
			fmt.Printf("  %-40s      <dir>\n", f.Name+"/")
		} else {
			fmt.Printf("  %-40s %9d  %s\n", f.Name, f.Size, f.MIME)
		}
	}
	return nil
}

func runFsGet(cmd *cobra.Command, args []string) error {
	remote := args[0]
	local := path.Base(remote)
	if len(args) == 2 {
		local = args[1]
	}

	c, err := fsConnect()
	if err != nil {
		return err
	}
	defer c.conn.Close()

	timeout := time.Duration(fsTimeout) * time.Second
	out, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create %s: %v", local, err)
	}
	defer out.Close()

	offset := int64(0)
	for {
		req := map[string]interface{}{
			"filename": remote,
			"offset":   offset,
			"size":     fsChunkSize,
		}
		if err := c.send(transfer.EventFileRead, req); err != nil {
			return err
		}

		// Metadata first, then the raw chunk. An error reply arrives on
		// file_read_response instead.
		ev, err := c.next(timeout)
		if err != nil {
			return err
		}
		if ev.Name == transfer.EventFileReadResponse {
			return decodeStatus(transfer.EventFileReadResponse, ev.Data, nil)
		}
		if ev.Name != transfer.EventFileReadMetadata {
			return fmt.Errorf("unexpected reply %s", ev.Name)
		}

		var meta struct {
			Bytes  int    `json:"bytes"`
			CRC    uint32 `json:"crc"`
			Offset int64  `json:"offset"`
		}
		if err := json.Unmarshal(ev.Data, &meta); err != nil {
			return fmt.Errorf("bad metadata: %v", err)
		}

		data, err := c.wait(transfer.EventFileReadData, timeout)
		if err != nil {
			return err
		}
		if len(data.Data) != meta.Bytes {
			return fmt.Errorf("chunk at %d: got %d bytes, metadata says %d",
				meta.Offset, len(data.Data), meta.Bytes)
		}
		if crc := crc32.ChecksumIEEE(data.Data); crc != meta.CRC {
			return fmt.Errorf("chunk at %d: checksum mismatch (remote %08X, local %08X)",
				meta.Offset, meta.CRC, crc)
		}

		if _, err := out.Write(data.Data); err != nil {
			return fmt.Errorf("write %s: %v", local, err)
		}
		offset += int64(meta.Bytes)

		// A short chunk means end of file.
		if meta.Bytes < fsChunkSize {
			break
		}
	}

	fmt.Printf("Downloaded %s -> %s (%d bytes)\n", remote, local, offset)
	return nil
}

func runFsDelete(cmd *cobra.Command, args []string) error {
	c, err := fsConnect()
	if err != nil {
		return err
	}
	defer c.conn.Close()

	timeout := time.Duration(fsTimeout) * time.Second
	if err := c.send(transfer.EventFileDelete, map[string]string{"filename": args[0]}); err != nil {
		return err
	}

	var reply struct {
		Filename string `json:"filename"`
	}
	if err := c.waitStatus(transfer.EventFileDeleteResponse, timeout, &reply); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", reply.Filename)
	return nil
}

func runFsInfo(cmd *cobra.Command, args []string) error {
	c, err := fsConnect()
	if err != nil {
		return err
	}
	defer c.conn.Close()

	timeout := time.Duration(fsTimeout) * time.Second
	if err := c.send(transfer.EventFileInfo, nil); err != nil {
		return err
	}

	var reply struct {
		Filesystem    string `json:"filesystem"`
		TotalBytes    int64  `json:"total_bytes"`
		UsedBytes     int64  `json:"used_bytes"`
		FreeBytes     int64  `json:"free_bytes"`
		ActiveSession *struct {
			Filename  string `json:"filename"`
			Processed int64  `json:"processed"`
			Buffered  int    `json:"buffered"`
			Total     int64  `json:"total"`
		} `json:"active_session"`
	}
	if err := c.waitStatus(transfer.EventFileInfoResponse, timeout, &reply); err != nil {
		return err
	}

	fmt.Printf("Filesystem: %s\n", reply.Filesystem)
	fmt.Printf("  Total: %d bytes\n", reply.TotalBytes)
	fmt.Printf("  Used:  %d bytes\n", reply.UsedBytes)
	fmt.Printf("  Free:  %d bytes\n", reply.FreeBytes)

	if reply.ActiveSession != nil {
		s := reply.ActiveSession
		fmt.Printf("\nActive session: %s\n", s.Filename)
		fmt.Printf("  Written:  %d bytes\n", s.Processed)
		fmt.Printf("  Buffered: %d bytes\n", s.Buffered)
		fmt.Printf("  Expected: %d bytes\n", s.Total)
	} else {
		fmt.Printf("\nNo active session\n")
	}
	return nil
}
