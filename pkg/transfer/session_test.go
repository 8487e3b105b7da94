// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package transfer

import (
	"bytes"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSession creates a session over a temp directory whose fixed buffer
// has the given capacity, so tests control exactly when auto-flushes fire.
func newTestSession(t *testing.T, bufSize int) *Session {
	t.Helper()
	return NewSession(Config{
		Root:       t.TempDir(),
		Filesystem: "testfs",
		QuotaBytes: 1 << 20,
		Alloc:      NewAllocator(AllocatorConfig{FixedSize: bufSize}),
	})
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/a.txt", "/a.txt"},
		{"a.txt", "/a.txt"},
		{"../etc/passwd", "/etc/passwd"},
		{"/x/../y", "/x/y"},
		{"/dir//file", "/dir/file"},
		{"..", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizePath(tt.in), "input %q", tt.in)
	}
}

func TestSession_SmallBufferTransfer(t *testing.T) {
	s := newTestSession(t, 4)

	result, err := s.Create("/a.txt", 10, 4)
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", result.Filename)
	assert.Equal(t, 4, result.BufferSize)

	payload := []byte("0123456789")
	acks, err := s.Append(payload)
	require.NoError(t, err)

	// 10 bytes through a 4-byte buffer: two automatic flushes, 2 bytes left
	// buffered.
	require.Len(t, acks, 2)
	assert.Equal(t, 4, acks[0].Bytes)
	assert.Equal(t, 4, acks[1].Bytes)
	assert.Equal(t, int64(4), acks[0].Total)
	assert.Equal(t, int64(8), acks[1].Total)

	summary, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.BytesWritten)
	assert.Equal(t, int64(0), summary.SizeDifference)
	assert.Equal(t, 3, summary.FlushCount) // two automatic plus the close flush

	content, err := os.ReadFile(filepath.Join(s.cfg.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestSession_ChecksumCoversOnlyTheFlushedChunk(t *testing.T) {
	s := newTestSession(t, 4)
	_, err := s.Create("/crc.bin", 8, 4)
	require.NoError(t, err)

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}
	acks, err := s.Append(payload)
	require.NoError(t, err)
	require.Len(t, acks, 2)

	assert.Equal(t, crc32.ChecksumIEEE(payload[0:4]), acks[0].CRC)
	assert.Equal(t, crc32.ChecksumIEEE(payload[4:8]), acks[1].CRC)
	// Per-chunk, not cumulative.
	assert.NotEqual(t, crc32.ChecksumIEEE(payload), acks[1].CRC)

	_, err = s.Close()
	require.NoError(t, err)
}

func TestSession_WrittenSizeMonotonic(t *testing.T) {
	s := newTestSession(t, 8)
	_, err := s.Create("/mono.bin", 0, 8)
	require.NoError(t, err)

	var last int64
	for i := 0; i < 5; i++ {
		acks, err := s.Append(bytes.Repeat([]byte{byte(i)}, 5))
		require.NoError(t, err)
		for _, ack := range acks {
			assert.GreaterOrEqual(t, ack.Total, last)
			last = ack.Total
		}
		if ack, err := s.Flush(); err == nil && ack != nil {
			assert.GreaterOrEqual(t, ack.Total, last)
			last = ack.Total
		}
	}
}

func TestSession_OperationsRequireOpenSession(t *testing.T) {
	s := newTestSession(t, 8)

	_, err := s.Append([]byte("x"))
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = s.Flush()
	assert.ErrorIs(t, err, ErrNoSession)

	assert.ErrorIs(t, s.Seek(0), ErrNoSession)

	_, err = s.Close()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSession_FlushEmptyBufferIsTrivial(t *testing.T) {
	s := newTestSession(t, 8)
	_, err := s.Create("/empty.bin", 0, 8)
	require.NoError(t, err)

	ack, err := s.Flush()
	require.NoError(t, err)
	assert.Nil(t, ack)

	summary, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FlushCount)
}

func TestSession_SeekFlushesBufferFirst(t *testing.T) {
	s := newTestSession(t, 8)
	_, err := s.Create("/seek.bin", 8, 8)
	require.NoError(t, err)

	// Three bytes buffered, not yet on disk.
	_, err = s.Append([]byte{1, 2, 3})
	require.NoError(t, err)

	// Seek must land them at offset 0 before moving the cursor to 5.
	require.NoError(t, err)
	require.NoError(t, s.Seek(5))

	_, err = s.Append([]byte{7, 8, 9})
	require.NoError(t, err)
	_, err = s.Flush()
	require.NoError(t, err)

	_, err = s.Close()
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(s.cfg.Root, "seek.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 7, 8, 9}, content)
}

// shortFile writes one byte fewer than asked, simulating exhausted storage.
type shortFile struct {
	*os.File
}

func (f shortFile) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return f.File.Write(p[:len(p)-1])
}

func TestSession_ShortWriteAbortsAndRetainsBuffer(t *testing.T) {
	s := newTestSession(t, 4)
	s.openWrite = func(osPath string) (storageFile, error) {
		f, err := defaultOpenWrite(osPath)
		if err != nil {
			return nil, err
		}
		return shortFile{f.(*os.File)}, nil
	}

	_, err := s.Create("/short.bin", 4, 4)
	require.NoError(t, err)

	_, err = s.Append([]byte{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrShortWrite)

	// The caller-visible state is fully retained: nothing counted as
	// written, the buffered bytes still pending.
	p, ok := s.Progress()
	require.True(t, ok)
	assert.Equal(t, int64(0), p.Processed)
	assert.Equal(t, 4, p.Buffered)

	// The session still accepts a fresh create.
	s.openWrite = defaultOpenWrite
	_, err = s.Create("/retry.bin", 0, 4)
	require.NoError(t, err)
}

func TestSession_CreateReplacesOpenSession(t *testing.T) {
	s := newTestSession(t, 8)

	_, err := s.Create("/first.bin", 2, 8)
	require.NoError(t, err)
	_, err = s.Append([]byte{9, 9})
	require.NoError(t, err)

	_, err = s.Create("/second.bin", 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "/second.bin", s.Filename())

	// The prior session was flushed and closed, not dropped.
	content, err := os.ReadFile(filepath.Join(s.cfg.Root, "first.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, content)
}

func TestSession_CreateFailureLeavesSessionClosed(t *testing.T) {
	s := newTestSession(t, 8)
	s.openWrite = func(string) (storageFile, error) {
		return nil, os.ErrPermission
	}

	_, err := s.Create("/nope.bin", 0, 8)
	require.Error(t, err)
	assert.False(t, s.IsOpen())

	s.openWrite = defaultOpenWrite
	_, err = s.Create("/ok.bin", 0, 8)
	require.NoError(t, err)
}

func TestSession_ReadChunk(t *testing.T) {
	s := newTestSession(t, 8)
	content := []byte("abcdefghij")
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Root, "r.txt"), content, 0o644))

	info, data, err := s.ReadChunk("/r.txt", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("cdef"), data)
	assert.Equal(t, 4, info.Bytes)
	assert.Equal(t, int64(2), info.Offset)
	assert.Equal(t, crc32.ChecksumIEEE(data), info.CRC)

	// Bounded by remaining file length.
	info, data, err = s.ReadChunk("/r.txt", 8, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("ij"), data)
	assert.Equal(t, 2, info.Bytes)

	// Offset past EOF reads zero bytes.
	info, data, err = s.ReadChunk("/r.txt", 50, 10)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, 0, info.Bytes)
}

func TestSession_ReadChunkMissingFile(t *testing.T) {
	s := newTestSession(t, 8)
	_, _, err := s.ReadChunk("/missing.txt", 0, 16)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSession_DeleteRefusesOpenFile(t *testing.T) {
	s := newTestSession(t, 8)
	_, err := s.Create("/busy.bin", 0, 8)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete("/busy.bin"), ErrSessionBusy)

	// Other files are deletable while a session is open.
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Root, "other.txt"), []byte("x"), 0o644))
	assert.NoError(t, s.Delete("/other.txt"))

	_, err = s.Close()
	require.NoError(t, err)
	assert.NoError(t, s.Delete("/busy.bin"))
}

func TestSession_DeleteMissingFile(t *testing.T) {
	s := newTestSession(t, 8)
	assert.ErrorIs(t, s.Delete("/ghost.txt"), fs.ErrNotExist)
}

func TestSession_List(t *testing.T) {
	s := newTestSession(t, 8)
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.cfg.Root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Root, "sub", "b.txt"), []byte("x"), 0o644))

	entries, err := s.List("/")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// os.ReadDir sorts by name.
	assert.Equal(t, "/a.txt", entries[0].Name)
	assert.Equal(t, int64(5), entries[0].Size)
	assert.False(t, entries[0].IsDir)
	assert.NotEmpty(t, entries[0].MIME)

	assert.Equal(t, "/sub", entries[1].Name)
	assert.True(t, entries[1].IsDir)

	sub, err := s.List("/sub")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "/sub/b.txt", sub[0].Name)
}

func TestSession_ListMissingDir(t *testing.T) {
	s := newTestSession(t, 8)
	_, err := s.List("/void")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSession_FSInfo(t *testing.T) {
	s := newTestSession(t, 8)
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Root, "f.bin"), make([]byte, 100), 0o644))

	info := s.FSInfo()
	assert.Equal(t, "testfs", info.Filesystem)
	assert.Equal(t, int64(1<<20), info.TotalBytes)
	assert.Equal(t, int64(100), info.UsedBytes)
	assert.Equal(t, int64(1<<20-100), info.FreeBytes)
}

func TestSession_ProgressWhileOpen(t *testing.T) {
	s := newTestSession(t, 8)

	_, ok := s.Progress()
	assert.False(t, ok)

	_, err := s.Create("/p.bin", 20, 8)
	require.NoError(t, err)
	_, err = s.Append([]byte{1, 2, 3})
	require.NoError(t, err)

	p, ok := s.Progress()
	require.True(t, ok)
	assert.Equal(t, "/p.bin", p.Filename)
	assert.Equal(t, int64(0), p.Processed)
	assert.Equal(t, 3, p.Buffered)
	assert.Equal(t, int64(20), p.Total)
}
