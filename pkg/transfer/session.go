// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package transfer

import (
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// storageFile is the slice of *os.File the session needs; tests substitute
// implementations that misbehave in controlled ways.
type storageFile interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Config configures a Session.
type Config struct {
	// Root is the directory all protocol paths resolve under.
	Root string
	// Filesystem is the name reported in file_init/file_info replies.
	Filesystem string
	// QuotaBytes is the advertised filesystem capacity.
	QuotaBytes int64
	// Alloc supplies session buffers; nil gets a default allocator.
	Alloc *Allocator
}

// FlushAck describes one successful flush: the bytes written by that flush,
// the checksum over exactly those bytes, the cumulative total, and when the
// flush completed.
type FlushAck struct {
	Bytes     int
	CRC       uint32
	Total     int64
	Timestamp time.Time
}

// CreateResult reports the session actually opened, including the buffer
// capacity granted (which may be below the requested size).
type CreateResult struct {
	Filename     string
	BufferSize   int
	ExpectedSize int64
	Tier         Tier
}

// CloseSummary is the final transfer report.
type CloseSummary struct {
	Filename       string
	BytesWritten   int64
	ExpectedSize   int64
	SizeDifference int64 // signed: written - expected
	Elapsed        time.Duration
	FlushCount     int
	TotalFlush     time.Duration
	AvgFlush       time.Duration
	SpeedBps       float64
}

// ChunkInfo describes the result of a stateless chunk read.
type ChunkInfo struct {
	Bytes  int
	CRC    uint32
	Offset int64
}

// Entry is one directory listing entry.
type Entry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
	MIME  string `json:"mime,omitempty"`
}

// FSInfo reports filesystem totals.
type FSInfo struct {
	Filesystem string
	TotalBytes int64
	UsedBytes  int64
	FreeBytes  int64
}

// Session is the single active file-transfer state machine. At most one file
// is open at a time; a Create while a session is open flushes and closes the
// prior session first. Callers serialize access (one dispatch goroutine owns
// the session).
type Session struct {
	cfg   Config
	alloc *Allocator

	file     storageFile
	filename string // sanitized protocol path, e.g. "/scripts/main.lua"

	buf  []byte
	tier Tier
	pos  int

	expected     int64
	written      int64
	lastChunkCRC uint32

	flushCount int
	totalFlush time.Duration
	start      time.Time
	open       bool

	// overridable for tests
	openWrite func(osPath string) (storageFile, error)
	now       func() time.Time
}

// NewSession creates a closed session rooted at cfg.Root.
func NewSession(cfg Config) *Session {
	if cfg.Alloc == nil {
		cfg.Alloc = NewAllocator(AllocatorConfig{})
	}
	if cfg.Filesystem == "" {
		cfg.Filesystem = "storage"
	}
	return &Session{
		cfg:       cfg,
		alloc:     cfg.Alloc,
		openWrite: defaultOpenWrite,
		now:       time.Now,
	}
}

func defaultOpenWrite(osPath string) (storageFile, error) {
	if err := os.MkdirAll(filepath.Dir(osPath), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(osPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// sanitizePath strips parent traversals and forces an absolute protocol path.
func sanitizePath(p string) string {
	clean := strings.ReplaceAll(p, "..", "")
	if !strings.HasPrefix(clean, "/") {
		clean = "/" + clean
	}
	return path.Clean(clean)
}

// resolve maps a sanitized protocol path to a path under the storage root.
func (s *Session) resolve(clean string) string {
	return filepath.Join(s.cfg.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

// IsOpen reports whether a write session is active.
func (s *Session) IsOpen() bool {
	return s.open
}

// Filename returns the sanitized path of the open session, or "".
func (s *Session) Filename() string {
	if !s.open {
		return ""
	}
	return s.filename
}

// Create opens a new write session, replacing any open one (the prior
// session is flushed without acknowledgement and closed first). On storage
// failure the buffer is released and the session stays closed.
func (s *Session) Create(name string, expectedSize int64, bufferSize int) (CreateResult, error) {
	if s.open {
		s.flush() // best effort, ack suppressed
		s.file.Close()
		s.releaseBuffer()
		s.open = false
	}

	if name == "" {
		return CreateResult{}, fmt.Errorf("no filename")
	}
	if bufferSize <= 0 {
		bufferSize = s.alloc.cfg.FixedSize
	}

	s.filename = sanitizePath(name)
	s.expected = expectedSize
	s.written = 0
	s.pos = 0
	s.lastChunkCRC = 0
	s.buf, s.tier = s.alloc.Acquire(bufferSize)

	file, err := s.openWrite(s.resolve(s.filename))
	if err != nil {
		s.releaseBuffer()
		return CreateResult{}, fmt.Errorf("create %s: %w", s.filename, err)
	}

	s.file = file
	s.open = true
	s.start = s.now()
	s.flushCount = 0
	s.totalFlush = 0

	return CreateResult{
		Filename:     s.filename,
		BufferSize:   len(s.buf),
		ExpectedSize: s.expected,
		Tier:         s.tier,
	}, nil
}

func (s *Session) releaseBuffer() {
	if s.buf != nil {
		s.alloc.Release(s.buf, s.tier)
		s.buf = nil
	}
}

// Append copies data into the session buffer, flushing each time the buffer
// fills. One call may trigger several flushes; each returns its own ack.
func (s *Session) Append(data []byte) ([]FlushAck, error) {
	if !s.open {
		return nil, ErrNoSession
	}

	var acks []FlushAck
	for len(data) > 0 {
		n := copy(s.buf[s.pos:], data)
		s.pos += n
		data = data[n:]

		if s.pos == len(s.buf) {
			ack, err := s.flush()
			if err != nil {
				return acks, err
			}
			acks = append(acks, *ack)
		}
	}
	return acks, nil
}

// Flush writes any buffered bytes to storage. An empty buffer succeeds
// trivially with a nil ack.
func (s *Session) Flush() (*FlushAck, error) {
	if !s.open {
		return nil, ErrNoSession
	}
	if s.pos == 0 {
		return nil, nil
	}
	return s.flush()
}

// flush drains the buffer to storage. The chunk checksum covers exactly the
// bytes written by this call. On a short write the buffer is left intact so
// the peer can retry.
func (s *Session) flush() (*FlushAck, error) {
	if s.pos == 0 {
		return nil, nil
	}

	chunkCRC := crc32.ChecksumIEEE(s.buf[:s.pos])

	flushStart := s.now()
	n, err := s.file.Write(s.buf[:s.pos])
	elapsed := s.now().Sub(flushStart)

	if err != nil {
		return nil, fmt.Errorf("flush %s: %w", s.filename, err)
	}
	if n != s.pos {
		return nil, fmt.Errorf("flush %s: %w: %d/%d bytes", s.filename, ErrShortWrite, n, s.pos)
	}

	s.written += int64(n)
	s.lastChunkCRC = chunkCRC
	s.flushCount++
	s.totalFlush += elapsed
	s.pos = 0

	return &FlushAck{
		Bytes:     n,
		CRC:       chunkCRC,
		Total:     s.written,
		Timestamp: s.now(),
	}, nil
}

// Seek flushes any buffered bytes (ack suppressed, to keep positions
// unambiguous) and repositions the storage cursor.
func (s *Session) Seek(position int64) error {
	if !s.open {
		return ErrNoSession
	}
	if _, err := s.flush(); err != nil {
		return err
	}
	if _, err := s.file.Seek(position, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s to %d: %w", s.filename, position, err)
	}
	return nil
}

// Close performs a final silent flush, releases the buffer and reports the
// transfer summary. The signed size difference lets the peer detect
// truncated or over-long transfers without Close itself failing.
func (s *Session) Close() (CloseSummary, error) {
	if !s.open {
		return CloseSummary{}, ErrNoSession
	}

	s.flush() // best effort; the summary reports what actually landed

	elapsed := s.now().Sub(s.start)
	var avgFlush time.Duration
	if s.flushCount > 0 {
		avgFlush = s.totalFlush / time.Duration(s.flushCount)
	}
	var speed float64
	if elapsed > 0 {
		speed = float64(s.written) / elapsed.Seconds()
	}

	summary := CloseSummary{
		Filename:       s.filename,
		BytesWritten:   s.written,
		ExpectedSize:   s.expected,
		SizeDifference: s.written - s.expected,
		Elapsed:        elapsed,
		FlushCount:     s.flushCount,
		TotalFlush:     s.totalFlush,
		AvgFlush:       avgFlush,
		SpeedBps:       speed,
	}

	s.file.Close()
	s.file = nil
	s.releaseBuffer()
	s.open = false

	return summary, nil
}

// ReadChunk reads up to size bytes at offset from the named file,
// independently of any open write session. The checksum covers exactly the
// bytes read.
func (s *Session) ReadChunk(name string, offset int64, size int) (ChunkInfo, []byte, error) {
	clean := sanitizePath(name)

	f, err := os.Open(s.resolve(clean))
	if err != nil {
		return ChunkInfo{}, nil, fmt.Errorf("read %s: %w", clean, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return ChunkInfo{}, nil, fmt.Errorf("read %s: %w", clean, err)
	}

	remaining := st.Size() - offset
	if remaining < 0 {
		remaining = 0
	}
	toRead := int64(size)
	if toRead > remaining {
		toRead = remaining
	}

	data := make([]byte, toRead)
	if toRead > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return ChunkInfo{}, nil, fmt.Errorf("read %s: %w", clean, err)
		}
		n, err := io.ReadFull(f, data)
		if err != nil {
			return ChunkInfo{}, nil, fmt.Errorf("read %s: %w", clean, err)
		}
		data = data[:n]
	}

	return ChunkInfo{
		Bytes:  len(data),
		CRC:    crc32.ChecksumIEEE(data),
		Offset: offset,
	}, data, nil
}

// Delete removes the named file. The file the active session has open is
// refused with ErrSessionBusy.
func (s *Session) Delete(name string) error {
	clean := sanitizePath(name)
	if s.open && s.filename == clean {
		return ErrSessionBusy
	}
	if err := os.Remove(s.resolve(clean)); err != nil {
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	return nil
}

// List enumerates the immediate entries of a directory.
func (s *Session) List(name string) ([]Entry, error) {
	clean := sanitizePath(name)

	dirEntries, err := os.ReadDir(s.resolve(clean))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", clean, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := Entry{
			Name:  path.Join(clean, de.Name()),
			IsDir: de.IsDir(),
		}
		if info, err := de.Info(); err == nil {
			e.Size = info.Size()
		}
		if !de.IsDir() {
			e.MIME = detectMIME(s.resolve(e.Name))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FSInfo reports the configured quota against bytes used under the root.
func (s *Session) FSInfo() FSInfo {
	var used int64
	filepath.WalkDir(s.cfg.Root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			used += info.Size()
		}
		return nil
	})

	total := s.cfg.QuotaBytes
	free := total - used
	if free < 0 {
		free = 0
	}
	return FSInfo{
		Filesystem: s.cfg.Filesystem,
		TotalBytes: total,
		UsedBytes:  used,
		FreeBytes:  free,
	}
}

// Progress is a snapshot of the active transfer for status reporting.
type Progress struct {
	Filename  string
	Processed int64
	Buffered  int
	Total     int64
}

// Progress returns the active transfer snapshot, or ok=false when closed.
func (s *Session) Progress() (Progress, bool) {
	if !s.open {
		return Progress{}, false
	}
	return Progress{
		Filename:  s.filename,
		Processed: s.written,
		Buffered:  s.pos,
		Total:     s.expected,
	}, true
}
