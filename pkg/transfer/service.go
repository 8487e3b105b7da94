// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package transfer

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/Emberwell/lanterna/pkg/evlink"
)

// File-transfer event names. Requests arrive from the remote peer; the
// matching *_response (or ack) events are emitted back through the router.
const (
	EventFileInit           = "file_init"
	EventFileInitResponse   = "file_init_response"
	EventFileCreate         = "file_create"
	EventFileCreateResponse = "file_create_response"
	EventFileAppend         = "file_append"
	EventFileAppendAck      = "file_append_ack"
	EventFileFlush          = "file_flush"
	EventFileFlushResponse  = "file_flush_response"
	EventFileSeek           = "file_seek"
	EventFileSeekResponse   = "file_seek_response"
	EventFileClose          = "file_close"
	EventFileCloseResponse  = "file_close_response"
	EventFileRead           = "file_read"
	EventFileReadResponse   = "file_read_response"
	EventFileReadMetadata   = "file_read_metadata"
	EventFileReadData       = "file_read_data"
	EventFileDelete         = "file_delete"
	EventFileDeleteResponse = "file_delete_response"
	EventFileList           = "file_list"
	EventFileListResponse   = "file_list_response"
	EventFileInfo           = "file_info"
	EventFileInfoResponse   = "file_info_response"
)

// DefaultChunkSize bounds file_read replies when the request names no size.
const DefaultChunkSize = 4096

// Service owns the session and exposes it over an evlink.Router as the ten
// file_* request handlers. Payloads are JSON documents; append and read-data
// payloads are raw bytes.
type Service struct {
	session *Session
	router  *evlink.Router
	metrics *Metrics
	verbose bool
}

// NewService binds a session to a router. Metrics may be nil.
func NewService(session *Session, router *evlink.Router, metrics *Metrics) *Service {
	return &Service{session: session, router: router, metrics: metrics}
}

// SetVerbose enables request logging.
func (s *Service) SetVerbose(v bool) {
	s.verbose = v
}

// Register installs every file_* handler on the router.
func (s *Service) Register() {
	s.router.On(EventFileInit, s.handleInit)
	s.router.On(EventFileCreate, s.handleCreate)
	s.router.On(EventFileAppend, s.handleAppend)
	s.router.On(EventFileFlush, s.handleFlush)
	s.router.On(EventFileSeek, s.handleSeek)
	s.router.On(EventFileClose, s.handleClose)
	s.router.On(EventFileRead, s.handleRead)
	s.router.On(EventFileDelete, s.handleDelete)
	s.router.On(EventFileList, s.handleList)
	s.router.On(EventFileInfo, s.handleInfo)
}

// reply marshals v and sends it as the named event. Send failures mean the
// transport is gone; there is nobody left to report them to, so log and
// carry on.
func (s *Service) reply(name string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("transfer: marshal %s: %v", name, err)
		return
	}
	if err := s.router.Send(name, data); err != nil {
		log.Printf("transfer: send %s: %v", name, err)
	}
}

type statusReply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Service) replyError(name, message string) {
	s.reply(name, statusReply{Status: "error", Message: message})
}

// errorMessage maps session errors to the short messages the peer expects.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoSession):
		return "No file open"
	case errors.Is(err, ErrSessionBusy):
		return "File is open"
	case errors.Is(err, ErrShortWrite):
		return "Flush failed"
	case errors.Is(err, fs.ErrNotExist):
		return "File not found"
	}
	return err.Error()
}

type fsInfoReply struct {
	Status     string `json:"status"`
	Filesystem string `json:"filesystem"`
	TotalBytes int64  `json:"total_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	FreeBytes  int64  `json:"free_bytes"`

	ActiveSession *activeSessionInfo `json:"active_session,omitempty"`
}

type activeSessionInfo struct {
	Filename  string `json:"filename"`
	Processed int64  `json:"processed"`
	Buffered  int    `json:"buffered"`
	Total     int64  `json:"total"`
}

func (s *Service) handleInit(_ []byte) {
	info := s.session.FSInfo()
	s.reply(EventFileInitResponse, fsInfoReply{
		Status:     "success",
		Filesystem: info.Filesystem,
		TotalBytes: info.TotalBytes,
		UsedBytes:  info.UsedBytes,
		FreeBytes:  info.FreeBytes,
	})
}

func (s *Service) handleInfo(_ []byte) {
	info := s.session.FSInfo()
	reply := fsInfoReply{
		Status:     "success",
		Filesystem: info.Filesystem,
		TotalBytes: info.TotalBytes,
		UsedBytes:  info.UsedBytes,
		FreeBytes:  info.FreeBytes,
	}
	if p, ok := s.session.Progress(); ok {
		reply.ActiveSession = &activeSessionInfo{
			Filename:  p.Filename,
			Processed: p.Processed,
			Buffered:  p.Buffered,
			Total:     p.Total,
		}
	}
	s.reply(EventFileInfoResponse, reply)
}

type createRequest struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	BufferSize int    `json:"buffer_size"`
}

type createReply struct {
	Status       string `json:"status"`
	Filename     string `json:"filename"`
	BufferSize   int    `json:"buffer_size"`
	ExpectedSize int64  `json:"expected_size"`
}

func (s *Service) handleCreate(data []byte) {
	var req createRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.replyError(EventFileCreateResponse, "Invalid JSON")
		return
	}
	if req.Filename == "" {
		s.replyError(EventFileCreateResponse, "No filename")
		return
	}

	result, err := s.session.Create(req.Filename, req.Size, req.BufferSize)
	if err != nil {
		s.replyError(EventFileCreateResponse, "Failed to create file")
		return
	}

	if s.verbose {
		log.Printf("transfer: created %s (%d bytes expected, %d byte %s buffer)",
			result.Filename, result.ExpectedSize, result.BufferSize, result.Tier)
	}
	if s.metrics != nil {
		s.metrics.transferStarted()
	}

	s.reply(EventFileCreateResponse, createReply{
		Status:       "success",
		Filename:     result.Filename,
		BufferSize:   result.BufferSize,
		ExpectedSize: result.ExpectedSize,
	})
}

type ackReply struct {
	Status    string `json:"status"`
	Bytes     int    `json:"bytes"`
	CRC       uint32 `json:"crc"`
	Total     int64  `json:"total"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Service) sendAck(name string, ack FlushAck) {
	s.reply(name, ackReply{
		Status:    "ack",
		Bytes:     ack.Bytes,
		CRC:       ack.CRC,
		Total:     ack.Total,
		Timestamp: ack.Timestamp.UnixMilli(),
	})
	if s.metrics != nil {
		s.metrics.flushObserved(ack.Bytes)
	}
}

func (s *Service) handleAppend(data []byte) {
	acks, err := s.session.Append(data)
	for _, ack := range acks {
		s.sendAck(EventFileAppendAck, ack)
	}
	if err != nil {
		s.replyError(EventFileAppendAck, errorMessage(err))
	}
}

// handleFlush acks on the append channel: the device firmware sends
// file_append_ack for every flush, explicit or automatic, so clients track
// one ack stream. file_flush_response carries only the no-session error.
func (s *Service) handleFlush(_ []byte) {
	ack, err := s.session.Flush()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			s.replyError(EventFileFlushResponse, errorMessage(err))
		} else {
			s.replyError(EventFileAppendAck, errorMessage(err))
		}
		return
	}
	if ack != nil {
		s.sendAck(EventFileAppendAck, *ack)
	}
}

type seekRequest struct {
	Position int64 `json:"position"`
}

type seekReply struct {
	Status   string `json:"status"`
	Position int64  `json:"position"`
}

func (s *Service) handleSeek(data []byte) {
	var req seekRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.replyError(EventFileSeekResponse, "Invalid JSON")
		return
	}
	if err := s.session.Seek(req.Position); err != nil {
		if errors.Is(err, ErrNoSession) {
			s.replyError(EventFileSeekResponse, errorMessage(err))
		} else {
			s.replyError(EventFileSeekResponse, "Seek failed")
		}
		return
	}
	s.reply(EventFileSeekResponse, seekReply{Status: "success", Position: req.Position})
}

type closeReply struct {
	Status         string  `json:"status"`
	Filename       string  `json:"filename"`
	BytesWritten   int64   `json:"bytes_written"`
	ExpectedSize   int64   `json:"expected_size"`
	SizeDifference int64   `json:"size_difference"`
	ElapsedMs      int64   `json:"elapsed_ms"`
	FlushCount     int     `json:"flush_count"`
	TotalFlushMs   int64   `json:"total_flush_ms"`
	AvgFlushMs     float64 `json:"avg_flush_ms"`
	SpeedBps       float64 `json:"speed_bps"`
	SpeedKbps      float64 `json:"speed_kbps"`
}

func (s *Service) handleClose(_ []byte) {
	summary, err := s.session.Close()
	if err != nil {
		s.replyError(EventFileCloseResponse, errorMessage(err))
		return
	}

	if s.verbose {
		log.Printf("transfer: closed %s: %d/%d bytes in %s (%d flushes)",
			summary.Filename, summary.BytesWritten, summary.ExpectedSize,
			summary.Elapsed.Round(time.Millisecond), summary.FlushCount)
	}
	if s.metrics != nil {
		s.metrics.transferCompleted(summary)
	}

	s.reply(EventFileCloseResponse, closeReply{
		Status:         "success",
		Filename:       summary.Filename,
		BytesWritten:   summary.BytesWritten,
		ExpectedSize:   summary.ExpectedSize,
		SizeDifference: summary.SizeDifference,
		ElapsedMs:      summary.Elapsed.Milliseconds(),
		FlushCount:     summary.FlushCount,
		TotalFlushMs:   summary.TotalFlush.Milliseconds(),
		AvgFlushMs:     float64(summary.AvgFlush) / float64(time.Millisecond),
		SpeedBps:       summary.SpeedBps,
		SpeedKbps:      summary.SpeedBps / 1024.0,
	})
}

type readRequest struct {
	Filename string `json:"filename"`
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
}

type readMetadata struct {
	Status string `json:"status"`
	Bytes  int    `json:"bytes"`
	CRC    uint32 `json:"crc"`
	Offset int64  `json:"offset"`
}

func (s *Service) handleRead(data []byte) {
	var req readRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.replyError(EventFileReadResponse, "Invalid JSON")
		return
	}
	if req.Size <= 0 {
		req.Size = DefaultChunkSize
	}

	info, chunk, err := s.session.ReadChunk(req.Filename, req.Offset, req.Size)
	if err != nil {
		s.replyError(EventFileReadResponse, errorMessage(err))
		return
	}

	// Metadata first, then the raw bytes as a separate event.
	s.reply(EventFileReadMetadata, readMetadata{
		Status: "success",
		Bytes:  info.Bytes,
		CRC:    info.CRC,
		Offset: info.Offset,
	})
	if err := s.router.Send(EventFileReadData, chunk); err != nil {
		log.Printf("transfer: send %s: %v", EventFileReadData, err)
	}
}

type deleteRequest struct {
	Filename string `json:"filename"`
}

type deleteReply struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

func (s *Service) handleDelete(data []byte) {
	var req deleteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.replyError(EventFileDeleteResponse, "Invalid JSON")
		return
	}

	if err := s.session.Delete(req.Filename); err != nil {
		switch {
		case errors.Is(err, ErrSessionBusy):
			s.replyError(EventFileDeleteResponse, errorMessage(err))
		case errors.Is(err, fs.ErrNotExist):
			s.replyError(EventFileDeleteResponse, "Delete failed")
		default:
			s.replyError(EventFileDeleteResponse, "Delete failed")
		}
		return
	}
	s.reply(EventFileDeleteResponse, deleteReply{
		Status:   "success",
		Filename: sanitizePath(req.Filename),
	})
}

type listRequest struct {
	Path string `json:"path"`
}

type listReply struct {
	Status string  `json:"status"`
	Path   string  `json:"path"`
	Files  []Entry `json:"files"`
}

func (s *Service) handleList(data []byte) {
	req := listRequest{Path: "/"}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.replyError(EventFileListResponse, "Invalid JSON")
			return
		}
		if req.Path == "" {
			req.Path = "/"
		}
	}

	entries, err := s.session.List(req.Path)
	if err != nil {
		s.replyError(EventFileListResponse, errorMessage(err))
		return
	}
	s.reply(EventFileListResponse, listReply{
		Status: "success",
		Path:   sanitizePath(req.Path),
		Files:  entries,
	})
}
