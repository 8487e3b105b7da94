// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import (
	"fmt"
	"time"
)

// Statistics tracks decoder throughput and framing-error rates.
type Statistics struct {
	StartTime     time.Time
	LastFrameTime time.Time

	// Counters
	Bytes         uint64
	Frames        uint64
	FramingErrors uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // framing errors/sec
}

func (s *Statistics) frameDecoded() {
	s.Frames++
	s.LastFrameTime = time.Now()
}

// CalculateRates recomputes the frame and error rates since StartTime.
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.Frames) / elapsed
		s.ErrorRate = float64(s.FramingErrors) / elapsed
	}
}

// String returns a formatted statistics summary.
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	var errorPercent float64
	attempts := s.Frames + s.FramingErrors
	if attempts > 0 {
		errorPercent = float64(s.FramingErrors) * 100.0 / float64(attempts)
	}

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes Consumed:  %8d\n", s.Bytes)
	result += fmt.Sprintf("Frames Decoded:  %8d\n", s.Frames)
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, errorPercent)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "==================================\n"

	return result
}

// Reset resets all counters and restarts the clock.
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastFrameTime = time.Time{}
	s.Bytes = 0
	s.Frames = 0
	s.FramingErrors = 0
	s.FrameRate = 0
	s.ErrorRate = 0
}
