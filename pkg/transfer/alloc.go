// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

// Package transfer implements the EvLink buffered file-transfer session:
// an adaptive buffer allocator, the single-session write state machine with
// per-chunk checksums and flush statistics, and the event-handler service
// that binds both to an evlink.Router.
package transfer

// Tier identifies which storage pool backs a session buffer.
type Tier int

const (
	// TierFixed is the small preallocated buffer. Acquiring it costs
	// nothing and releasing it is a no-op.
	TierFixed Tier = iota
	// TierHeap is a general allocation, subject to the configured budget.
	TierHeap
	// TierPool is the optional secondary memory pool.
	TierPool
)

func (t Tier) String() string {
	switch t {
	case TierFixed:
		return "fixed"
	case TierHeap:
		return "heap"
	case TierPool:
		return "pool"
	}
	return "unknown"
}

// Pool is a secondary memory pool. Get returns nil when the pool cannot
// satisfy the request; Free reports the bytes currently available.
type Pool interface {
	Free() int
	Get(size int) []byte
	Put(buf []byte)
}

// Buffer size defaults, matching the device firmware.
const (
	DefaultFixedSize  = 4096
	DefaultMaxDynamic = 32768
)

// AllocatorConfig tunes the buffer tier selection.
type AllocatorConfig struct {
	// FixedSize is the capacity of the always-available fixed buffer.
	FixedSize int
	// MaxDynamic caps dynamic (heap or pool) buffer sizes.
	MaxDynamic int
	// HeapBudget bounds total outstanding heap bytes; 0 means unlimited.
	HeapBudget int
	// Pool is the optional secondary pool, tried before the heap.
	Pool Pool
}

// Allocator selects a buffer tier for each requested size, degrading
// gracefully when larger pools are absent or exhausted. Memory on the target
// devices is heterogeneous; a transfer must never fail outright just because
// the preferred pool cannot serve it.
type Allocator struct {
	cfg       AllocatorConfig
	fixed     []byte
	heapInUse int
}

// NewAllocator creates an allocator; zero config fields get the defaults.
func NewAllocator(cfg AllocatorConfig) *Allocator {
	if cfg.FixedSize <= 0 {
		cfg.FixedSize = DefaultFixedSize
	}
	if cfg.MaxDynamic <= 0 {
		cfg.MaxDynamic = DefaultMaxDynamic
	}
	return &Allocator{
		cfg:   cfg,
		fixed: make([]byte, cfg.FixedSize),
	}
}

// Acquire returns a buffer for the requested size and the tier backing it.
// The returned buffer's length is its capacity, which may be smaller than
// requested when every dynamic tier is unavailable.
func (a *Allocator) Acquire(requested int) ([]byte, Tier) {
	if requested <= a.cfg.FixedSize {
		return a.fixed, TierFixed
	}

	size := requested
	if size > a.cfg.MaxDynamic {
		size = a.cfg.MaxDynamic
	}

	if a.cfg.Pool != nil && a.cfg.Pool.Free() >= size {
		if buf := a.cfg.Pool.Get(size); buf != nil {
			return buf[:size], TierPool
		}
	}

	if a.cfg.HeapBudget == 0 || a.heapInUse+size <= a.cfg.HeapBudget {
		a.heapInUse += size
		return make([]byte, size), TierHeap
	}

	// Every dynamic tier failed: degrade to the fixed buffer.
	return a.fixed, TierFixed
}

// Release returns a buffer to its tier. The tier tag decides whether
// anything is freed, so releasing the fixed buffer repeatedly is safe.
func (a *Allocator) Release(buf []byte, tier Tier) {
	switch tier {
	case TierFixed:
		// Nothing to do.
	case TierPool:
		if a.cfg.Pool != nil {
			a.cfg.Pool.Put(buf)
		}
	case TierHeap:
		a.heapInUse -= len(buf)
		if a.heapInUse < 0 {
			a.heapInUse = 0
		}
	}
}

// HeapInUse reports outstanding heap bytes, for diagnostics.
func (a *Allocator) HeapInUse() int {
	return a.heapInUse
}
