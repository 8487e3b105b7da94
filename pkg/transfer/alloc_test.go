// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePool is a bounded secondary pool for allocator tests.
type fakePool struct {
	free int
	gets int
	puts int
}

func (p *fakePool) Free() int { return p.free }

func (p *fakePool) Get(size int) []byte {
	if size > p.free {
		return nil
	}
	p.free -= size
	p.gets++
	return make([]byte, size)
}

func (p *fakePool) Put(buf []byte) {
	p.free += len(buf)
	p.puts++
}

func TestAllocator_SmallRequestUsesFixed(t *testing.T) {
	a := NewAllocator(AllocatorConfig{FixedSize: 4096})

	buf, tier := a.Acquire(1024)
	assert.Equal(t, TierFixed, tier)
	assert.Len(t, buf, 4096)

	// Releasing the fixed tier is a no-op, repeatedly.
	a.Release(buf, tier)
	a.Release(buf, tier)
}

func TestAllocator_LargeRequestUsesHeap(t *testing.T) {
	a := NewAllocator(AllocatorConfig{FixedSize: 4096, MaxDynamic: 32768})

	buf, tier := a.Acquire(8192)
	assert.Equal(t, TierHeap, tier)
	assert.Len(t, buf, 8192)
	assert.Equal(t, 8192, a.HeapInUse())

	a.Release(buf, tier)
	assert.Equal(t, 0, a.HeapInUse())
}

func TestAllocator_RequestCappedAtMaxDynamic(t *testing.T) {
	a := NewAllocator(AllocatorConfig{FixedSize: 4096, MaxDynamic: 32768})

	buf, tier := a.Acquire(1 << 20)
	assert.Equal(t, TierHeap, tier)
	assert.Len(t, buf, 32768)
}

func TestAllocator_PoolPreferredOverHeap(t *testing.T) {
	pool := &fakePool{free: 65536}
	a := NewAllocator(AllocatorConfig{FixedSize: 4096, MaxDynamic: 32768, Pool: pool})

	buf, tier := a.Acquire(16384)
	require.Equal(t, TierPool, tier)
	assert.Len(t, buf, 16384)
	assert.Equal(t, 1, pool.gets)
	assert.Equal(t, 0, a.HeapInUse())

	a.Release(buf, tier)
	assert.Equal(t, 1, pool.puts)
	assert.Equal(t, 65536, pool.free)
}

func TestAllocator_ExhaustedPoolFallsBackToHeap(t *testing.T) {
	pool := &fakePool{free: 100}
	a := NewAllocator(AllocatorConfig{FixedSize: 4096, MaxDynamic: 32768, Pool: pool})

	buf, tier := a.Acquire(16384)
	assert.Equal(t, TierHeap, tier)
	assert.Len(t, buf, 16384)
	assert.Equal(t, 0, pool.gets)
}

func TestAllocator_AllTiersExhaustedDegradesToFixed(t *testing.T) {
	// No pool, and a heap budget too small for the capped request: the
	// caller still gets a buffer, just a smaller one than asked for.
	a := NewAllocator(AllocatorConfig{FixedSize: 4096, MaxDynamic: 32768, HeapBudget: 8192})

	first, tier := a.Acquire(8192)
	require.Equal(t, TierHeap, tier)

	degraded, tier := a.Acquire(16384)
	assert.Equal(t, TierFixed, tier)
	assert.Len(t, degraded, 4096)

	a.Release(first, TierHeap)

	recovered, tier := a.Acquire(8192)
	assert.Equal(t, TierHeap, tier)
	assert.Len(t, recovered, 8192)
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "fixed", TierFixed.String())
	assert.Equal(t, "heap", TierHeap.String())
	assert.Equal(t, "pool", TierPool.String())
}
