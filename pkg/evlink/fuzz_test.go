// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package evlink

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomName(rng *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz_0123456789"
	n := 1 + rng.Intn(24)
	name := make([]byte, n)
	for i := range name {
		name[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(name)
}

func randomData(rng *rand.Rand, maxLen int) []byte {
	data := make([]byte, rng.Intn(maxLen+1))
	rng.Read(data)
	return data
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	enc := NewEncoder()
	dec := NewDecoder()

	for i := 0; i < rounds; i++ {
		name := randomName(rng)
		data := randomData(rng, 512)

		events := dec.Feed(enc.Encode(name, data))
		if len(events) != 1 {
			t.Fatalf("round %d: expected 1 event, got %d", i, len(events))
		}
		if events[0].Name != name || !bytes.Equal(events[0].Data, data) {
			t.Fatalf("round %d: round trip mismatch for name=%q", i, name)
		}
	}
}

func TestFuzz_RandomFragmentation(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	enc := NewEncoder()
	dec := NewDecoder()

	for i := 0; i < rounds; i++ {
		name := randomName(rng)
		data := randomData(rng, 256)
		frame := enc.Encode(name, data)

		var events []*Event
		for pos := 0; pos < len(frame); {
			n := 1 + rng.Intn(len(frame)-pos)
			events = append(events, dec.Feed(frame[pos:pos+n])...)
			pos += n
		}

		if len(events) != 1 {
			t.Fatalf("round %d: expected 1 event across fragments, got %d", i, len(events))
		}
		if events[0].Name != name || !bytes.Equal(events[0].Data, data) {
			t.Fatalf("round %d: fragmented decode mismatch for name=%q", i, name)
		}
	}
}

func TestFuzz_GarbageNeverPanicsAndResyncs(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	enc := NewEncoder()
	dec := NewDecoder()

	for i := 0; i < rounds; i++ {
		// Random garbage, possibly containing framing bytes. A trailing ESC
		// would legitimately swallow the next frame's SOH, so replace it.
		garbage := randomData(rng, 64)
		if len(garbage) > 0 && garbage[len(garbage)-1] == Escape {
			garbage[len(garbage)-1] = 0xAA
		}
		dec.Feed(garbage)

		// The decoder may be mid-way through a phantom frame started by a
		// garbage SOH; a real frame must still decode because its own SOH
		// forces a resync.
		name := randomName(rng)
		data := randomData(rng, 128)

		events := dec.Feed(enc.Encode(name, data))
		if len(events) == 0 {
			t.Fatalf("round %d: valid frame lost after garbage", i)
		}
		last := events[len(events)-1]
		if last.Name != name || !bytes.Equal(last.Data, data) {
			t.Fatalf("round %d: resynced decode mismatch", i)
		}
	}
}

func TestFuzz_InterleavedTruncation(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	enc := NewEncoder()
	dec := NewDecoder()

	for i := 0; i < rounds; i++ {
		// A truncated frame immediately followed by a whole one must yield
		// exactly the whole one.
		cutFrame := enc.Encode(randomName(rng), randomData(rng, 128))
		cut := 1 + rng.Intn(len(cutFrame)-1)
		if cutFrame[cut-1] == Escape {
			// Never cut right after an ESC: the escape would swallow the
			// following frame's SOH, which is a legitimate stuffing hazard
			// rather than a resync failure.
			cut--
		}
		if cut == 0 {
			cut = 1
		}

		name := randomName(rng)
		data := randomData(rng, 128)
		frame := enc.Encode(name, data)

		events := dec.Feed(append(append([]byte{}, cutFrame[:cut]...), frame...))
		if len(events) != 1 {
			t.Fatalf("round %d: expected 1 event, got %d (cut=%d)", i, len(events), cut)
		}
		if events[0].Name != name || !bytes.Equal(events[0].Data, data) {
			t.Fatalf("round %d: wrong event survived truncation", i)
		}
	}
}
