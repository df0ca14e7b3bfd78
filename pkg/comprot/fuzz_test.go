// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

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

func randomPayload(rng *rand.Rand) []byte {
	payload := make([]byte, rng.Intn(MaxPayloadSize+1))
	rng.Read(payload)
	return payload
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		dst := uint8(rng.Intn(256))
		src := uint8(rng.Intn(256))
		flags := uint8(rng.Intn(8))
		payload := randomPayload(rng)

		wire, err := EncodeFrame(dst, src, flags, payload)
		if err != nil {
			t.Fatalf("round %d: EncodeFrame failed: %v", i, err)
		}

		f, err := DecodeFrame(wire)
		if err != nil {
			t.Fatalf("round %d: DecodeFrame failed: %v (wire % X)", i, err, wire)
		}
		if f.Dst() != dst || f.Src() != src || f.Flags() != flags || !bytes.Equal(f.Payload(), payload) {
			t.Fatalf("round %d: frame mismatch", i)
		}
	}
}

func TestFuzz_RandomBytesNeverPanic(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder()

	for i := 0; i < rounds; i++ {
		buf := make([]byte, rng.Intn(200))
		rng.Read(buf)
		frames, _ := d.Decode(buf)
		for _, f := range frames {
			// Anything that passes CRC must still be safe to inspect
			_ = FormatFrame(f)
			_ = ValidateFrame(f)
		}
	}
}

func TestFuzz_StreamWithNoise(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10
	if rounds == 0 {
		rounds = 1
	}

	for i := 0; i < rounds; i++ {
		var stream []byte
		want := 1 + rng.Intn(8)
		for j := 0; j < want; j++ {
			// Noise between frames may hold ESC and END but never START
			noise := make([]byte, rng.Intn(10))
			for k := range noise {
				for noise[k] = byte(rng.Intn(256)); noise[k] == StartByte; {
					noise[k] = byte(rng.Intn(256))
				}
			}
			stream = append(stream, noise...)
			stream = append(stream, MustEncodeFrame(MasterID, uint8(10+j), 0, randomPayload(rng))...)
		}

		frames, errs := NewDecoder().Decode(stream)
		if len(errs) != 0 {
			t.Fatalf("round %d: unexpected errors %v", i, errs)
		}
		if len(frames) != want {
			t.Fatalf("round %d: got %d frames, want %d", i, len(frames), want)
		}
	}
}

func TestFuzz_ParseMessageNeverPanics(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		payload := randomPayload(rng)
		if len(payload) > 0 {
			payload[0] = uint8(rng.Intn(8))
		}
		if msg, err := ParseMessage(payload); err == nil {
			_ = FormatMessage(msg)
		}
	}
}
