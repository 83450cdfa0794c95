package protocol

import (
	"testing"
	"time"
)

func TestIdempotencyKey_Deterministic(t *testing.T) {
	at := time.Date(2024, 3, 10, 8, 15, 30, 0, time.UTC)

	k1 := IdempotencyKey("emp-1", "sess-1", at, -6.20881, 106.84559)
	k2 := IdempotencyKey("emp-1", "sess-1", at, -6.20881, 106.84559)
	if k1 != k2 {
		t.Fatalf("same inputs produced different keys: %s vs %s", k1, k2)
	}
	if len(k1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(k1))
	}
}

func TestIdempotencyKey_SubSecondAndSubPrecisionCollapse(t *testing.T) {
	at := time.Date(2024, 3, 10, 8, 15, 30, 0, time.UTC)

	// Same second, different nanoseconds.
	k1 := IdempotencyKey("emp-1", "sess-1", at, -6.20881, 106.84559)
	k2 := IdempotencyKey("emp-1", "sess-1", at.Add(400*time.Millisecond), -6.20881, 106.84559)
	if k1 != k2 {
		t.Error("sub-second difference should collapse to one key")
	}

	// Coordinates equal after rounding to 5 decimals.
	k3 := IdempotencyKey("emp-1", "sess-1", at, -6.208810004, 106.845589996)
	if k1 != k3 {
		t.Error("sub-precision coordinate difference should collapse to one key")
	}
}

func TestIdempotencyKey_DistinctInputs(t *testing.T) {
	at := time.Date(2024, 3, 10, 8, 15, 30, 0, time.UTC)
	base := IdempotencyKey("emp-1", "sess-1", at, -6.20881, 106.84559)

	variants := []string{
		IdempotencyKey("emp-2", "sess-1", at, -6.20881, 106.84559),
		IdempotencyKey("emp-1", "sess-2", at, -6.20881, 106.84559),
		IdempotencyKey("emp-1", "sess-1", at.Add(time.Second), -6.20881, 106.84559),
		IdempotencyKey("emp-1", "sess-1", at, -6.20882, 106.84559),
		IdempotencyKey("emp-1", "sess-1", at, -6.20881, 106.84560),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d should produce a different key", i)
		}
	}
}
