package util

import (
	"math"
	"testing"
)

func TestSafeInt64Diff(t *testing.T) {
	if got := SafeInt64Diff(10, 3); got != 7 {
		t.Errorf("SafeInt64Diff(10,3) = %d, want 7", got)
	}
	if got := SafeInt64Diff(3, 10); got != 0 {
		t.Errorf("SafeInt64Diff(3,10) = %d, want 0 (underflow guard)", got)
	}
	if got := SafeInt64Diff(math.MaxUint64, 0); got != 0 {
		t.Errorf("SafeInt64Diff(MaxUint64,0) = %d, want 0 (overflow guard)", got)
	}
}

func TestSafeUint64(t *testing.T) {
	if got := SafeUint64(42); got != 42 {
		t.Errorf("SafeUint64(42) = %d, want 42", got)
	}
	if got := SafeUint64(-1); got != 0 {
		t.Errorf("SafeUint64(-1) = %d, want 0", got)
	}
}

func TestSafeInt32(t *testing.T) {
	if got := SafeInt32(100); got != 100 {
		t.Errorf("SafeInt32(100) = %d, want 100", got)
	}
	if got := SafeInt32(math.MaxInt64); got != math.MaxInt32 {
		t.Errorf("SafeInt32(MaxInt64) = %d, want MaxInt32", got)
	}
	if got := SafeInt32(math.MinInt64); got != math.MinInt32 {
		t.Errorf("SafeInt32(MinInt64) = %d, want MinInt32", got)
	}
}
