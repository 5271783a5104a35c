package asdu

import (
	"testing"
	"time"
)

func TestCP56Time2aRoundTrip(t *testing.T) {
	loc := time.UTC
	want := time.Date(2024, time.January, 15, 12, 34, 56, 789_000_000, loc)

	enc := SetCP56Time2a(want)
	if enc.Invalid() {
		t.Fatalf("encoded time marked invalid")
	}
	got := enc.Time(loc)
	if !got.Equal(want) {
		t.Fatalf("round-trip mismatch: got %v, want %v", got, want)
	}

	// minute/hour/month/year bytes per spec.md scenario 5.
	if enc[2] != 0x22 {
		t.Errorf("minute byte = %#x, want 0x22", enc[2])
	}
	if enc[3] != 0x0c {
		t.Errorf("hour byte = %#x, want 0x0c", enc[3])
	}
	if enc[5] != 0x01 {
		t.Errorf("month byte = %#x, want 0x01", enc[5])
	}
	if enc[6] != 0x18 {
		t.Errorf("year byte = %#x, want 0x18", enc[6])
	}
}

func TestCP56Time2aInvalid(t *testing.T) {
	enc := SetCP56Time2a(time.Time{})
	if !enc.Invalid() {
		t.Fatalf("zero time must encode as invalid")
	}
	if got := enc.Time(time.UTC); !got.IsZero() {
		t.Fatalf("decoding an invalid CP56Time2a must yield the zero time, got %v", got)
	}
}

func TestCP24Time2aRoundTrip(t *testing.T) {
	ref := time.Date(2024, time.January, 15, 12, 34, 56, 789_000_000, time.UTC)
	enc := SetCP24Time2a(ref)
	got := enc.WithinHourBefore(ref)
	if !got.Equal(ref) {
		t.Fatalf("round-trip mismatch: got %v, want %v", got, ref)
	}
}

func TestCP24Time2aCrossesHourBoundary(t *testing.T) {
	// Encode a moment at minute 59 of the previous hour, decode relative
	// to a reference a few seconds into the next hour.
	prev := time.Date(2024, time.January, 15, 11, 59, 58, 0, time.UTC)
	ref := time.Date(2024, time.January, 15, 12, 0, 2, 0, time.UTC)

	enc := SetCP24Time2a(prev)
	got := enc.WithinHourBefore(ref)
	if !got.Equal(prev) {
		t.Fatalf("cross-hour round-trip mismatch: got %v, want %v", got, prev)
	}
}
