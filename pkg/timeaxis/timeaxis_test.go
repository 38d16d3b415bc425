package timeaxis

import (
	"errors"
	"math"
	"testing"
	"time"
)

// TestParse verifies the date and millisecond time fields
func TestParse(t *testing.T) {
	ts, err := Parse("2024-01-02 (03-04-05-006)_x.png")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.UTC)
	if !ts.Equal(want) {
		t.Errorf("Expected %v, got %v", want, ts)
	}

	// A suffix after the closing parenthesis and a "-(" counter are ignored
	ts, err = Parse("2023-12-31 (23-59-59-999)-(2).jpg")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ts.Year() != 2023 || ts.Nanosecond() != 999*int(time.Millisecond) {
		t.Errorf("Unexpected timestamp %v", ts)
	}
}

// TestParseMalformed verifies rejected names wrap ErrFilenameFormat
func TestParseMalformed(t *testing.T) {
	names := []string{
		"plate.png",
		"2024-01 (03-04-05-006).png",
		"2024-01-02 (03-04-05).png",
		"2024-01-02 (03-04-05-006.png",
		"2024-01-xx (03-04-05-006).png",
		"2024-02-30 (03-04-05-006).png",
		"2024-01-02 (25-04-05-006).png",
	}
	for _, name := range names {
		if _, err := Parse(name); !errors.Is(err, ErrFilenameFormat) {
			t.Errorf("%q: expected ErrFilenameFormat, got %v", name, err)
		}
	}
}

// TestBuilderEpoch verifies the first parsed image defines day zero
func TestBuilderEpoch(t *testing.T) {
	var b Builder

	if _, _, err := b.Elapsed("broken.png"); err == nil {
		t.Fatal("Expected error for malformed name")
	}
	if _, ok := b.Epoch(); ok {
		t.Fatal("Failed parse must not set the epoch")
	}

	_, first, err := b.Elapsed("2024-01-02 (03-04-05-006)_a.png")
	if err != nil {
		t.Fatalf("Elapsed failed: %v", err)
	}
	if FormatDays(first) != "0.000" {
		t.Errorf("Expected 0.000 for the first record, got %s", FormatDays(first))
	}

	_, later, err := b.Elapsed("2024-01-03 (15-04-05-006)_b.png")
	if err != nil {
		t.Fatalf("Elapsed failed: %v", err)
	}
	if FormatDays(later) != "1.500" {
		t.Errorf("Expected 1.500 days, got %s", FormatDays(later))
	}

	// Images before the epoch yield negative days
	_, earlier, _ := b.Elapsed("2024-01-01 (03-04-05-006)_c.png")
	if FormatDays(earlier) != "-1.000" {
		t.Errorf("Expected -1.000 days, got %s", FormatDays(earlier))
	}
}

// TestDaysPrecision verifies sub-millisecond parts are dropped
func TestDaysPrecision(t *testing.T) {
	d := 12*time.Hour + 1500*time.Microsecond
	want := (12*3600 + 0.001) / 86400.0
	if got := Days(d); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
