package results

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"siperea/internal/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer file.Close()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", path, err)
	}
	return rows
}

func record(name string, days float64, counts ...models.AreaCount) models.TimeSeriesRecord {
	rec := models.TimeSeriesRecord{Filename: name, ElapsedDays: days}
	for _, c := range counts {
		rec.Areas.Set(c.Label, c.Pixels)
	}
	return rec
}

// TestAreaWriterHeaderOnce verifies a single header and positional rows
func TestAreaWriterHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultArea.csv")
	os.WriteFile(path, []byte("stale,content\n"), 0644)

	w := NewAreaWriter(path)
	if w.Path() != path {
		t.Errorf("Expected destination %s, got %s", path, w.Path())
	}
	if err := w.Write(record("a.png", 0, models.AreaCount{Label: "A||P1", Pixels: 10}, models.AreaCount{Label: "B||P2", Pixels: 20})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Rows are on disk after every write
	rows := readCSV(t, path)
	if len(rows) != 2 {
		t.Fatalf("Expected header and one row, got %d rows", len(rows))
	}

	// Order of the second record differs from the header
	if err := w.Write(record("b.png", 1.25, models.AreaCount{Label: "B||P2", Pixels: 7}, models.AreaCount{Label: "A||P1", Pixels: 3})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rows = readCSV(t, path)
	want := [][]string{
		{"File name", "Time(day)", "A||P1", "B||P2"},
		{"a.png", "0.000", "10", "20"},
		{"b.png", "1.250", "3", "7"},
	}
	if len(rows) != len(want) {
		t.Fatalf("Expected %d rows, got %d", len(want), len(rows))
	}
	for i := range want {
		if strings.Join(rows[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("Row %d: expected %v, got %v", i, want[i], rows[i])
		}
	}
}

// TestAreaWriterMissingColumns verifies unknown labels are dropped
func TestAreaWriterMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "resultArea.csv")
	w := NewAreaWriter(path)
	w.Write(record("a.png", 0, models.AreaCount{Label: "Total", Pixels: 5}))
	w.Write(record("b.png", 0.5, models.AreaCount{Label: "Other", Pixels: 9}))

	rows := readCSV(t, path)
	if len(rows[2]) != 3 || rows[2][2] != "" {
		t.Errorf("Expected an empty Total cell, got %v", rows[2])
	}
	if len(w.Header()) != 3 {
		t.Errorf("Expected 3 header columns, got %v", w.Header())
	}
}

// TestAppendTime verifies the two-column latency report
func TestAppendTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysisTimeReport.csv")
	if err := AppendTime(path, "a.png", 1234*time.Millisecond); err != nil {
		t.Fatalf("AppendTime failed: %v", err)
	}
	AppendTime(path, "b.png", 50*time.Millisecond)

	rows := readCSV(t, path)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "a.png" || rows[0][1] != "1.23" {
		t.Errorf("Unexpected first row %v", rows[0])
	}
	if rows[1][1] != "0.05" {
		t.Errorf("Unexpected second row %v", rows[1])
	}
}
