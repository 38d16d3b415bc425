// Package results streams per-image area rows and processing times to CSV files.
package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"siperea/internal/models"
	"siperea/pkg/timeaxis"
)

// Fixed leading columns of the area result file
const (
	ColFileName = "File name"
	ColTime     = "Time(day)"
)

// AreaWriter appends one row per analyzed image. The first row truncates the
// file and writes the header; its labels fix the column order for the run.
// Every row is flushed to disk before Write returns.
type AreaWriter struct {
	path   string
	header []string
	index  map[string]int
}

// NewAreaWriter prepares a writer for path. No file is touched until the first row.
func NewAreaWriter(path string) *AreaWriter {
	return &AreaWriter{path: path}
}

// Path returns the destination file
func (w *AreaWriter) Path() string {
	return w.path
}

// Header returns the columns written so far, or nil before the first row
func (w *AreaWriter) Header() []string {
	return w.header
}

// Write appends rec. Labels absent from the header are dropped and header
// labels missing from rec are left empty.
func (w *AreaWriter) Write(rec models.TimeSeriesRecord) error {
	first := w.header == nil
	flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if first {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}
	file, err := os.OpenFile(w.path, flag, 0644)
	if err != nil {
		return fmt.Errorf("failed to open result file: %w", err)
	}
	defer file.Close()

	out := csv.NewWriter(file)
	if first {
		header := append([]string{ColFileName, ColTime}, rec.Areas.Labels()...)
		if err := out.Write(header); err != nil {
			return fmt.Errorf("failed to write result header: %w", err)
		}
		w.header = header
		w.index = make(map[string]int, len(header))
		for i, name := range header {
			w.index[name] = i
		}
	}

	row := make([]string, len(w.header))
	row[0] = rec.Filename
	row[1] = timeaxis.FormatDays(rec.ElapsedDays)
	for _, c := range rec.Areas.Counts {
		if i, ok := w.index[c.Label]; ok && i >= 2 {
			row[i] = strconv.Itoa(c.Pixels)
		}
	}
	if err := out.Write(row); err != nil {
		return fmt.Errorf("failed to write result row: %w", err)
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("failed to flush result row: %w", err)
	}
	return file.Close()
}

// AppendTime adds "filename,seconds" to the processing time report at path
func AppendTime(path, filename string, elapsed time.Duration) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open time report: %w", err)
	}
	defer file.Close()

	out := csv.NewWriter(file)
	out.Write([]string{filename, strconv.FormatFloat(elapsed.Seconds(), 'f', 2, 64)})
	out.Flush()
	return out.Error()
}
