package models

import (
	"time"
)

// AreaCount is the foreground pixel tally of a single labeled region
type AreaCount struct {
	// Label is the composite ROI label used as the result column name
	Label string

	// Pixels is the number of foreground (255) mask pixels inside the region
	Pixels int
}

// AreaResult holds the per-image counts in ROI table order.
// Labels are unique; a repeated label overwrites the earlier count in place.
type AreaResult struct {
	Counts []AreaCount
}

// Set records the count for label, keeping the position of the first occurrence
func (r *AreaResult) Set(label string, pixels int) {
	for i := range r.Counts {
		if r.Counts[i].Label == label {
			r.Counts[i].Pixels = pixels
			return
		}
	}
	r.Counts = append(r.Counts, AreaCount{Label: label, Pixels: pixels})
}

// Get returns the count stored under label
func (r *AreaResult) Get(label string) (int, bool) {
	for _, c := range r.Counts {
		if c.Label == label {
			return c.Pixels, true
		}
	}
	return 0, false
}

// Labels returns the column labels in order
func (r *AreaResult) Labels() []string {
	labels := make([]string, len(r.Counts))
	for i, c := range r.Counts {
		labels[i] = c.Label
	}
	return labels
}

// TimeSeriesRecord is one row of the area time-series
type TimeSeriesRecord struct {
	// Filename is the base name of the analyzed image
	Filename string

	// Timestamp is the acquisition time parsed from the filename
	Timestamp time.Time

	// ElapsedDays is the time since the first parsed image of the run, in days
	ElapsedDays float64

	// Areas holds the ROI counts for the image
	Areas AreaResult
}
