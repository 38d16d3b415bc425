// Package timeaxis derives acquisition times from image filenames and
// expresses them as days elapsed since the first image of a run.
package timeaxis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrFilenameFormat is returned when a filename does not start with a
// "YYYY-MM-DD (HH-mm-ss-mmm)" timestamp
var ErrFilenameFormat = errors.New("filename does not carry a timestamp")

const secondsPerDay = 86400

// Parse reads the timestamp at the start of filename, for example
// "2024-01-02 (03-04-05-006)_plate.png". The date needs exactly two hyphens
// and the parenthesized time exactly three.
func Parse(filename string) (time.Time, error) {
	parts := strings.SplitN(filename, " ", 2)
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("%w: %q has no date and time tokens", ErrFilenameFormat, filename)
	}

	date := parts[0]
	if strings.Count(date, "-") != 2 {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrFilenameFormat, date)
	}

	clock := parts[1]
	if i := strings.Index(clock, "-("); i >= 0 {
		clock = clock[:i]
	}
	clock = strings.TrimLeft(clock, "(")
	if i := strings.IndexByte(clock, ')'); i >= 0 {
		clock = clock[:i]
	} else {
		return time.Time{}, fmt.Errorf("%w: unterminated time in %q", ErrFilenameFormat, filename)
	}
	if strings.Count(clock, "-") != 3 {
		return time.Time{}, fmt.Errorf("%w: invalid time %q", ErrFilenameFormat, clock)
	}

	d, err := fields(date)
	if err != nil {
		return time.Time{}, err
	}
	c, err := fields(clock)
	if err != nil {
		return time.Time{}, err
	}

	ts := time.Date(d[0], time.Month(d[1]), d[2], c[0], c[1], c[2], c[3]*int(time.Millisecond), time.UTC)
	// time.Date normalizes out-of-range fields; reject those instead
	if ts.Year() != d[0] || int(ts.Month()) != d[1] || ts.Day() != d[2] ||
		ts.Hour() != c[0] || ts.Minute() != c[1] || ts.Second() != c[2] || c[3] < 0 || c[3] > 999 {
		return time.Time{}, fmt.Errorf("%w: out of range timestamp %s (%s)", ErrFilenameFormat, date, clock)
	}
	return ts, nil
}

func fields(s string) ([]int, error) {
	tokens := strings.Split(s, "-")
	out := make([]int, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric field %q", ErrFilenameFormat, tok)
		}
		out[i] = v
	}
	return out, nil
}

// Builder assigns elapsed days relative to the first timestamp it accepts.
// The zero value is ready to use.
type Builder struct {
	epoch time.Time
	set   bool
}

// Elapsed parses filename and returns the days since the run epoch. The first
// successful call fixes the epoch, so it returns 0. Failed parses leave the
// epoch unset.
func (b *Builder) Elapsed(filename string) (time.Time, float64, error) {
	ts, err := Parse(filename)
	if err != nil {
		return time.Time{}, 0, err
	}
	if !b.set {
		b.epoch = ts
		b.set = true
	}
	return ts, Days(ts.Sub(b.epoch)), nil
}

// Epoch returns the first accepted timestamp
func (b *Builder) Epoch() (time.Time, bool) {
	return b.epoch, b.set
}

// Days converts d to fractional days at millisecond precision
func Days(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000 / secondsPerDay
}

// FormatDays renders elapsed days with three decimals
func FormatDays(days float64) string {
	return strconv.FormatFloat(days, 'f', 3, 64)
}
