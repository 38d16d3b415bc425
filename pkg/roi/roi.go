// Package roi tallies foreground mask pixels inside rectangle and circle regions of interest.
package roi

import (
	"image"
	"strconv"
	"strings"

	"siperea/internal/models"
)

// Foreground is the mask value counted as target coverage
const Foreground = 255

// LabelSeparator joins the descriptive parts of a ROI label
const LabelSeparator = "||"

// TotalLabel names the synthetic whole-image ROI used without a ROI table
const TotalLabel = "Total"

// Shape is the geometry of a region
type Shape int

const (
	Rectangle Shape = iota
	Circle
)

// ParseShape maps a table value to a Shape. Anything but "circle" is a rectangle.
func ParseShape(s string) Shape {
	if strings.EqualFold(strings.TrimSpace(s), "circle") {
		return Circle
	}
	return Rectangle
}

func (s Shape) String() string {
	if s == Circle {
		return "circle"
	}
	return "rectangle"
}

// ROI is one row of the region table. The descriptive fields are optional;
// nil means the cell was empty.
type ROI struct {
	Shape  Shape
	X1, Y1 int
	X2, Y2 int

	Condition1 *string
	Condition2 *string
	Plate      *int
}

// Label joins the present descriptive fields with LabelSeparator; the plate is
// rendered with a "P" prefix
func (r ROI) Label() string {
	var parts []string
	if r.Condition1 != nil {
		parts = append(parts, *r.Condition1)
	}
	if r.Condition2 != nil {
		parts = append(parts, *r.Condition2)
	}
	if r.Plate != nil {
		parts = append(parts, "P"+strconv.Itoa(*r.Plate))
	}
	return strings.Join(parts, LabelSeparator)
}

// Bounds returns the count region: the ROI box with an inclusive max corner,
// clipped to the mask
func (r ROI) Bounds(mask image.Rectangle) image.Rectangle {
	w, h := mask.Dx(), mask.Dy()
	x1 := clamp(r.X1, 0, w)
	y1 := clamp(r.Y1, 0, h)
	x2 := clamp(r.X2+1, 0, w)
	y2 := clamp(r.Y2+1, 0, h)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2).Add(mask.Min)
}

// Count returns the number of foreground pixels of mask inside the ROI.
//
// A circle is inscribed in the clipped box: its centre is (width/2, height/2) relative to
// the box and its radius is min(width, height)/2 + 1, using integer division. Pixels with
// squared distance to the centre <= radius² are counted.
func Count(mask *image.Gray, r ROI) int {
	box := r.Bounds(mask.Bounds())
	if box.Empty() {
		return 0
	}

	count := 0
	switch r.Shape {
	case Circle:
		w, h := box.Dx(), box.Dy()
		cx, cy := w/2, h/2
		radius := min(w, h)/2 + 1
		r2 := radius * radius
		for y := 0; y < h; y++ {
			dy := y - cy
			row := mask.Pix[mask.PixOffset(box.Min.X, box.Min.Y+y):]
			for x := 0; x < w; x++ {
				dx := x - cx
				if dx*dx+dy*dy <= r2 && row[x] == Foreground {
					count++
				}
			}
		}
	default:
		for y := box.Min.Y; y < box.Max.Y; y++ {
			row := mask.Pix[mask.PixOffset(box.Min.X, y) : mask.PixOffset(box.Min.X, y)+box.Dx()]
			for _, v := range row {
				if v == Foreground {
					count++
				}
			}
		}
	}
	return count
}

// WholeImage is the synthetic ROI covering the entire mask
func WholeImage(mask image.Rectangle) ROI {
	label := TotalLabel
	return ROI{
		Shape:      Rectangle,
		X2:         mask.Dx(),
		Y2:         mask.Dy(),
		Condition1: &label,
	}
}

// Quantify counts every ROI of the table over mask. A nil table falls back to the
// single whole-image ROI labeled TotalLabel.
func Quantify(mask *image.Gray, table *Table) models.AreaResult {
	var result models.AreaResult
	if table == nil {
		result.Set(TotalLabel, Count(mask, WholeImage(mask.Bounds())))
		return result
	}
	for _, r := range table.ROIs {
		result.Set(r.Label(), Count(mask, r))
	}
	return result
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
