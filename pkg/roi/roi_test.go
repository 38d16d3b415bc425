package roi

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// filledMask returns a w x h mask with every pixel set to foreground
func filledMask(w, h int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i := range mask.Pix {
		mask.Pix[i] = Foreground
	}
	return mask
}

// TestLabel verifies optional fields are omitted, not rendered empty
func TestLabel(t *testing.T) {
	r := ROI{Condition1: strPtr("A"), Plate: intPtr(3)}
	if got := r.Label(); got != "A||P3" {
		t.Errorf("Expected A||P3, got %q", got)
	}

	full := ROI{Condition1: strPtr("Control"), Condition2: strPtr("N+"), Plate: intPtr(12)}
	if got := full.Label(); got != "Control||N+||P12" {
		t.Errorf("Expected Control||N+||P12, got %q", got)
	}

	if got := (ROI{}).Label(); got != "" {
		t.Errorf("Expected empty label, got %q", got)
	}
}

// TestCountRectangleInclusive verifies the inclusive upper corner
func TestCountRectangleInclusive(t *testing.T) {
	mask := filledMask(20, 10)
	r := ROI{Shape: Rectangle, X1: 2, Y1: 3, X2: 5, Y2: 4}
	if got := Count(mask, r); got != 4*2 {
		t.Errorf("Expected 8 pixels, got %d", got)
	}

	// Boxes past the image are clipped
	r = ROI{Shape: Rectangle, X1: 15, Y1: 5, X2: 100, Y2: 100}
	if got := Count(mask, r); got != 5*5 {
		t.Errorf("Expected 25 clipped pixels, got %d", got)
	}

	// Only foreground pixels count
	mask.Pix[mask.PixOffset(2, 3)] = 0
	mask.Pix[mask.PixOffset(3, 3)] = 128
	r = ROI{Shape: Rectangle, X1: 2, Y1: 3, X2: 5, Y2: 4}
	if got := Count(mask, r); got != 6 {
		t.Errorf("Expected 6 pixels, got %d", got)
	}
}

// TestCountRectangleMonotonic verifies counts never shrink as the box grows
func TestCountRectangleMonotonic(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range mask.Pix {
		if i%3 == 0 {
			mask.Pix[i] = Foreground
		}
	}
	prev := -1
	for size := 0; size < 45; size++ {
		got := Count(mask, ROI{Shape: Rectangle, X1: 5, Y1: 5, X2: 5 + size, Y2: 5 + size})
		if got < prev {
			t.Fatalf("Count decreased from %d to %d at size %d", prev, got, size)
		}
		prev = got
	}
}

// TestCountCircle verifies the inscribed circle geometry and its bound by the box
func TestCountCircle(t *testing.T) {
	mask := filledMask(50, 50)

	// 11x11 box: centre (5,5), radius 6, so the corners at distance² 50 are excluded
	circle := ROI{Shape: Circle, X1: 10, Y1: 10, X2: 20, Y2: 20}
	rect := circle
	rect.Shape = Rectangle

	c := Count(mask, circle)
	r := Count(mask, rect)
	if r != 121 {
		t.Fatalf("Expected 121 rectangle pixels, got %d", r)
	}
	if c > r {
		t.Errorf("Circle count %d exceeds bounding rectangle %d", c, r)
	}

	want := 0
	for y := 0; y < 11; y++ {
		for x := 0; x < 11; x++ {
			if (x-5)*(x-5)+(y-5)*(y-5) <= 36 {
				want++
			}
		}
	}
	if c != want {
		t.Errorf("Expected %d circle pixels, got %d", want, c)
	}
	if c == r {
		t.Error("Expected the circle to exclude the box corners")
	}

	// Random masks keep the circle below the rectangle as well
	sparse := image.NewGray(image.Rect(0, 0, 30, 30))
	for i := range sparse.Pix {
		if (i*31)%7 < 3 {
			sparse.Pix[i] = Foreground
		}
	}
	for _, box := range []ROI{{X1: 0, Y1: 0, X2: 29, Y2: 29}, {X1: 3, Y1: 8, X2: 20, Y2: 12}} {
		box.Shape = Circle
		cc := Count(sparse, box)
		box.Shape = Rectangle
		rc := Count(sparse, box)
		if cc > rc {
			t.Errorf("Circle %d exceeds rectangle %d for %+v", cc, rc, box)
		}
	}
}

// TestCountEmptyBox verifies boxes outside the mask count nothing
func TestCountEmptyBox(t *testing.T) {
	mask := filledMask(10, 10)
	if got := Count(mask, ROI{Shape: Circle, X1: 20, Y1: 20, X2: 30, Y2: 30}); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
}

// TestQuantifyFallback verifies the whole-image Total column without a table
func TestQuantifyFallback(t *testing.T) {
	mask := filledMask(7, 5)
	mask.Pix[0] = 0
	result := Quantify(mask, nil)
	if len(result.Counts) != 1 {
		t.Fatalf("Expected one column, got %d", len(result.Counts))
	}
	if got, _ := result.Get(TotalLabel); got != 34 {
		t.Errorf("Expected 34 total pixels, got %d", got)
	}
}

// TestQuantifyTable verifies table order and label keys
func TestQuantifyTable(t *testing.T) {
	mask := filledMask(20, 20)
	table := &Table{ROIs: []ROI{
		{Shape: Rectangle, X1: 0, Y1: 0, X2: 1, Y2: 1, Condition1: strPtr("B"), Plate: intPtr(2)},
		{Shape: Rectangle, X1: 0, Y1: 0, X2: 2, Y2: 2, Condition1: strPtr("A"), Plate: intPtr(1)},
	}}
	result := Quantify(mask, table)
	labels := result.Labels()
	if len(labels) != 2 || labels[0] != "B||P2" || labels[1] != "A||P1" {
		t.Fatalf("Unexpected labels %v", labels)
	}
	if got, _ := result.Get("A||P1"); got != 9 {
		t.Errorf("Expected 9, got %d", got)
	}
}

// TestReadTable verifies parsing, nullable cells and shapes
func TestReadTable(t *testing.T) {
	data := "\uFEFFShape,X1,Y1,X2,Y2,Condition1,Condition2,Plate#\n" +
		"Circle,10,20,110,120,Control,,1\n" +
		"rectangle,0.0,5,50.7,60,A,NaN,3.0\n" +
		",,,,,,,\n" +
		"rect,1,2,3,4,,,\n"

	table, err := ReadTable(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	if len(table.ROIs) != 3 {
		t.Fatalf("Expected 3 ROIs, got %d", len(table.ROIs))
	}

	first := table.ROIs[0]
	if first.Shape != Circle || first.X1 != 10 || first.Y2 != 120 {
		t.Errorf("Unexpected first row %+v", first)
	}
	if first.Label() != "Control||P1" {
		t.Errorf("Expected Control||P1, got %q", first.Label())
	}

	second := table.ROIs[1]
	if second.Shape != Rectangle || second.X2 != 50 {
		t.Errorf("Unexpected second row %+v", second)
	}
	if second.Condition2 != nil {
		t.Error("Expected NaN to be treated as null")
	}
	if second.Label() != "A||P3" {
		t.Errorf("Expected A||P3, got %q", second.Label())
	}

	if table.ROIs[2].Label() != "" {
		t.Errorf("Expected empty label, got %q", table.ROIs[2].Label())
	}
}

// TestReadTableErrors verifies malformed tables are rejected
func TestReadTableErrors(t *testing.T) {
	if _, err := ReadTable(strings.NewReader("Shape,X1,Y1\n")); err == nil {
		t.Error("Expected error for missing columns")
	}
	if _, err := ReadTable(strings.NewReader("Shape,X1,Y1,X2,Y2\ncircle,a,2,3,4\n")); err == nil {
		t.Error("Expected error for non-numeric coordinate")
	}
	if _, err := ReadTable(strings.NewReader("Shape,X1,Y1,X2,Y2,Plate#\ncircle,1,2,3,4,2.5\n")); err == nil {
		t.Error("Expected error for fractional plate")
	}
}

// TestLoadTableMissing verifies an absent ROI file is not an error
func TestLoadTableMissing(t *testing.T) {
	dir := t.TempDir()
	table, err := LoadTable(filepath.Join(dir, "ROI.csv"))
	if err != nil || table != nil {
		t.Errorf("Expected nil table without error, got %v, %v", table, err)
	}

	path := filepath.Join(dir, "present.csv")
	os.WriteFile(path, []byte("Shape,X1,Y1,X2,Y2\ncircle,1,2,3,4\n"), 0644)
	table, err = LoadTable(path)
	if err != nil || table == nil || len(table.ROIs) != 1 {
		t.Errorf("Expected one ROI, got %v, %v", table, err)
	}
}
