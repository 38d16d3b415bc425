package imageio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

// TestListImages verifies sorting, case-insensitive extensions and skipped entries
func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "notes.txt", "c.tiff"} {
		os.WriteFile(filepath.Join(dir, name), nil, 0644)
	}
	os.Mkdir(filepath.Join(dir, "d.png"), 0755)

	files, err := ListImages(dir, AnalysisExtensions)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}
	want := []string{"a.jpg", "b.PNG", "c.tiff"}
	if len(files) != len(want) {
		t.Fatalf("Expected %v, got %v", want, files)
	}
	for i, name := range want {
		if filepath.Base(files[i]) != name {
			t.Errorf("Entry %d: expected %s, got %s", i, name, files[i])
		}
	}

	files, _ = ListImages(dir, TrainingExtensions)
	if len(files) != 2 {
		t.Errorf("Expected tiff to be excluded from training, got %v", files)
	}
}

// TestRasterTile verifies normalization and zero padding past the edges
func TestRasterTile(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.SetRGBA(2, 1, color.RGBA{R: 255, G: 51, B: 0, A: 255})
	r := NewRaster(img)

	i := (1*3 + 2) * 3
	if r.Pix[i] != 1 || r.Pix[i+1] != 0.2 || r.Pix[i+2] != 0 {
		t.Errorf("Unexpected normalized pixel %v", r.Pix[i:i+3])
	}

	tile := r.Tile(1, 0, 4)
	if len(tile) != 4*4*3 {
		t.Fatalf("Expected %d values, got %d", 4*4*3, len(tile))
	}
	// (2,1) of the image is (1,1) of the tile
	if tile[(1*4+1)*3] != 1 {
		t.Error("Expected copied pixel inside the tile")
	}
	for y := 0; y < 4; y++ {
		for x := 2; x < 4; x++ {
			if tile[(y*4+x)*3] != 0 {
				t.Fatalf("Expected zero padding at (%d,%d)", x, y)
			}
		}
	}
}

// TestMaskHelpers verifies the > 127 rule and the binary check
func TestMaskHelpers(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(mask.Pix, []uint8{0, 127, 128, 255})

	values := MaskValues(mask)
	want := []float32{0, 0, 1, 1}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("Pixel %d: expected %v, got %v", i, want[i], values[i])
		}
	}

	if ok, seen := IsBinary(mask); ok || len(seen) != 4 {
		t.Errorf("Expected non-binary with 4 values, got %v %v", ok, seen)
	}
	copy(mask.Pix, []uint8{0, 255, 255, 0})
	if ok, _ := IsBinary(mask); !ok {
		t.Error("Expected binary mask")
	}
}

// TestSaveAndLoad verifies a PNG round trip into a new directory
func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "mask.png")
	mask := GrayFromValues([]float32{0, 0.5, 1, 2}, 2, 2)
	if err := SavePNG(path, mask); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}
	loaded, err := LoadGray(path)
	if err != nil {
		t.Fatalf("LoadGray failed: %v", err)
	}
	want := []uint8{0, 128, 255, 255}
	for i, v := range want {
		if loaded.Pix[i] != v {
			t.Errorf("Pixel %d: expected %d, got %d", i, v, loaded.Pix[i])
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}
}
