package media

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// blockImage draws a deterministic pattern of random gray blocks.
func blockImage(seed uint64, w, h, block int) *image.Gray {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(rng.IntN(256))
			for y := by; y < min(by+block, h); y++ {
				for x := bx; x < min(bx+block, w); x++ {
					img.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeJPEG(t *testing.T, path string, img image.Image, quality int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatal(err)
	}
}

func TestDHashGradient(t *testing.T) {
	t.Parallel()

	rising := image.NewGray(image.Rect(0, 0, 90, 80))
	falling := image.NewGray(image.Rect(0, 0, 90, 80))
	for y := range 80 {
		for x := range 90 {
			rising.SetGray(x, y, color.Gray{Y: uint8(x * 2)})
			falling.SetGray(x, y, color.Gray{Y: uint8(255 - x*2)})
		}
	}

	if got := DHash(rising); got != 0 {
		t.Errorf("DHash(rising) = %016x, want 0", got)
	}
	if got := DHash(falling); got != ^uint64(0) {
		t.Errorf("DHash(falling) = %016x, want all ones", got)
	}
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0xFF, 0x0F, 4},
		{0, ^uint64(0), 64},
	}
	for _, tt := range tests {
		if got := HammingDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("HammingDistance(%x, %x) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFingerprintSurvivesReencode(t *testing.T) {
	dir := t.TempDir()
	img := blockImage(1, 320, 240, 40)

	original := filepath.Join(dir, "photo.png")
	reencoded := filepath.Join(dir, "photo.jpg")
	other := filepath.Join(dir, "other.png")
	writePNG(t, original, img)
	writeJPEG(t, reencoded, img, 90)
	writePNG(t, other, blockImage(2, 320, 240, 40))

	a, err := Fingerprint(original)
	if err != nil {
		t.Fatalf("Fingerprint(png) failed: %v", err)
	}
	b, err := Fingerprint(reencoded)
	if err != nil {
		t.Fatalf("Fingerprint(jpeg) failed: %v", err)
	}
	c, err := Fingerprint(other)
	if err != nil {
		t.Fatalf("Fingerprint(other) failed: %v", err)
	}

	if d := HammingDistance(a, b); d > 10 {
		t.Errorf("re-encoded copy distance = %d, want <= 10", d)
	}
	if d := HammingDistance(a, c); d <= 10 {
		t.Errorf("unrelated image distance = %d, want > 10", d)
	}
}

func TestFingerprintUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icon.svg")
	if err := os.WriteFile(path, []byte("<svg/>"), 0o600); err != nil {
		t.Fatal(err)
	}
	if IsVipsAvailable() {
		t.Skip("libvips may decode svg")
	}
	if _, err := Fingerprint(path); err == nil {
		t.Error("Fingerprint(svg) should fail without libvips")
	}
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	if err := os.WriteFile(a, []byte("same bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	ha, err := ContentHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := ContentHash(b)
	if ha != hb {
		t.Error("identical content should hash identically")
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(ha))
	}

	if err := os.WriteFile(b, []byte("other bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if hb, _ := ContentHash(b); hb == ha {
		t.Error("different content should hash differently")
	}
}

func TestConstrainedSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
		wantScaled    bool
	}{
		{"within limits", 800, 600, 800, 600, false},
		{"wide", 8192, 4096, 4096, 2048, true},
		{"tall", 1000, 8000, 512, 4096, true},
		{"pixel cap", 4000, 4000, 3535, 3535, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, h, scaled := constrainedSize(tt.width, tt.height, 4096, 12_500_000)
			if w != tt.wantW || h != tt.wantH || scaled != tt.wantScaled {
				t.Errorf("constrainedSize() = %d x %d (%v), want %d x %d (%v)", w, h, scaled, tt.wantW, tt.wantH, tt.wantScaled)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "2024", "05"), 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(root, "2024", "05", "photo.png"), blockImage(3, 64, 48, 8))

	facts, err := Probe(root, "2024/05/photo.png", ProbeOptions{Fingerprint: true})
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if facts.Width != 64 || facts.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", facts.Width, facts.Height)
	}
	if facts.MimeType != "image/png" || facts.Size == 0 || facts.ContentHash == "" {
		t.Errorf("facts = %+v", facts)
	}
	if facts.Fingerprint == nil {
		t.Error("fingerprint should be computed")
	}

	if _, err := Probe(root, "2024/05/missing.png", ProbeOptions{}); err == nil {
		t.Error("Probe() of a missing file should fail")
	}
}
